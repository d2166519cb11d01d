package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cochaviz/boxes/internal/config"
)

var ConfigDir = config.DefaultConfigDir
var StorageDir = config.DefaultStorageDir

// ConfigFileName is the name of the host configuration file in ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigPath returns the location of the host configuration file.
func ConfigPath() string {
	return filepath.Join(ConfigDir, ConfigFileName)
}

func configFiles() []string {
	return []string{ConfigPath()}
}

// Verify checks that every configuration file exists and loads.
func Verify() error {
	for _, file := range configFiles() {
		if _, err := os.Stat(file); err != nil {
			return fmt.Errorf("file %s does not exist", file)
		}
	}
	if _, err := config.Load(ConfigPath()); err != nil {
		return err
	}
	return nil
}

// Init writes the default configuration and creates the storage layout.
// An existing configuration file is only replaced when force is set.
func Init(force bool) error {
	cfg := config.Default()
	cfg.WorkingDir = filepath.Join(StorageDir, "work")
	cfg.ScriptsDir = filepath.Join(StorageDir, "scripts")
	cfg.KeysDir = filepath.Join(StorageDir, "keys")

	path := ConfigPath()
	if _, err := os.Stat(path); err == nil && !force {
		getLogger().Info("configuration already present", "path", path)
	} else {
		data, err := cfg.Marshal()
		if err != nil {
			return fmt.Errorf("render default configuration: %w", err)
		}
		if err := os.MkdirAll(ConfigDir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", ConfigDir, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		getLogger().Info("wrote default configuration", "path", path)
	}

	for _, dir := range []string{cfg.WorkingDir, cfg.ScriptsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(cfg.KeysDir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", cfg.KeysDir, err)
	}
	return nil
}

// ClearConfig removes the configuration files. Storage is left alone.
func ClearConfig() error {
	getLogger().Info("clearing configuration files")

	for _, file := range configFiles() {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", file, err)
		}
	}
	return nil
}
