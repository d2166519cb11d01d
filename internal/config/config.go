// Package config loads the host configuration for boxes and the per-build
// options files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cochaviz/boxes/internal/artifacts"
	"github.com/cochaviz/boxes/internal/build"
	"github.com/cochaviz/boxes/internal/logging"
)

const (
	// DefaultConfigDir holds the host configuration file.
	DefaultConfigDir = "/etc/boxes"
	// DefaultStorageDir holds working directories, scripts and keys.
	DefaultStorageDir = "/var/lib/boxes"
	// DefaultNetwork is the libvirt network qemu builds attach to when a
	// connection is configured without one.
	DefaultNetwork = "default"
)

// LibvirtConfig configures the preflight for libvirt backed builds. The
// preflight is disabled while ConnectURI is empty.
type LibvirtConfig struct {
	ConnectURI string `yaml:"connect_uri"`
	Network    string `yaml:"network"`
	NetworkXML string `yaml:"network_xml,omitempty"`
}

// LogConfig sets the default log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config models the host configuration file.
type Config struct {
	WorkingDir           string                      `yaml:"working_dir"`
	EnvironmentVars      EnvironmentVars             `yaml:"environment_vars,omitempty"`
	Tool                 string                      `yaml:"tool"`
	ScriptsDir           string                      `yaml:"scripts_dir"`
	KeysDir              string                      `yaml:"keys_dir"`
	TemplatesDir         string                      `yaml:"templates_dir,omitempty"`
	FailOnValidateStderr bool                        `yaml:"fail_on_validate_stderr"`
	CloudInitSeed        bool                        `yaml:"cloud_init_seed"`
	Libvirt              LibvirtConfig               `yaml:"libvirt"`
	ObjectStore          artifacts.ObjectStoreConfig `yaml:"object_store,omitempty"`
	Log                  LogConfig                   `yaml:"log"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		WorkingDir: filepath.Join(DefaultStorageDir, "work"),
		Tool:       build.DefaultTool,
		ScriptsDir: filepath.Join(DefaultStorageDir, "scripts"),
		KeysDir:    filepath.Join(DefaultStorageDir, "keys"),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path on top of the defaults. Relative paths in the file are
// resolved against the file's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := decodeStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Config{}, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	cfg.normalize(base)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks the values Load cannot repair.
func (c Config) Validate() error {
	if strings.TrimSpace(c.WorkingDir) == "" {
		return errors.New("working_dir is required")
	}
	if strings.TrimSpace(c.Tool) == "" {
		return errors.New("tool is required")
	}
	for i, v := range c.EnvironmentVars {
		if v.Key == "" || strings.Contains(v.Key, "=") {
			return fmt.Errorf("environment_vars[%d]: invalid name %q", i, v.Key)
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := logging.ParseMode(c.Log.Format); err != nil {
		return fmt.Errorf("log.format: %w", err)
	}
	if c.ObjectStore.Enabled() {
		if err := c.ObjectStore.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LibvirtEnabled reports whether builds should run the libvirt preflight.
func (c Config) LibvirtEnabled() bool {
	return c.Libvirt.ConnectURI != ""
}

// Settings returns the build settings described by c.
func (c Config) Settings() build.Settings {
	return build.Settings{
		WorkingDir:           c.WorkingDir,
		EnvironmentVars:      append([]build.EnvVar(nil), c.EnvironmentVars...),
		FailOnValidateStderr: c.FailOnValidateStderr,
		CloudInitSeed:        c.CloudInitSeed,
		Tool:                 c.Tool,
	}
}

func (c *Config) normalize(base string) {
	c.Tool = strings.TrimSpace(c.Tool)
	if c.Tool == "" {
		c.Tool = build.DefaultTool
	}
	for _, p := range []*string{&c.WorkingDir, &c.ScriptsDir, &c.KeysDir, &c.TemplatesDir, &c.Libvirt.NetworkXML} {
		*p = resolve(base, *p)
	}
	c.Libvirt.ConnectURI = strings.TrimSpace(c.Libvirt.ConnectURI)
	if c.Libvirt.ConnectURI != "" && c.Libvirt.Network == "" {
		c.Libvirt.Network = DefaultNetwork
	}
}

func resolve(base, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// LoadOptions reads a build options file.
func LoadOptions(path string) (build.Options, error) {
	return LoadOptionsOver(path, build.Options{})
}

// LoadOptionsOver reads a build options file on top of base. Keys absent
// from the file keep their value from base.
func LoadOptionsOver(path string, base build.Options) (build.Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return build.Options{}, fmt.Errorf("options: read %s: %w", path, err)
	}
	opts := base
	if err := decodeStrict(data, &opts); err != nil {
		return build.Options{}, fmt.Errorf("options: parse %s: %w", path, err)
	}
	return opts, nil
}

// decodeStrict rejects unknown keys. An empty document leaves out untouched.
func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
