// Package environment exposes the provisioning scripts and SSH keys available
// to a build on the local host.
package environment

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/cochaviz/boxes/internal/build"
	"github.com/cochaviz/boxes/internal/logging"
)

// ScriptExtension marks provisioning scripts inside ScriptsDir.
const ScriptExtension = ".sh"

// KeysSubdir is the directory under WorkingDir that receives synced keys.
const KeysSubdir = "keys"

// Ensure Local satisfies the build environment interface.
var _ build.Environment = (*Local)(nil)

// Local is an environment backed by directories on the host.
type Local struct {
	ScriptsDir string
	KeysDir    string
	WorkingDir string
	Logger     *slog.Logger

	scanOnce sync.Once
	scripts  []string
	scanErr  error
}

// NewLocal returns an environment reading scripts from scriptsDir and keys
// from keysDir. Keys are synced into workingDir.
func NewLocal(scriptsDir, keysDir, workingDir string, logger *slog.Logger) *Local {
	return &Local{
		ScriptsDir: scriptsDir,
		KeysDir:    keysDir,
		WorkingDir: workingDir,
		Logger:     logger,
	}
}

func (l *Local) logger() *slog.Logger {
	return logging.Ensure(l.Logger).With("component", "environment")
}

// AvailableScripts returns the script names (without extension) found in
// ScriptsDir, sorted. The directory is scanned once.
func (l *Local) AvailableScripts() []string {
	l.scanOnce.Do(func() {
		l.scripts, l.scanErr = scanScripts(l.ScriptsDir)
		if l.scanErr != nil {
			l.logger().Warn("failed to scan scripts", "dir", l.ScriptsDir, "error", l.scanErr)
		}
	})
	return slices.Clone(l.scripts)
}

// ScriptPath returns the absolute location of the script called name.
func (l *Local) ScriptPath(name string) string {
	path := filepath.Join(l.ScriptsDir, name+ScriptExtension)
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// ScanError reports the error hit while scanning ScriptsDir, if any.
func (l *Local) ScanError() error {
	l.AvailableScripts()
	return l.scanErr
}

func scanScripts(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return []string{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return []string{}, err
	}

	scripts := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ScriptExtension) {
			continue
		}
		scripts = append(scripts, strings.TrimSuffix(entry.Name(), ScriptExtension))
	}
	slices.Sort(scripts)
	return scripts, nil
}

// SyncSSHKeys copies every file in KeysDir into WorkingDir/keys. Existing
// files are only overwritten when force is set.
func (l *Local) SyncSSHKeys(force bool) error {
	if l.KeysDir == "" {
		return nil
	}
	if l.WorkingDir == "" {
		return errors.New("working directory is not configured")
	}

	entries, err := os.ReadDir(l.KeysDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			l.logger().Debug("no keys to sync", "dir", l.KeysDir)
			return nil
		}
		return fmt.Errorf("read keys directory: %w", err)
	}

	dest := filepath.Join(l.WorkingDir, KeysSubdir)
	if err := os.MkdirAll(dest, 0o700); err != nil {
		return fmt.Errorf("create keys directory: %w", err)
	}

	logger := l.logger()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		target := filepath.Join(dest, entry.Name())
		if !force {
			if _, err := os.Stat(target); err == nil {
				logger.Debug("keeping existing key", "path", target)
				continue
			}
		}
		if err := copyKey(filepath.Join(l.KeysDir, entry.Name()), target); err != nil {
			return err
		}
		logger.Debug("synced key", "path", target)
	}
	return nil
}

func copyKey(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat key %s: %w", src, err)
	}
	mode := info.Mode().Perm()
	if isPrivateKey(src) {
		mode = 0o600
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open key %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create key %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy key %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile keeps the old mode of an existing file
	return os.Chmod(dst, mode)
}

func isPrivateKey(path string) bool {
	switch filepath.Ext(path) {
	case ".pub", ".txt", ".md":
		return false
	}
	return filepath.Base(path) != "known_hosts" && filepath.Base(path) != "authorized_keys"
}
