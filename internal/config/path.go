// Package config loads and validates application settings.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// AppName names the configuration and data directories.
const AppName = "smsledger"

// DefaultDatabasePath is where the template bank lives unless configured.
const DefaultDatabasePath = "$HOME/.local/share/" + AppName + "/" + AppName + ".db"

// ExpandPath expands a leading ~ and $VAR references in path.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	return os.ExpandEnv(path)
}

// ConfigDir returns $HOME/.config/smsledger.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", AppName), nil
}

// EnsureParentDir creates the directory holding path.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}
