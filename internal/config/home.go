package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Environment variables consulted when paths are not configured
const (
	HomeEnv       = "DOCKPIPE_HOME"
	TargetsDirEnv = "DOCKPIPE_TARGETS_DIR"
)

// GetDockpipeHome returns the dockpipe home directory
// Priority order:
//  1. DOCKPIPE_HOME environment variable (if set)
//  2. ~/.dockpipe
//
// The directory is created if it doesn't exist
func GetDockpipeHome() (string, error) {
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get user home directory: %w", err)
	}
	return GetDockpipeHomeWithBase(userHome)
}

// GetDockpipeHomeWithBase is GetDockpipeHome with an explicit base used
// when DOCKPIPE_HOME is unset
func GetDockpipeHomeWithBase(base string) (string, error) {
	home := os.Getenv(HomeEnv)
	if home == "" {
		home = filepath.Join(base, ".dockpipe")
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create dockpipe home directory: %w", err)
	}
	return home, nil
}

// ResolveTargetsDir returns the directory holding target artifacts
// Priority order: configured targets_dir (flag or file), DOCKPIPE_TARGETS_DIR,
// then <home>/targets. The directory is not created.
func (c *Config) ResolveTargetsDir() (string, error) {
	if c.TargetsDir != "" {
		return c.TargetsDir, nil
	}
	if dir := os.Getenv(TargetsDirEnv); dir != "" {
		return dir, nil
	}
	home, err := GetDockpipeHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "targets"), nil
}

// HistoryDBPath returns the history database path, defaulting to
// <home>/history.db
func (c *Config) HistoryDBPath() (string, error) {
	if c.History.DBPath != "" {
		return c.History.DBPath, nil
	}
	home, err := GetDockpipeHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "history.db"), nil
}
