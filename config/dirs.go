// Package config resolves kaijutsu's on-disk locations (XDG base
// directories) and loads its local configuration file, adapted from the
// teacher's common package data/state/cache-home and local-config
// helpers.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// DataHome returns the directory for kaijutsu's persistent data (the
// SQLite document store, block snapshots). Overridable with
// KAIJUTSU_DATA_HOME.
func DataHome() (string, error) {
	if dir := os.Getenv("KAIJUTSU_DATA_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating kaijutsu data directory from KAIJUTSU_DATA_HOME: %w", err)
		}
		return dir, nil
	}
	dir := filepath.Join(xdg.DataHome, "kaijutsu")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating kaijutsu data directory: %w", err)
	}
	return dir, nil
}

// StateHome returns the directory for kaijutsu's state (logs). Overridable
// with KAIJUTSU_STATE_HOME.
func StateHome() (string, error) {
	if dir := os.Getenv("KAIJUTSU_STATE_HOME"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating kaijutsu state directory from KAIJUTSU_STATE_HOME: %w", err)
		}
		return dir, nil
	}
	dir := filepath.Join(xdg.StateHome, "kaijutsu")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating kaijutsu state directory: %w", err)
	}
	return dir, nil
}

// RuntimeDir returns the directory the hook listener's socket lives
// under: $XDG_RUNTIME_DIR/kaijutsu (spec §4.6). Falls back to the state
// home on platforms without a runtime dir (XDG leaves RuntimeDir empty in
// that case).
func RuntimeDir() (string, error) {
	base := xdg.RuntimeDir
	if base == "" {
		return StateHome()
	}
	dir := filepath.Join(base, "kaijutsu")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating kaijutsu runtime directory: %w", err)
	}
	return dir, nil
}

func ConfigDir() string {
	dir := xdg.ConfigHome
	for _, d := range xdg.ConfigDirs {
		if filepath.Base(d) == ".config" {
			dir = d
			break
		}
	}
	return filepath.Join(dir, "kaijutsu")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yml")
}
