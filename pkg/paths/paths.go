// Package paths provides centralized path resolution for tmux-remote's config and state files.
//
// Layout (XDG-style):
//
//	Config:  ~/.config/tmux-remote/config.yaml   (override: TMUXREMOTE_CONFIG_DIR)
//	State:   ~/.local/state/tmux-remote/         (override: TMUXREMOTE_STATE_DIR)
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	configDirOnce   sync.Once
	configDirCached string

	stateDirOnce   sync.Once
	stateDirCached string
)

// ConfigDir resolves the config directory.
// Priority: TMUXREMOTE_CONFIG_DIR env > ~/.config/tmux-remote/
func ConfigDir() string {
	configDirOnce.Do(func() {
		if env := os.Getenv("TMUXREMOTE_CONFIG_DIR"); env != "" {
			configDirCached = env
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				configDirCached = "."
			} else {
				configDirCached = filepath.Join(home, ".config", "tmux-remote")
			}
		}
	})
	return configDirCached
}

// StateDir resolves the state directory.
// Priority: TMUXREMOTE_STATE_DIR env > ~/.local/state/tmux-remote/
func StateDir() string {
	stateDirOnce.Do(func() {
		if env := os.Getenv("TMUXREMOTE_STATE_DIR"); env != "" {
			stateDirCached = env
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				stateDirCached = "."
			} else {
				stateDirCached = filepath.Join(home, ".local", "state", "tmux-remote")
			}
		}
	})
	return stateDirCached
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StatePath returns the full path to a state file (e.g. "auth-token").
func StatePath(filename string) string {
	return filepath.Join(StateDir(), filename)
}

// EnsureConfigDir creates the config directory if it doesn't exist and returns its path.
func EnsureConfigDir() (string, error) {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", dir, err)
	}
	return dir, nil
}

// EnsureStateDir creates the state directory if it doesn't exist and returns its path.
func EnsureStateDir() (string, error) {
	dir := StateDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return dir, nil
}

// ResetForTest clears cached values so tests can re-run resolution logic.
// Only use in tests.
func ResetForTest() {
	configDirOnce = sync.Once{}
	configDirCached = ""
	stateDirOnce = sync.Once{}
	stateDirCached = ""
}
