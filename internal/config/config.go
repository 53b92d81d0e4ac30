// Package config loads RuntimeConfig from an optional YAML file merged with
// CLI flags, and watches the file for password/poll-interval hot-reload.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/b/tmux-remote/internal/auth"
	"github.com/b/tmux-remote/pkg/paths"
)

// RuntimeConfig is the broker's full configuration surface.
type RuntimeConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Password        string `yaml:"password"`
	DefaultSession  string `yaml:"defaultSession"`
	ScrollbackLines int    `yaml:"scrollbackLines"`
	PollIntervalMs  int    `yaml:"pollIntervalMs"`
	Token           string `yaml:"token"`
	FrontendDir     string `yaml:"frontendDir"`
}

// Defaults returns the configuration used when neither a config file nor a
// flag supplies a value. Token is left empty; callers MUST call
// EnsureToken before serving requests.
func Defaults() RuntimeConfig {
	return RuntimeConfig{
		Host:            "0.0.0.0",
		Port:            7681,
		DefaultSession:  "main",
		ScrollbackLines: 2000,
		PollIntervalMs:  2500,
		FrontendDir:     "frontend/dist",
	}
}

// LoadFile reads and parses a YAML config file. A missing file is not an
// error — it's treated as "no overrides", returning zero-value fields that
// the caller merges over Defaults().
func LoadFile(path string) (RuntimeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RuntimeConfig{}, nil
		}
		return RuntimeConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg RuntimeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// MergeFlags layers file values under explicitly-set CLI flags: fs.Visit
// tells us which flags the user actually passed, and only those win over
// the file. Flags not explicitly set fall through to the file's value, then
// to whatever cfg already held (its Defaults()-derived value).
func MergeFlags(cfg *RuntimeConfig, file RuntimeConfig, fs *flag.FlagSet) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	if !explicit["host"] && file.Host != "" {
		cfg.Host = file.Host
	}
	if !explicit["port"] && file.Port != 0 {
		cfg.Port = file.Port
	}
	if !explicit["password"] && file.Password != "" {
		cfg.Password = file.Password
	}
	if !explicit["default-session"] && file.DefaultSession != "" {
		cfg.DefaultSession = file.DefaultSession
	}
	if !explicit["scrollback-lines"] && file.ScrollbackLines != 0 {
		cfg.ScrollbackLines = file.ScrollbackLines
	}
	if !explicit["poll-interval-ms"] && file.PollIntervalMs != 0 {
		cfg.PollIntervalMs = file.PollIntervalMs
	}
	if !explicit["token"] && file.Token != "" {
		cfg.Token = file.Token
	}
	if !explicit["frontend-dir"] && file.FrontendDir != "" {
		cfg.FrontendDir = file.FrontendDir
	}
}

// EnsureToken fills in cfg.Token if neither a flag nor the config file
// supplied one. A previously-persisted token is reused so restarting the
// server doesn't silently invalidate every paired client and stale the
// --qr page's encoded URL; if none exists yet, a fresh one is generated
// and persisted for next time.
func EnsureToken(cfg *RuntimeConfig) error {
	if cfg.Token != "" {
		return nil
	}
	token, err := LoadOrGenerateToken(TokenPath())
	if err != nil {
		return fmt.Errorf("ensure token: %w", err)
	}
	cfg.Token = token
	return nil
}

// TokenPath is where the generated auth token is persisted between runs.
func TokenPath() string {
	return paths.StatePath("auth-token")
}

// LoadOrGenerateToken reads a token previously persisted at path, or
// generates and persists a new one if the file doesn't exist yet or is
// empty.
func LoadOrGenerateToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}
	return regenerateToken(path)
}

func regenerateToken(path string) (string, error) {
	token, err := auth.GenerateToken()
	if err != nil {
		return "", err
	}
	if _, err := paths.EnsureStateDir(); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write token %s: %w", path, err)
	}
	return token, nil
}
