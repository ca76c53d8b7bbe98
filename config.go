package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	koanftoml "github.com/knadh/koanf/parsers/toml/v2"
	koanfenv "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
)

const (
	configDirName = "streamchat"
	projectDir    = ".streamchat"
	configFile    = "conf.toml"
	envPrefix     = "STREAMCHAT_"
)

// Config represents the application configuration structure
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Auth    AuthConfig    `koanf:"auth"`
	Logging LoggingConfig `koanf:"logging"`
	UI      UIConfig      `koanf:"ui"`
}

// ServerConfig holds the chat server location
type ServerConfig struct {
	URL              string `koanf:"url"`
	KeepAliveSeconds int    `koanf:"keepalive_seconds"`
}

// AuthConfig holds credentials. Token, when set, overrides the keyring.
type AuthConfig struct {
	Token    string `koanf:"token"`
	Username string `koanf:"username"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `koanf:"level"`
}

// UIConfig holds terminal UI preferences
type UIConfig struct {
	Theme    string `koanf:"theme"`
	Markdown *bool  `koanf:"markdown"` // Pointer to distinguish between unset and false
}

// defaultConfig returns the configuration populated with sensible defaults.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			URL:              "http://localhost:8000",
			KeepAliveSeconds: 30,
		},
		Logging: LoggingConfig{Level: "info"},
		UI:      UIConfig{Theme: ThemeAuto},
	}
}

func userConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", configDirName, configFile), nil
}

func projectConfigPath() string {
	return filepath.Join(projectDir, configFile)
}

// envKey maps STREAMCHAT_SERVER_KEEPALIVE_SECONDS to server.keepalive_seconds:
// the first underscore separates the section, the rest belong to the key.
func envKey(key string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_", ".", 1)
}

// LoadConfig loads configuration from multiple sources
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	if userPath, err := userConfigPath(); err != nil {
		slog.Warn("config.home_unavailable", "error", err)
	} else if _, err := os.Stat(userPath); err == nil {
		if err := k.Load(file.Provider(userPath), koanftoml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load user config from %s: %w", userPath, err)
		}
	}

	projectPath := projectConfigPath()
	if _, err := os.Stat(projectPath); err == nil {
		if err := k.Load(file.Provider(projectPath), koanftoml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load project config from %s: %w", projectPath, err)
		}
	} else if !os.IsNotExist(err) {
		slog.Warn("config.project_stat_failed", "path", projectPath, "error", err)
	}

	// STREAMCHAT_SERVER_URL overrides server.url, and so on.
	if err := k.Load(koanfenv.Provider(".", koanfenv.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKey(key), value
		},
	}), nil); err != nil {
		slog.Warn("config.env_failed", "error", err)
	}

	config := defaultConfig()
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if _, err := ChatEndpoint(c.Server.URL, ""); err != nil {
		return fmt.Errorf("invalid server.url: %w", err)
	}
	if c.Server.KeepAliveSeconds < 0 {
		return fmt.Errorf("server.keepalive_seconds must not be negative")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.UI.Theme) {
	case "", ThemeAuto, ThemeDark, ThemeLight:
	default:
		return fmt.Errorf("invalid ui.theme %q", c.UI.Theme)
	}
	return nil
}

// SaveConfig writes server.url and auth.username to the project-level
// conf.toml, keeping whatever else the file already holds.
func SaveConfig(config *Config) error {
	path := projectConfigPath()

	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", projectDir, err)
	}

	k := koanf.New(".")
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), koanftoml.Parser()); err != nil {
			return fmt.Errorf("failed to load existing project config: %w", err)
		}
	}

	if err := k.Set("server.url", config.Server.URL); err != nil {
		return fmt.Errorf("failed to update server url in config: %w", err)
	}
	if config.Auth.Username != "" {
		if err := k.Set("auth.username", config.Auth.Username); err != nil {
			return fmt.Errorf("failed to update username in config: %w", err)
		}
	}

	data, err := k.Marshal(koanftoml.Parser())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// KeepAlive returns the ping interval; zero disables pings.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.Server.KeepAliveSeconds) * time.Second
}

// IsMarkdownEnabled returns true if bot replies should be rendered as
// markdown (default: true)
func (c *Config) IsMarkdownEnabled() bool {
	if c.UI.Markdown == nil {
		return true
	}
	return *c.UI.Markdown
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid logging.level %q: %w", s, err)
	}
	return level, nil
}

// boolPtr returns a pointer to the provided bool value.
func boolPtr(v bool) *bool {
	return &v
}
