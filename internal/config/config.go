// Package config holds the daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the configuration for meshd.
type Config struct {
	// DataDir holds identity.json, friends.json and mesh.db.
	DataDir string `yaml:"data_dir"`
	// Listen is the local API address.
	Listen string `yaml:"listen"`
	// AuthSecret signs API tokens.
	AuthSecret string `yaml:"auth_secret"`
	// BatteryMode tunes transport scheduling: performance, balanced,
	// powersaving.
	BatteryMode string `yaml:"battery_mode"`
	// DefaultTTL is the hop budget for locally originated packets.
	DefaultTTL int `yaml:"default_ttl"`
	LogLevel   string `yaml:"log_level"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir:     defaultDataDir(),
		Listen:      "127.0.0.1:9190",
		BatteryMode: "balanced",
		DefaultTTL:  10,
		LogLevel:    "info",
	}
}

// Load reads a YAML config from path over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// IdentityPath is where the identity secrets live.
func (c *Config) IdentityPath() string {
	return filepath.Join(c.DataDir, "identity.json")
}

// FriendsPath is where the friend registry lives.
func (c *Config) FriendsPath() string {
	return filepath.Join(c.DataDir, "friends.json")
}

// DBPath is where the message database lives.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "mesh.db")
}

// defaultDataDir resolves <user_local_data_dir>/meshapp.
func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "meshapp")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "meshapp"
	}
	return filepath.Join(home, ".local", "share", "meshapp")
}
