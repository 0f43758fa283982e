package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the proxy engine.
// Zero values mean "unspecified" and are replaced by Defaults in main.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	BackendHost  string `json:"backend_host" yaml:"backend_host" toml:"backend_host"`
	BackendPort  int    `json:"backend_port" yaml:"backend_port" toml:"backend_port"`
	SettingsFile string `json:"settings_file" yaml:"settings_file" toml:"settings_file"`
	// Optional YAML file overriding the built-in capability pattern table.
	CapabilityTable string `json:"capability_table" yaml:"capability_table" toml:"capability_table"`
	LogLevel        string `json:"log_level" yaml:"log_level" toml:"log_level"`

	// Base refresh cadences in seconds.
	RunningRefreshSec   int `json:"running_refresh_sec" yaml:"running_refresh_sec" toml:"running_refresh_sec"`
	StatsRefreshSec     int `json:"stats_refresh_sec" yaml:"stats_refresh_sec" toml:"stats_refresh_sec"`
	AvailableRefreshSec int `json:"available_refresh_sec" yaml:"available_refresh_sec" toml:"available_refresh_sec"`
	VersionRefreshSec   int `json:"version_refresh_sec" yaml:"version_refresh_sec" toml:"version_refresh_sec"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Defaults fills unspecified fields, consulting OLLAMA_HOST / OLLAMA_PORT
// the way the backend's own tooling does.
func Defaults(cfg Config) Config {
	if cfg.Addr == "" {
		cfg.Addr = ":8090"
	}
	if cfg.BackendHost == "" {
		cfg.BackendHost = envOr("OLLAMA_HOST", "localhost")
	}
	if cfg.BackendPort == 0 {
		cfg.BackendPort = envIntOr("OLLAMA_PORT", 11434)
	}
	if cfg.BackendPort < 1 || cfg.BackendPort > 65535 {
		cfg.BackendPort = 11434
	}
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = envOr("MODEL_SETTINGS_FILE", "model_settings.json")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RunningRefreshSec <= 0 {
		cfg.RunningRefreshSec = 2
	}
	if cfg.StatsRefreshSec <= 0 {
		cfg.StatsRefreshSec = 2
	}
	if cfg.AvailableRefreshSec <= 0 {
		cfg.AvailableRefreshSec = 30
	}
	if cfg.VersionRefreshSec <= 0 {
		cfg.VersionRefreshSec = 300
	}
	return cfg
}

// BackendURL returns the base URL of the remote backend.
func (c Config) BackendURL() string {
	return fmt.Sprintf("http://%s:%d", c.BackendHost, c.BackendPort)
}

// RunningRefresh returns the running-models cadence as a duration.
func (c Config) RunningRefresh() time.Duration {
	return time.Duration(c.RunningRefreshSec) * time.Second
}

// StatsRefresh returns the system-stats cadence as a duration.
func (c Config) StatsRefresh() time.Duration {
	return time.Duration(c.StatsRefreshSec) * time.Second
}

// AvailableRefresh returns the available-models cadence as a duration.
func (c Config) AvailableRefresh() time.Duration {
	return time.Duration(c.AvailableRefreshSec) * time.Second
}

// VersionRefresh returns the backend-version cadence as a duration.
func (c Config) VersionRefresh() time.Duration {
	return time.Duration(c.VersionRefreshSec) * time.Second
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
