// Package config loads the YAML configuration file and applies environment
// variable overrides.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the ibflow tools.
type Config struct {
	Connection Connection     `yaml:"connection"`
	Storage    Storage        `yaml:"storage"`
	Download   DownloadConfig `yaml:"download"`
	Logging    Logging        `yaml:"logging"`
}

// Connection holds the TWS/Gateway endpoint parameters.
type Connection struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ClientID       int64  `yaml:"client_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// DownloadConfig holds defaults for the download pipeline.
type DownloadConfig struct {
	Tickers         []string `yaml:"tickers"`
	Exchange        string   `yaml:"exchange"`
	BarSize         string   `yaml:"bar_size"`
	Duration        string   `yaml:"duration"`
	AfterHours      bool     `yaml:"after_hours"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	MaxWorkers      int      `yaml:"max_workers"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given: a local
// IB Gateway in paper mode and data under ./data.
func Default() *Config {
	cfg := &Config{
		Connection: Connection{Host: "127.0.0.1", Port: 4001, ClientID: 0, TimeoutSeconds: 120},
		Storage:    Storage{DataDir: "data", SQLitePath: "data/meta.db"},
		Download: DownloadConfig{
			Exchange:        "SMART",
			BarSize:         "30 mins",
			Duration:        "5 d",
			RateLimitPerMin: 30,
			MaxWorkers:      4,
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
	applyEnvOverrides(cfg)
	return cfg
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IB_HOST"); v != "" {
		cfg.Connection.Host = v
	}
	if v := os.Getenv("IB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Connection.Port = port
		}
	}
	if v := os.Getenv("IB_CLIENT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Connection.ClientID = id
		}
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
