package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds CLI and daemon configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath   string `json:"db_path"`
	LogLevel string `json:"log_level"`
	PoolSize int    `json:"pool_size"` // max concurrent scheduled runs
}

func defaultConfig() Config {
	return Config{
		DBPath:   filepath.Join(formlaneDir(), "formlane.db"),
		LogLevel: "info",
		PoolSize: 4,
	}
}

func formlaneDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".formlane"
	}
	return filepath.Join(home, ".formlane")
}

func settingsPath() string {
	return filepath.Join(formlaneDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FORMLANE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FORMLANE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FORMLANE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}

	return cfg
}
