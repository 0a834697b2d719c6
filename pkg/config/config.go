package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BridgeConfig describes how to launch and reach the bridge subprocess.
type BridgeConfig struct {
	BinaryPath  string `json:"binary_path"`
	RPCAddress  string `json:"rpc_address"`
	StorePath   string `json:"store_path"`
	LogLevel    string `json:"log_level"`
	MonitorCron string `json:"monitor_cron"`
}

// StorageConfig selects the message archive backend.
type StorageConfig struct {
	Type        string `json:"type"` // "sqlite" or "postgres"
	FilePath    string `json:"file_path"`
	DatabaseURL string `json:"database_url"`
}

// DashboardConfig controls the local status dashboard.
type DashboardConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type Config struct {
	LogLevel  string          `json:"log_level"`
	Bridge    BridgeConfig    `json:"bridge"`
	Storage   StorageConfig   `json:"storage"`
	Dashboard DashboardConfig `json:"dashboard"`
}

// DefaultConfigPath returns ~/.wabridge/config.json.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wabridge", "config.json")
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".wabridge")

	return &Config{
		LogLevel: "info",
		Bridge: BridgeConfig{
			BinaryPath:  filepath.Join(base, "bin", "wabridge-server"),
			RPCAddress:  "127.0.0.1:9876",
			StorePath:   filepath.Join(base, "store"),
			LogLevel:    "info",
			MonitorCron: "* * * * *",
		},
		Storage: StorageConfig{
			Type:     "sqlite",
			FilePath: filepath.Join(base, "archive.db"),
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8089,
		},
	}
}

// Load reads the config file at path, creating it with defaults when absent.
// Environment overrides are applied after the file is read.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes the config as indented JSON, creating parent directories.
func Save(path string, cfg *Config) error {
	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
