package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/gavel-live/gavel/internal/catalog"
	"github.com/gavel-live/gavel/internal/room"
)

// Config is the YAML configuration for the auction server. Auction
// tunables default to the standard session values; rooms and static
// catalog entries are seeds loaded at startup.
type Config struct {
	Auction struct {
		DefaultBudget  int64 `yaml:"default_budget"`
		StartingBid    int64 `yaml:"starting_bid"`
		BidIncrement   int64 `yaml:"bid_increment"`
		DurationSec    int   `yaml:"duration_sec"`
		SnipeWindowSec int   `yaml:"snipe_window_sec"`
	} `yaml:"auction"`

	Catalog struct {
		Source  string           `yaml:"source"` // static | postgres
		Players []catalog.Player `yaml:"players"`
	} `yaml:"catalog"`

	Rooms []room.Config `yaml:"rooms"`

	Stream struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"stream"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Auction.DefaultBudget = 100_000_000
	cfg.Auction.StartingBid = 1_000_000
	cfg.Auction.BidIncrement = 1_000_000
	cfg.Auction.DurationSec = 300
	cfg.Auction.SnipeWindowSec = 30
	cfg.Catalog.Source = "static"
	return &cfg
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// DatabaseConfig holds Postgres connection settings for the player catalog.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func databaseConfigFromEnv() DatabaseConfig {
	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "gavel"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
