package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration, loaded from a YAML file
// with environment variable overrides on top.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auction AuctionConfig `yaml:"auction"`
	NATS    NATSConfig    `yaml:"nats"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type AuctionConfig struct {
	RoundSeconds    int `yaml:"round_seconds"`
	LeaderboardSize int `yaml:"leaderboard_size"`
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns the reference configuration: 30 second rounds, top 5
// leaderboard, relay disabled.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port: "3001",
		},
		Auction: AuctionConfig{
			RoundSeconds:    30,
			LeaderboardSize: 5,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "auction.events",
		},
	}
}

// Load reads the config file at path, if it exists, over the defaults
// and then applies environment overrides. A missing file is not an
// error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.Auction.RoundSeconds <= 0 {
		return nil, fmt.Errorf("round_seconds must be positive, got %d", cfg.Auction.RoundSeconds)
	}
	if cfg.Auction.LeaderboardSize <= 0 {
		return nil, fmt.Errorf("leaderboard_size must be positive, got %d", cfg.Auction.LeaderboardSize)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.Auction.RoundSeconds = getEnvAsInt("ROUND_SECONDS", c.Auction.RoundSeconds)
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
