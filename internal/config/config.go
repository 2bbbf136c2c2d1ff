// Package config manages redeemer configuration from multiple sources.
//
// Configuration precedence, lowest to highest:
//   - config.yaml in the data directory (persisted settings, steam_api_key)
//   - .env in the working directory (loaded via godotenv)
//   - real environment variables (STEAM_API_KEY, LOG_LEVEL, ...)
//
// The data directory also holds .state/ with the saved session cookies for
// both platforms, so an interactive login survives into later --auto runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	stateDirName   = ".state"
	configFileName = "config.yaml"

	humbleCookieFile = "humble.cookies"
	steamCookieFile  = "steam.cookies"
)

// Config holds all application configuration.
type Config struct {
	// DataDir is the root for config.yaml, .state/ and the result logs.
	DataDir string

	// SteamAPIKey enables the catalog fetch used for ownership detection.
	// Empty means ownership detection runs in degraded mode.
	SteamAPIKey string

	// Logging settings
	LogLevel  string
	LogFormat string
	LogFile   string
}

// fileConfig is the subset persisted to config.yaml.
type fileConfig struct {
	SteamAPIKey string `yaml:"steam_api_key,omitempty"`
}

// Load reads configuration from config.yaml, .env and the environment.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors, it's optional)
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env file")
	}

	dataDir := strings.TrimSpace(os.Getenv("REDEEMER_DATA_DIR"))
	if dataDir == "" {
		dataDir = "."
	}

	cfg := &Config{
		DataDir:   dataDir,
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "auto"),
		LogFile:   envOrDefault("LOG_FILE", "error.log"),
	}

	fc, err := readConfigFile(cfg.configPath())
	if err != nil {
		return nil, err
	}
	cfg.SteamAPIKey = fc.SteamAPIKey

	if key := strings.TrimSpace(os.Getenv("STEAM_API_KEY")); key != "" {
		cfg.SteamAPIKey = key
	}

	if err := os.MkdirAll(cfg.StateDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return cfg, nil
}

// StateDir returns the directory holding saved session cookies.
func (c *Config) StateDir() string {
	return filepath.Join(c.DataDir, stateDirName)
}

// HumbleCookiePath returns the Humble session cookie file path.
func (c *Config) HumbleCookiePath() string {
	return filepath.Join(c.StateDir(), humbleCookieFile)
}

// SteamCookiePath returns the Steam session cookie file path.
func (c *Config) SteamCookiePath() string {
	return filepath.Join(c.StateDir(), steamCookieFile)
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, configFileName)
}

// SaveSteamAPIKey persists the API key to config.yaml for future runs.
func (c *Config) SaveSteamAPIKey(key string) error {
	key = strings.TrimSpace(key)
	c.SteamAPIKey = key

	data, err := yaml.Marshal(fileConfig{SteamAPIKey: key})
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath(), data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", configFileName, err)
	}
	return nil
}

func readConfigFile(path string) (fileConfig, error) {
	var fc fileConfig

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read %s: %w", configFileName, err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", configFileName, err)
	}
	fc.SteamAPIKey = strings.TrimSpace(fc.SteamAPIKey)
	return fc, nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
