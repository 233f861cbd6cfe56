// Package config handles CLI configuration loading from files, environment
// variables, and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the CLI configuration.
type Config struct {
	Server  string `mapstructure:"server"`
	APIKey  string `mapstructure:"api_key"`
	AgentID string `mapstructure:"agent_id"`
	Trace   bool   `mapstructure:"trace"`
	JSON    bool   `mapstructure:"json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: "http://localhost:8080",
	}
}

// Load loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags (handled by caller)
// 2. Environment variables (INVARITY_SERVER, INVARITY_API_KEY, INVARITY_AGENT_ID)
// 3. Config file (~/.invarity/config.yaml)
// 4. Defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	home, err := os.UserHomeDir()
	if err == nil {
		v.AddConfigPath(filepath.Join(home, ".invarity"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("INVARITY")
	v.AutomaticEnv()

	v.BindEnv("server", "INVARITY_SERVER")
	v.BindEnv("api_key", "INVARITY_API_KEY")
	v.BindEnv("agent_id", "INVARITY_AGENT_ID")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// GetConfigDir returns the path to the config directory.
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to find home directory: %w", err)
	}
	return filepath.Join(home, ".invarity"), nil
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	dir, err := GetConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// Validate checks if the configuration is valid for making API calls.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server URL is required")
	}
	return nil
}

// ValidateWithAuth checks if the configuration has authentication.
func (c *Config) ValidateWithAuth() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("API key is required (set via --api-key, INVARITY_API_KEY, or config file)")
	}
	return nil
}

// ValidateForAgent checks if the configuration has an agent id, required
// for commands scoped to a single agent's identity.
func (c *Config) ValidateForAgent() error {
	if err := c.ValidateWithAuth(); err != nil {
		return err
	}
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required (set via --agent, INVARITY_AGENT_ID, or config file)")
	}
	return nil
}
