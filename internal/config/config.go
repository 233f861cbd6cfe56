// Package config handles configuration parsing and validation for the
// authorizer.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/multierr"
)

// Config holds all runtime configuration for invarityd.
type Config struct {
	// Server settings
	Port     int
	LogLevel string

	// Storage backend selection: "memory" for single-process/dev,
	// "postgres" to wire internal/repo/pgstore, "dynamodb" for in-memory
	// repos with internal/repo/dynamostore as the policy bundle repo. The
	// postgres backend also uses dynamostore for policies when
	// PolicyDDBTable and PolicyS3Bucket are both set.
	StorageBackend string
	PostgresDSN    string
	AWSRegion      string
	PolicyS3Bucket string
	PolicyDDBTable string

	// PolicyBundlesDir, if set, seeds the policy store at startup by
	// loading every *.yaml/*.yml file in the directory as a policy-as-code
	// PolicyBundle definition, in addition to whatever the selected
	// storage backend already holds.
	PolicyBundlesDir string

	// Redis rate limiting
	RedisAddr      string
	RateLimitRPS   int
	RateLimitBurst int

	// Trust engine dynamics overrides (zero values fall back to package
	// defaults in internal/trust).
	TrustGainRate float64
	TrustLossRate float64

	// Background loop tuning
	OutcomeSweepInterval    time.Duration
	OutcomeSweepConcurrency int

	// Request limits
	RequestMaxBytes int

	// Feature flags
	EnableMCP bool
}

// DefaultConfig returns a configuration with sensible defaults for local
// development against in-memory stores.
func DefaultConfig() *Config {
	return &Config{
		Port:                    8080,
		LogLevel:                "info",
		StorageBackend:          "memory",
		AWSRegion:               "us-east-1",
		RateLimitRPS:            50,
		RateLimitBurst:          100,
		OutcomeSweepInterval:    time.Minute,
		OutcomeSweepConcurrency: 8,
		RequestMaxBytes:         1 << 20,
		EnableMCP:               false,
	}
}

// LoadFromEnv loads configuration from environment variables, falling
// back to DefaultConfig for anything unset, and validates the result.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = port
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.StorageBackend = v
	}

	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWSRegion = v
	}

	if v := os.Getenv("POLICY_S3_BUCKET"); v != "" {
		cfg.PolicyS3Bucket = v
	}

	if v := os.Getenv("POLICY_DDB_TABLE"); v != "" {
		cfg.PolicyDDBTable = v
	}

	if v := os.Getenv("POLICY_BUNDLES_DIR"); v != "" {
		cfg.PolicyBundlesDir = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = rps
	}

	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
		}
		cfg.RateLimitBurst = burst
	}

	if v := os.Getenv("TRUST_GAIN_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUST_GAIN_RATE: %w", err)
		}
		cfg.TrustGainRate = rate
	}

	if v := os.Getenv("TRUST_LOSS_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TRUST_LOSS_RATE: %w", err)
		}
		cfg.TrustLossRate = rate
	}

	if v := os.Getenv("OUTCOME_SWEEP_INTERVAL_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OUTCOME_SWEEP_INTERVAL_SECONDS: %w", err)
		}
		cfg.OutcomeSweepInterval = time.Duration(seconds) * time.Second
	}

	if v := os.Getenv("OUTCOME_SWEEP_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OUTCOME_SWEEP_CONCURRENCY: %w", err)
		}
		cfg.OutcomeSweepConcurrency = n
	}

	if v := os.Getenv("REQUEST_MAX_BYTES"); v != "" {
		maxBytes, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid REQUEST_MAX_BYTES: %w", err)
		}
		cfg.RequestMaxBytes = maxBytes
	}

	if v := os.Getenv("ENABLE_MCP"); v != "" {
		cfg.EnableMCP = v == "true" || v == "1"
	}

	return cfg, cfg.Validate()
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validBackends = map[string]bool{"memory": true, "postgres": true, "dynamodb": true}

// Validate accumulates every structural problem in cfg via multierr,
// rather than failing on the first one, so a misconfigured deployment
// sees every fix it needs in one pass.
func (c *Config) Validate() error {
	var err error

	if c.Port < 1 || c.Port > 65535 {
		err = multierr.Append(err, errors.New("port must be between 1 and 65535"))
	}
	if !validLogLevels[c.LogLevel] {
		err = multierr.Append(err, errors.New("LOG_LEVEL must be one of: debug, info, warn, error"))
	}
	if !validBackends[c.StorageBackend] {
		err = multierr.Append(err, errors.New("STORAGE_BACKEND must be one of: memory, postgres, dynamodb"))
	}
	if c.StorageBackend == "postgres" && c.PostgresDSN == "" {
		err = multierr.Append(err, errors.New("POSTGRES_DSN is required when STORAGE_BACKEND=postgres"))
	}
	if c.StorageBackend == "dynamodb" && (c.PolicyS3Bucket == "" || c.PolicyDDBTable == "") {
		err = multierr.Append(err, errors.New("POLICY_S3_BUCKET and POLICY_DDB_TABLE are required when STORAGE_BACKEND=dynamodb"))
	}
	if c.RequestMaxBytes < 1024 {
		err = multierr.Append(err, errors.New("REQUEST_MAX_BYTES must be at least 1024"))
	}
	if c.OutcomeSweepConcurrency < 1 {
		err = multierr.Append(err, errors.New("OUTCOME_SWEEP_CONCURRENCY must be at least 1"))
	}

	return err
}
