package config

import (
	"os"
	"strings"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestValidateAccumulatesEveryError(t *testing.T) {
	cfg := &Config{
		Port:                    0,
		LogLevel:                "verbose",
		StorageBackend:          "filesystem",
		RequestMaxBytes:         10,
		OutcomeSweepConcurrency: 0,
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	// multierr.Append flattens nested joins into a single error whose
	// Error() joins each component message with "; ".
	msg := err.Error()
	for _, want := range []string{"port must be", "LOG_LEVEL", "STORAGE_BACKEND", "REQUEST_MAX_BYTES", "OUTCOME_SWEEP_CONCURRENCY"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected combined error to mention %q, got: %s", want, msg)
		}
	}
}

func TestValidateRequiresPostgresDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageBackend = "postgres"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for postgres backend with no DSN")
	}

	cfg.PostgresDSN = "postgres://localhost/invarity"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected postgres backend with DSN to validate, got %v", err)
	}
}

func TestValidateRequiresDynamoPolicyTargets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StorageBackend = "dynamodb"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for dynamodb backend with no policy table/bucket")
	}

	cfg.PolicyDDBTable = "policy-bundles"
	cfg.PolicyS3Bucket = "policy-bodies"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected dynamodb backend with targets to validate, got %v", err)
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STORAGE_BACKEND", "memory")
	defer os.Unsetenv("PORT")
	defer os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("STORAGE_BACKEND")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug log level, got %s", cfg.LogLevel)
	}
}

