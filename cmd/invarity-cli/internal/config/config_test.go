package config

import "testing"

func TestValidateRequiresServer(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing server")
	}
	cfg.Server = "http://localhost:8080"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateWithAuthRequiresAPIKey(t *testing.T) {
	cfg := &Config{Server: "http://localhost:8080"}
	if err := cfg.ValidateWithAuth(); err == nil {
		t.Error("expected error for missing api key")
	}
	cfg.APIKey = "secret"
	if err := cfg.ValidateWithAuth(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateForAgentRequiresAgentID(t *testing.T) {
	cfg := &Config{Server: "http://localhost:8080", APIKey: "secret"}
	if err := cfg.ValidateForAgent(); err == nil {
		t.Error("expected error for missing agent id")
	}
	cfg.AgentID = "agent-1"
	if err := cfg.ValidateForAgent(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
