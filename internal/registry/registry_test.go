package registry

import (
	"context"
	"testing"
)

func TestInMemoryStoreGetLatestVersion(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_ = s.Put(ctx, &ActionDefinition{ActionID: "read_file", Version: "1.0.0", Name: "v1"})
	_ = s.Put(ctx, &ActionDefinition{ActionID: "read_file", Version: "1.1.0", Name: "v1.1"})

	def, err := s.Get(ctx, "read_file", "")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if def.Version != "1.1.0" {
		t.Fatalf("expected latest version 1.1.0, got %s", def.Version)
	}
}

func TestInMemoryStoreGetUnknownAction(t *testing.T) {
	s := NewInMemoryStore()
	if _, err := s.Get(context.Background(), "nonexistent", ""); err != ErrActionNotFound {
		t.Fatalf("expected ErrActionNotFound, got %v", err)
	}
}

func TestDefaultsRegisterExpectedActions(t *testing.T) {
	s := NewInMemoryStoreWithDefaults()
	for _, actionID := range []string{"read_file", "send_email", "transfer_funds", "delete_user"} {
		if _, err := s.Get(context.Background(), actionID, ""); err != nil {
			t.Errorf("expected default action %q to be registered: %v", actionID, err)
		}
	}
}

func TestSchemaValidatorRejectsMissingRequiredField(t *testing.T) {
	v := NewSchemaValidator()
	def := &ActionDefinition{
		ActionID: "send_email",
		Version:  "1.0.0",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to":      map[string]any{"type": "array"},
				"subject": map[string]any{"type": "string"},
			},
			"required": []any{"to", "subject"},
		},
	}

	err := v.ValidateArgs(context.Background(), def, map[string]any{"subject": "hi"})
	if err == nil {
		t.Fatal("expected validation error for missing 'to' field")
	}
}

func TestSchemaValidatorAcceptsConformingArgs(t *testing.T) {
	v := NewSchemaValidator()
	def := &ActionDefinition{
		ActionID: "read_file",
		Version:  "1.0.0",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []any{"path"},
		},
	}

	if err := v.ValidateArgs(context.Background(), def, map[string]any{"path": "/tmp/a"}); err != nil {
		t.Fatalf("expected valid args to pass, got %v", err)
	}
}
