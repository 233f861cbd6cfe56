// Package registry models a versioned catalog of actions an agent can
// declare intents against, with JSON-schema argument validation. Lookup is
// optional: an intent naming an unregistered action still flows through the
// authorizer unchanged, since registration exists to tighten ingress
// validation, not to gate which actions exist.
package registry

import (
	"context"
	"fmt"
	"sync"
)

// ErrActionNotFound is returned when an action has no registered definition.
var ErrActionNotFound = fmt.Errorf("registry: action not found")

// ActionDefinition describes one registered, schema-validated action.
type ActionDefinition struct {
	ActionID    string         `json:"action_id"`
	Version     string         `json:"version"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// Store catalogs ActionDefinitions.
type Store interface {
	// Get retrieves an action by id. If version is empty, the latest
	// registered version is returned.
	Get(ctx context.Context, actionID, version string) (*ActionDefinition, error)
	// List returns every registered action, for admin/debug inspection.
	List(ctx context.Context) ([]*ActionDefinition, error)
	// Put registers or replaces an action definition.
	Put(ctx context.Context, def *ActionDefinition) error
	// Delete removes an action definition.
	Delete(ctx context.Context, actionID, version string) error
}

// InMemoryStore is a mutex-guarded Store for local development and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	actions map[string]*ActionDefinition
	latest  map[string]string
}

// NewInMemoryStore returns an empty registry.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		actions: make(map[string]*ActionDefinition),
		latest:  make(map[string]string),
	}
}

// NewInMemoryStoreWithDefaults returns a registry pre-populated with sample
// actions representative of the risk spectrum the authorizer reasons
// about: a harmless read, an outbound email, and two high-risk actions
// that pair naturally with strict policy conditions.
func NewInMemoryStoreWithDefaults() *InMemoryStore {
	store := NewInMemoryStore()

	defaults := []*ActionDefinition{
		{
			ActionID:    "read_file",
			Version:     "1.0.0",
			Name:        "Read file",
			Description: "Reads the contents of a file",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":     map[string]any{"type": "string"},
					"encoding": map[string]any{"type": "string", "default": "utf-8"},
				},
				"required":             []any{"path"},
				"additionalProperties": false,
			},
		},
		{
			ActionID:    "send_email",
			Version:     "1.0.0",
			Name:        "Send email",
			Description: "Sends an email to the given recipients",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to":      map[string]any{"type": "array", "items": map[string]any{"type": "string", "format": "email"}},
					"subject": map[string]any{"type": "string", "maxLength": 200},
					"body":    map[string]any{"type": "string", "maxLength": 50000},
				},
				"required":             []any{"to", "subject", "body"},
				"additionalProperties": false,
			},
		},
		{
			ActionID:    "transfer_funds",
			Version:     "1.0.0",
			Name:        "Transfer funds",
			Description: "Moves money between two accounts",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"from_account": map[string]any{"type": "string"},
					"to_account":   map[string]any{"type": "string"},
					"amount":       map[string]any{"type": "number", "minimum": 0.01},
					"currency":     map[string]any{"type": "string", "enum": []any{"USD", "EUR", "GBP"}},
				},
				"required":             []any{"from_account", "to_account", "amount", "currency"},
				"additionalProperties": false,
			},
		},
		{
			ActionID:    "delete_user",
			Version:     "1.0.0",
			Name:        "Delete user",
			Description: "Permanently deletes a user account",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": map[string]any{"type": "string"},
					"reason":  map[string]any{"type": "string"},
				},
				"required":             []any{"user_id", "reason"},
				"additionalProperties": false,
			},
		},
	}

	for _, def := range defaults {
		_ = store.Put(context.Background(), def)
	}
	return store
}

func key(actionID, version string) string {
	return actionID + ":" + version
}

func (s *InMemoryStore) Get(ctx context.Context, actionID, version string) (*ActionDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version == "" {
		version = s.latest[actionID]
	}
	def, ok := s.actions[key(actionID, version)]
	if !ok {
		return nil, ErrActionNotFound
	}
	return def, nil
}

func (s *InMemoryStore) List(ctx context.Context) ([]*ActionDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ActionDefinition, 0, len(s.actions))
	for _, def := range s.actions {
		out = append(out, def)
	}
	return out, nil
}

func (s *InMemoryStore) Put(ctx context.Context, def *ActionDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions[key(def.ActionID, def.Version)] = def
	if latest, ok := s.latest[def.ActionID]; !ok || latest < def.Version {
		s.latest[def.ActionID] = def.Version
	}
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, actionID, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.actions, key(actionID, version))
	return nil
}
