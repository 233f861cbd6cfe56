package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"invarity/internal/gate"
	"invarity/internal/orchestrator"
	"invarity/internal/policy"
	"invarity/internal/proofchain"
	"invarity/internal/registry"
	"invarity/internal/repo"
	"invarity/internal/trust"
	"invarity/internal/types"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()

	agents := repo.NewInMemoryAgentRepo()
	intents := repo.NewInMemoryIntentRepo()
	decisions := repo.NewInMemoryDecisionRepo()
	profiles := trust.NewInMemoryProfileRepo()
	outcomes := trust.NewInMemoryOutcomeRepo()
	events := proofchain.NewInMemoryStore()

	now := time.Now().UTC()
	profiles.Seed(&types.TrustProfile{
		ProfileID:       "agent-1-profile",
		AgentID:         "agent-1",
		Version:         1,
		Dimensions:      map[types.DimensionKey]float64{types.DimCompetence: 90, types.DimBehavioral: 90, types.DimGovernance: 90, types.DimExperience: 90, types.DimAttestation: 90},
		Weights:         map[types.DimensionKey]float64{types.DimCompetence: 0.2, types.DimBehavioral: 0.2, types.DimGovernance: 0.2, types.DimExperience: 0.2, types.DimAttestation: 0.2},
		ObservationTier: types.TierWhiteBox,
		CalculatedAt:    now,
		ValidUntil:      now.Add(time.Hour),
	})
	_ = agents.Put(context.Background(), &types.Agent{ID: "agent-1", TenantID: "tenant-1", ProfileID: "agent-1-profile", CreatedAt: now})

	trustEngine := trust.New(profiles, events, nil)
	orch := orchestrator.New(agents, intents, decisions, trustEngine, gate.New(), policy.NewEvaluator(policy.NewInMemoryStoreWithDefaults()), events, nil)

	return NewRouter(RouterConfig{Orchestrator: orch, Trust: trustEngine, Events: events, Outcomes: outcomes})
}

func TestHandleHealthzReturnsOK(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleAuthorizePermitsLowRiskRead(t *testing.T) {
	r := newTestRouter(t)

	body, _ := json.Marshal(types.Intent{
		AgentID:         "agent-1",
		Action:          "read_file",
		ActionType:      types.ActionRead,
		DataSensitivity: types.SensitivityPublic,
		Reversibility:   types.ReversibilityReversible,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var decision types.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode decision: %v", err)
	}
	if !decision.Permitted {
		t.Fatalf("expected permit, got deny: %v", decision.Reasoning)
	}
}

func TestHandleAuthorizeRejectsMissingAgentID(t *testing.T) {
	r := newTestRouter(t)

	body, _ := json.Marshal(types.Intent{ActionType: types.ActionRead, Action: "read_file"})
	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAuthorizeRejectsUnknownFields(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", bytes.NewReader([]byte(`{"agent_id":"agent-1","action":"x","action_type":"READ","not_a_real_field":true}`)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestHandleAuthorizeRejectsArgsThatFailRegisteredSchema(t *testing.T) {
	r := newTestRouter(t)
	r.actions = registry.NewInMemoryStoreWithDefaults()

	body, _ := json.Marshal(types.Intent{
		AgentID:         "agent-1",
		Action:          "send_email",
		ActionType:      types.ActionWrite,
		DataSensitivity: types.SensitivityInternal,
		Reversibility:   types.ReversibilityReversible,
		Context:         map[string]any{"subject": "missing recipients and body"},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for schema-invalid args, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleAuthorizeIgnoresRegistryForUnregisteredAction(t *testing.T) {
	r := newTestRouter(t)
	r.actions = registry.NewInMemoryStoreWithDefaults()

	body, _ := json.Marshal(types.Intent{
		AgentID:         "agent-1",
		Action:          "some_custom_action",
		ActionType:      types.ActionRead,
		DataSensitivity: types.SensitivityPublic,
		Reversibility:   types.ReversibilityReversible,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/authorize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected unregistered action to pass through, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetProfileNotFound(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/agents/nonexistent/profile", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
