package orchestrator

import (
	"context"
	"testing"
	"time"

	"invarity/internal/gate"
	"invarity/internal/policy"
	"invarity/internal/proofchain"
	"invarity/internal/repo"
	"invarity/internal/trust"
	"invarity/internal/types"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *repo.InMemoryAgentRepo) {
	t.Helper()

	agents := repo.NewInMemoryAgentRepo()
	intents := repo.NewInMemoryIntentRepo()
	decisions := repo.NewInMemoryDecisionRepo()
	profiles := trust.NewInMemoryProfileRepo()
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
	policyStore := policy.NewInMemoryStoreWithDefaults()

	return New(agents, intents, decisions, trustEngine, gate.New(), policy.NewEvaluator(policyStore), events, nil), agents
}

func TestAuthorizePermitsLowRiskRead(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	intent := &types.Intent{
		IntentID:        "intent-1",
		AgentID:         "agent-1",
		CorrelationID:   "corr-1",
		ActionType:      types.ActionRead,
		DataSensitivity: types.SensitivityPublic,
		Reversibility:   types.ReversibilityReversible,
		Status:          types.IntentPending,
	}

	decision, err := orch.Authorize(context.Background(), intent)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !decision.Permitted {
		t.Fatalf("expected permit, got deny: %v", decision.Reasoning)
	}
}

func TestAuthorizeIsIdempotentOnIntentID(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	intent := &types.Intent{
		IntentID:        "intent-2",
		AgentID:         "agent-1",
		CorrelationID:   "corr-2",
		ActionType:      types.ActionRead,
		DataSensitivity: types.SensitivityPublic,
		Reversibility:   types.ReversibilityReversible,
		Status:          types.IntentPending,
	}

	first, err := orch.Authorize(context.Background(), intent)
	if err != nil {
		t.Fatalf("Authorize first: %v", err)
	}
	second, err := orch.Authorize(context.Background(), intent)
	if err != nil {
		t.Fatalf("Authorize second: %v", err)
	}
	if first.DecisionID != second.DecisionID {
		t.Fatalf("expected the same decision to be returned on replay, got %s vs %s", first.DecisionID, second.DecisionID)
	}
}

func TestAuthorizeDeniesExpiredIntent(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	past := time.Now().UTC().Add(-time.Hour)
	intent := &types.Intent{
		IntentID:        "intent-3",
		AgentID:         "agent-1",
		CorrelationID:   "corr-3",
		ActionType:      types.ActionRead,
		DataSensitivity: types.SensitivityPublic,
		Reversibility:   types.ReversibilityReversible,
		Status:          types.IntentPending,
		ExpiresAt:       &past,
	}

	decision, err := orch.Authorize(context.Background(), intent)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if decision.Permitted {
		t.Fatalf("expected deny for expired intent")
	}
	if decision.DenialReason != types.ReasonExpiredIntent {
		t.Fatalf("expected EXPIRED_INTENT, got %s", decision.DenialReason)
	}
}

func TestAuthorizeDeniesRestrictedWriteForLowTrustBand(t *testing.T) {
	orch, agents := newTestOrchestrator(t)

	// agent-low is seeded at dims=30 (adjusted score 300, band T1), below
	// the T2 floor of the default restricted-write rule.
	now := time.Now().UTC()
	orch.Trust.Profiles.(*trust.InMemoryProfileRepo).Seed(&types.TrustProfile{
		ProfileID:       "agent-low-profile",
		AgentID:         "agent-low",
		Version:         1,
		Dimensions:      map[types.DimensionKey]float64{types.DimCompetence: 30, types.DimBehavioral: 30, types.DimGovernance: 30, types.DimExperience: 30, types.DimAttestation: 30},
		Weights:         map[types.DimensionKey]float64{types.DimCompetence: 0.2, types.DimBehavioral: 0.2, types.DimGovernance: 0.2, types.DimExperience: 0.2, types.DimAttestation: 0.2},
		ObservationTier: types.TierWhiteBox,
		CalculatedAt:    now,
		ValidUntil:      now.Add(time.Hour),
	})
	_ = agents.Put(context.Background(), &types.Agent{ID: "agent-low", TenantID: "tenant-1", ProfileID: "agent-low-profile", CreatedAt: now})

	intent := &types.Intent{
		IntentID:        "intent-4",
		AgentID:         "agent-low",
		CorrelationID:   "corr-4",
		ActionType:      types.ActionWrite,
		DataSensitivity: types.SensitivityRestricted,
		Reversibility:   types.ReversibilityPartiallyReversible,
		Status:          types.IntentPending,
	}

	decision, err := orch.Authorize(context.Background(), intent)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if decision.Permitted {
		t.Fatalf("expected restricted write by a T1 agent to be denied, got permit")
	}
}
