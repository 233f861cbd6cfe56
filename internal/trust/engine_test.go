package trust

import (
	"context"
	"testing"
	"time"

	"invarity/internal/proofchain"
	"invarity/internal/types"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func equalWeights() map[types.DimensionKey]float64 {
	w := make(map[types.DimensionKey]float64, len(types.AllDimensions))
	for _, d := range types.AllDimensions {
		w[d] = 1.0 / float64(len(types.AllDimensions))
	}
	return w
}

func seedProfile(repo *InMemoryProfileRepo, agentID string, dims map[types.DimensionKey]float64, tier types.ObservationTier, now time.Time) {
	repo.Seed(&types.TrustProfile{
		ProfileID:       agentID + "-profile",
		AgentID:         agentID,
		Version:         1,
		Dimensions:      dims,
		Weights:         equalWeights(),
		ObservationTier: tier,
		CalculatedAt:    now,
		ValidUntil:      now.Add(time.Hour),
	})
}

func allDims(v float64) map[types.DimensionKey]float64 {
	m := make(map[types.DimensionKey]float64, len(types.AllDimensions))
	for _, d := range types.AllDimensions {
		m[d] = v
	}
	return m
}

func TestSnapshotComputesCompositeAndAdjusted(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewInMemoryProfileRepo()
	seedProfile(repo, "agent-1", allDims(80), types.TierGrayBox, now)

	engine := New(repo, nil, nil)
	engine.Clock = fixedClock{now}

	profile, err := engine.Snapshot(context.Background(), "agent-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if profile.CompositeScore != 800 {
		t.Fatalf("composite = %v, want 800", profile.CompositeScore)
	}
	if profile.AdjustedScore != 750 {
		t.Fatalf("adjusted = %v, want 750 (gray box ceiling)", profile.AdjustedScore)
	}
}

func TestIngestEvidenceGainIsSlowerThanLoss(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewInMemoryProfileRepo()
	seedProfile(repo, "agent-2", allDims(50), types.TierWhiteBox, now)

	engine := New(repo, proofchain.NewInMemoryStore(), nil)
	engine.Clock = fixedClock{now}

	gainDelta, err := engine.IngestEvidence(context.Background(), "agent-2", types.TrustEvidence{
		EvidenceID:  "ev-1",
		Dimension:   types.DimCompetence,
		Impact:      50,
		CollectedAt: now,
	})
	if err != nil {
		t.Fatalf("IngestEvidence gain: %v", err)
	}
	gainMove := gainDelta.NewDimensions[types.DimCompetence] - gainDelta.PreviousDimensions[types.DimCompetence]

	seedProfile(repo, "agent-3", allDims(50), types.TierWhiteBox, now)
	lossDelta, err := engine.IngestEvidence(context.Background(), "agent-3", types.TrustEvidence{
		EvidenceID:  "ev-2",
		Dimension:   types.DimCompetence,
		Impact:      -50,
		CollectedAt: now,
	})
	if err != nil {
		t.Fatalf("IngestEvidence loss: %v", err)
	}
	lossMove := lossDelta.PreviousDimensions[types.DimCompetence] - lossDelta.NewDimensions[types.DimCompetence]

	if gainMove >= lossMove {
		t.Fatalf("expected gain move (%v) smaller than loss move (%v)", gainMove, lossMove)
	}
}

func TestCooldownDefersGainsAfterLoss(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewInMemoryProfileRepo()
	seedProfile(repo, "agent-4", allDims(50), types.TierWhiteBox, now)

	engine := New(repo, proofchain.NewInMemoryStore(), nil)
	engine.Clock = fixedClock{now}

	_, err := engine.IngestEvidence(context.Background(), "agent-4", types.TrustEvidence{
		EvidenceID: "loss-1", Dimension: types.DimCompetence, Impact: -20, CollectedAt: now,
	})
	if err != nil {
		t.Fatalf("loss ingest: %v", err)
	}

	before, _ := repo.Get(context.Background(), "agent-4")
	beforeVal := before.Dimensions[types.DimCompetence]

	delta, err := engine.IngestEvidence(context.Background(), "agent-4", types.TrustEvidence{
		EvidenceID: "gain-1", Dimension: types.DimCompetence, Impact: 30, CollectedAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("gain during cooldown ingest: %v", err)
	}

	if delta.NewDimensions[types.DimCompetence] != beforeVal {
		t.Fatalf("expected dimension unchanged during cooldown, got %v want %v", delta.NewDimensions[types.DimCompetence], beforeVal)
	}

	after, _ := repo.Get(context.Background(), "agent-4")
	if len(after.PendingGains) == 0 {
		t.Fatalf("expected a pending gain recorded during cooldown")
	}
}

func TestCircuitBreakerTripsBelowFloor(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewInMemoryProfileRepo()
	seedProfile(repo, "agent-5", allDims(5), types.TierBlackBox, now)

	engine := New(repo, proofchain.NewInMemoryStore(), nil)
	engine.Clock = fixedClock{now}

	delta, err := engine.IngestEvidence(context.Background(), "agent-5", types.TrustEvidence{
		EvidenceID: "loss-huge", Dimension: types.DimBehavioral, Impact: -90, CollectedAt: now,
	})
	if err != nil {
		t.Fatalf("IngestEvidence: %v", err)
	}
	if delta.NewAdjusted >= circuitBreakerFloor {
		t.Fatalf("expected adjusted score under circuit breaker floor, got %v", delta.NewAdjusted)
	}

	after, _ := repo.Get(context.Background(), "agent-5")
	if !after.CircuitBroken {
		t.Fatalf("expected profile to be circuit broken")
	}
}

func TestReinstateClearsCircuitBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewInMemoryProfileRepo()
	seedProfile(repo, "agent-6", allDims(5), types.TierBlackBox, now)
	profile, _ := repo.Get(context.Background(), "agent-6")
	profile.CircuitBroken = true
	repo.Seed(profile)

	engine := New(repo, proofchain.NewInMemoryStore(), nil)
	engine.Clock = fixedClock{now}

	if err := engine.Reinstate(context.Background(), "agent-6", "signed-attestation"); err != nil {
		t.Fatalf("Reinstate: %v", err)
	}

	after, _ := repo.Get(context.Background(), "agent-6")
	if after.CircuitBroken {
		t.Fatalf("expected circuit breaker cleared")
	}
}

func TestSweepDueOutcomesCommitsClosedWindows(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewInMemoryProfileRepo()
	seedProfile(repo, "agent-7", allDims(40), types.TierWhiteBox, now)

	engine := New(repo, proofchain.NewInMemoryStore(), nil)
	engine.Clock = fixedClock{now}

	outcomes := NewInMemoryOutcomeRepo()
	if _, err := engine.CommitOutcome(context.Background(), outcomes, "corr-1", "agent-7", types.DimCompetence, 20, types.ProfileImmediate); err != nil {
		t.Fatalf("CommitOutcome: %v", err)
	}

	engine.Clock = fixedClock{now.Add(10 * time.Minute)}
	if err := engine.SweepDueOutcomes(context.Background(), outcomes, 4); err != nil {
		t.Fatalf("SweepDueOutcomes: %v", err)
	}

	pending, _ := outcomes.Get(context.Background(), "corr-1")
	if pending != nil {
		t.Fatalf("expected window to be closed and removed")
	}

	after, _ := repo.Get(context.Background(), "agent-7")
	if after.Dimensions[types.DimCompetence] <= 40 {
		t.Fatalf("expected dimension to increase after window closed, got %v", after.Dimensions[types.DimCompetence])
	}
}
