package trust

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"invarity/internal/types"
)

// windowDurations maps an OutcomeRiskProfile to how long its positive
// impact is withheld before being committed.
var windowDurations = map[types.OutcomeRiskProfile]time.Duration{
	types.ProfileImmediate:  5 * time.Minute,
	types.ProfileShortTerm:  4 * time.Hour,
	types.ProfileMediumTerm: 3 * 24 * time.Hour,
	types.ProfileLongTerm:   30 * 24 * time.Hour,
	types.ProfileExtended:   90 * 24 * time.Hour,
}

// PendingOutcome is an execution outcome whose positive trust impact is
// withheld until its window closes.
type PendingOutcome struct {
	CorrelationID string
	AgentID       string
	Dimension     types.DimensionKey
	PositiveImpact float64
	RiskProfile   types.OutcomeRiskProfile
	OpenedAt      time.Time
	CloseAt       time.Time
	Reversed      bool
}

// OutcomeRepo persists pending outcome windows across process restarts.
type OutcomeRepo interface {
	Save(ctx context.Context, pending *PendingOutcome) error
	Get(ctx context.Context, correlationID string) (*PendingOutcome, error)
	DueBefore(ctx context.Context, cutoff time.Time) ([]*PendingOutcome, error)
	Delete(ctx context.Context, correlationID string) error
}

// CommitOutcome records an execution outcome. A negative (failure) outcome
// applies its trust impact immediately and returns the resulting delta. A
// positive outcome opens a temporal window sized by riskProfile and
// returns a nil delta: the positive impact is only realized when the
// window closes without a reversal. No provisional negative impact is
// applied while the window is open.
func (e *Engine) CommitOutcome(ctx context.Context, outcomes OutcomeRepo, correlationID, agentID string, dimension types.DimensionKey, impact float64, riskProfile types.OutcomeRiskProfile) (*types.TrustDelta, error) {
	if impact <= 0 {
		return e.IngestEvidence(ctx, agentID, types.TrustEvidence{
			EvidenceID:  uuid.NewString(),
			Dimension:   dimension,
			Impact:      impact,
			Source:      "execution_outcome",
			CollectedAt: e.Clock.Now(),
		})
	}

	now := e.Clock.Now()
	dur, ok := windowDurations[riskProfile]
	if !ok {
		dur = windowDurations[types.ProfileImmediate]
	}
	pending := &PendingOutcome{
		CorrelationID:  correlationID,
		AgentID:        agentID,
		Dimension:      dimension,
		PositiveImpact: impact,
		RiskProfile:    riskProfile,
		OpenedAt:       now,
		CloseAt:        now.Add(dur),
	}
	if err := outcomes.Save(ctx, pending); err != nil {
		return nil, err
	}
	return nil, nil
}

// ReverseOutcome cancels a pending window before it closes, preventing the
// positive impact from ever being committed.
func (e *Engine) ReverseOutcome(ctx context.Context, outcomes OutcomeRepo, correlationID string) error {
	pending, err := outcomes.Get(ctx, correlationID)
	if err != nil {
		return err
	}
	if pending == nil {
		return nil
	}
	return outcomes.Delete(ctx, correlationID)
}

// SweepDueOutcomes closes every pending window whose CloseAt has passed,
// committing each as a TrustDelta, and runs up to concurrency windows in
// parallel via errgroup. Intended to be called on a periodic ticker from
// the server's background loop.
func (e *Engine) SweepDueOutcomes(ctx context.Context, outcomes OutcomeRepo, concurrency int) error {
	due, err := outcomes.DueBefore(ctx, e.Clock.Now())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, p := range due {
		p := p
		g.Go(func() error {
			delta, err := e.IngestEvidence(gctx, p.AgentID, types.TrustEvidence{
				EvidenceID:  uuid.NewString(),
				Dimension:   p.Dimension,
				Impact:      p.PositiveImpact,
				Source:      "execution_outcome_window_closed",
				CollectedAt: e.Clock.Now(),
			})
			if err != nil {
				return err
			}
			delta.CorrelationID = p.CorrelationID
			if err := outcomes.Delete(gctx, p.CorrelationID); err != nil {
				return err
			}
			if e.Logger != nil {
				e.Logger.Debug("trust: committed temporal outcome window",
					zap.String("correlation_id", p.CorrelationID))
			}
			return nil
		})
	}
	return g.Wait()
}
