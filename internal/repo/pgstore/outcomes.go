package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"invarity/internal/trust"
)

// OutcomeRepo persists pending temporal outcome windows in the
// pending_outcomes table, so SweepDueOutcomes survives process restarts.
type OutcomeRepo struct {
	pool *Pool
}

func NewOutcomeRepo(pool *Pool) *OutcomeRepo { return &OutcomeRepo{pool: pool} }

var _ trust.OutcomeRepo = (*OutcomeRepo)(nil)

func (r *OutcomeRepo) Save(ctx context.Context, pending *trust.PendingOutcome) error {
	_, err := r.pool.DB.Exec(ctx, `
		INSERT INTO pending_outcomes (correlation_id, agent_id, dimension, positive_impact,
			risk_profile, opened_at, close_at, reversed)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (correlation_id) DO UPDATE SET reversed = EXCLUDED.reversed`,
		pending.CorrelationID, pending.AgentID, pending.Dimension, pending.PositiveImpact,
		pending.RiskProfile, pending.OpenedAt, pending.CloseAt, pending.Reversed)
	return err
}

func (r *OutcomeRepo) Get(ctx context.Context, correlationID string) (*trust.PendingOutcome, error) {
	row := r.pool.DB.QueryRow(ctx, `
		SELECT correlation_id, agent_id, dimension, positive_impact, risk_profile, opened_at, close_at, reversed
		FROM pending_outcomes WHERE correlation_id = $1`, correlationID)
	var p trust.PendingOutcome
	if err := row.Scan(&p.CorrelationID, &p.AgentID, &p.Dimension, &p.PositiveImpact,
		&p.RiskProfile, &p.OpenedAt, &p.CloseAt, &p.Reversed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *OutcomeRepo) DueBefore(ctx context.Context, cutoff time.Time) ([]*trust.PendingOutcome, error) {
	rows, err := r.pool.DB.Query(ctx, `
		SELECT correlation_id, agent_id, dimension, positive_impact, risk_profile, opened_at, close_at, reversed
		FROM pending_outcomes WHERE close_at <= $1 AND NOT reversed`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*trust.PendingOutcome
	for rows.Next() {
		var p trust.PendingOutcome
		if err := rows.Scan(&p.CorrelationID, &p.AgentID, &p.Dimension, &p.PositiveImpact,
			&p.RiskProfile, &p.OpenedAt, &p.CloseAt, &p.Reversed); err != nil {
			return nil, err
		}
		due = append(due, &p)
	}
	return due, rows.Err()
}

func (r *OutcomeRepo) Delete(ctx context.Context, correlationID string) error {
	_, err := r.pool.DB.Exec(ctx, `DELETE FROM pending_outcomes WHERE correlation_id = $1`, correlationID)
	return err
}
