package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"invarity/internal/repo"
	"invarity/internal/types"
)

// DecisionRepo persists Decision rows, uniquely indexed on intent_id so
// GetByIntent can serve the orchestrator's idempotency check with a
// single lookup.
type DecisionRepo struct {
	pool *Pool
}

func NewDecisionRepo(pool *Pool) *DecisionRepo { return &DecisionRepo{pool: pool} }

var _ repo.DecisionRepo = (*DecisionRepo)(nil)

func (r *DecisionRepo) Get(ctx context.Context, decisionID string) (*types.Decision, error) {
	return r.scan(ctx, `WHERE decision_id = $1`, decisionID)
}

func (r *DecisionRepo) GetByIntent(ctx context.Context, intentID string) (*types.Decision, error) {
	return r.scan(ctx, `WHERE intent_id = $1`, intentID)
}

func (r *DecisionRepo) GetByCorrelation(ctx context.Context, correlationID string) (*types.Decision, error) {
	return r.scan(ctx, `WHERE correlation_id = $1 ORDER BY decided_at DESC LIMIT 1`, correlationID)
}

func (r *DecisionRepo) scan(ctx context.Context, where string, arg any) (*types.Decision, error) {
	row := r.pool.DB.QueryRow(ctx, `
		SELECT decision_id, intent_id, agent_id, correlation_id, permitted, constraints,
		       trust_band, trust_score, policy_set_id, denial_reason, reasoning,
		       remediations, decided_at, expires_at, latency_ms, version
		FROM decisions `+where, arg)

	var d types.Decision
	var constraintsJSON, reasoningJSON, remediationsJSON []byte
	if err := row.Scan(&d.DecisionID, &d.IntentID, &d.AgentID, &d.CorrelationID, &d.Permitted, &constraintsJSON,
		&d.TrustBand, &d.TrustScore, &d.PolicySetID, &d.DenialReason, &reasoningJSON,
		&remediationsJSON, &d.DecidedAt, &d.ExpiresAt, &d.LatencyMs, &d.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}

	if len(constraintsJSON) > 0 {
		d.Constraints = &types.Constraints{}
		_ = json.Unmarshal(constraintsJSON, d.Constraints)
	}
	_ = json.Unmarshal(reasoningJSON, &d.Reasoning)
	_ = json.Unmarshal(remediationsJSON, &d.Remediations)
	return &d, nil
}

func (r *DecisionRepo) Put(ctx context.Context, decision *types.Decision) error {
	constraintsJSON, err := json.Marshal(decision.Constraints)
	if err != nil {
		return err
	}
	reasoningJSON, err := json.Marshal(decision.Reasoning)
	if err != nil {
		return err
	}
	remediationsJSON, err := json.Marshal(decision.Remediations)
	if err != nil {
		return err
	}

	_, err = r.pool.DB.Exec(ctx, `
		INSERT INTO decisions (decision_id, intent_id, agent_id, correlation_id, permitted, constraints,
			trust_band, trust_score, policy_set_id, denial_reason, reasoning, remediations,
			decided_at, expires_at, latency_ms, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (intent_id) DO NOTHING`,
		decision.DecisionID, decision.IntentID, decision.AgentID, decision.CorrelationID, decision.Permitted, constraintsJSON,
		decision.TrustBand, decision.TrustScore, decision.PolicySetID, decision.DenialReason, reasoningJSON, remediationsJSON,
		decision.DecidedAt, decision.ExpiresAt, decision.LatencyMs, decision.Version)
	return err
}
