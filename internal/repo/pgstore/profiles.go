package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"invarity/internal/trust"
	"invarity/internal/types"
)

// ProfileRepo implements trust.ProfileRepo with optimistic concurrency
// via a `WHERE version = $n` update, matching the CAS contract
// trust.Engine depends on.
type ProfileRepo struct {
	pool *Pool
}

func NewProfileRepo(pool *Pool) *ProfileRepo { return &ProfileRepo{pool: pool} }

var _ trust.ProfileRepo = (*ProfileRepo)(nil)

func (r *ProfileRepo) Get(ctx context.Context, agentID string) (*types.TrustProfile, error) {
	row := r.pool.DB.QueryRow(ctx, `
		SELECT profile_id, agent_id, version, dimensions, weights, composite_score,
		       observation_tier, adjusted_score, band, circuit_broken, calculated_at,
		       valid_until, last_drop_at, last_promotion_at, last_demotion_at,
		       oscillation, pending_gains, evidence
		FROM trust_profiles WHERE agent_id = $1`, agentID)

	var p types.TrustProfile
	var dimsJSON, weightsJSON, oscJSON, pendingJSON, evidenceJSON []byte
	if err := row.Scan(&p.ProfileID, &p.AgentID, &p.Version, &dimsJSON, &weightsJSON, &p.CompositeScore,
		&p.ObservationTier, &p.AdjustedScore, &p.Band, &p.CircuitBroken, &p.CalculatedAt,
		&p.ValidUntil, &p.LastDropAt, &p.LastPromotionAt, &p.LastDemotionAt,
		&oscJSON, &pendingJSON, &evidenceJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}

	_ = json.Unmarshal(dimsJSON, &p.Dimensions)
	_ = json.Unmarshal(weightsJSON, &p.Weights)
	if len(oscJSON) > 0 {
		_ = json.Unmarshal(oscJSON, &p.Oscillation)
	}
	if len(pendingJSON) > 0 {
		_ = json.Unmarshal(pendingJSON, &p.PendingGains)
	}
	if len(evidenceJSON) > 0 {
		_ = json.Unmarshal(evidenceJSON, &p.Evidence)
	}
	return &p, nil
}

// Save performs an insert-or-CAS-update. The first save for an agent
// (version 1) inserts unconditionally; every subsequent save must match
// the row's current version, matching the version-1 convention
// trust.Engine uses when it increments Version before calling Save.
func (r *ProfileRepo) Save(ctx context.Context, profile *types.TrustProfile) error {
	dimsJSON, err := json.Marshal(profile.Dimensions)
	if err != nil {
		return err
	}
	weightsJSON, err := json.Marshal(profile.Weights)
	if err != nil {
		return err
	}
	oscJSON, err := json.Marshal(profile.Oscillation)
	if err != nil {
		return err
	}
	pendingJSON, err := json.Marshal(profile.PendingGains)
	if err != nil {
		return err
	}
	evidenceJSON, err := json.Marshal(profile.Evidence)
	if err != nil {
		return err
	}

	if profile.Version <= 1 {
		_, err := r.pool.DB.Exec(ctx, `
			INSERT INTO trust_profiles (profile_id, agent_id, version, dimensions, weights,
				composite_score, observation_tier, adjusted_score, band, circuit_broken,
				calculated_at, valid_until, last_drop_at, last_promotion_at, last_demotion_at,
				oscillation, pending_gains, evidence)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
			ON CONFLICT (agent_id) DO NOTHING`,
			profile.ProfileID, profile.AgentID, profile.Version, dimsJSON, weightsJSON,
			profile.CompositeScore, profile.ObservationTier, profile.AdjustedScore, profile.Band, profile.CircuitBroken,
			profile.CalculatedAt, profile.ValidUntil, profile.LastDropAt, profile.LastPromotionAt, profile.LastDemotionAt,
			oscJSON, pendingJSON, evidenceJSON)
		return err
	}

	tag, err := r.pool.DB.Exec(ctx, `
		UPDATE trust_profiles SET
			version = $1, dimensions = $2, weights = $3, composite_score = $4,
			observation_tier = $5, adjusted_score = $6, band = $7, circuit_broken = $8,
			calculated_at = $9, valid_until = $10, last_drop_at = $11,
			last_promotion_at = $12, last_demotion_at = $13, oscillation = $14,
			pending_gains = $15, evidence = $16
		WHERE agent_id = $17 AND version = $18`,
		profile.Version, dimsJSON, weightsJSON, profile.CompositeScore,
		profile.ObservationTier, profile.AdjustedScore, profile.Band, profile.CircuitBroken,
		profile.CalculatedAt, profile.ValidUntil, profile.LastDropAt,
		profile.LastPromotionAt, profile.LastDemotionAt, oscJSON,
		pendingJSON, evidenceJSON, profile.AgentID, profile.Version-1)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrProfileVersionConflict
	}
	return nil
}
