package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"invarity/internal/repo"
	"invarity/internal/types"
)

// IntentRepo persists Intent rows, storing the resource scope, context
// map, and trust snapshot as JSONB columns.
type IntentRepo struct {
	pool *Pool
}

func NewIntentRepo(pool *Pool) *IntentRepo { return &IntentRepo{pool: pool} }

var _ repo.IntentRepo = (*IntentRepo)(nil)

func (r *IntentRepo) Get(ctx context.Context, intentID string) (*types.Intent, error) {
	row := r.pool.DB.QueryRow(ctx, `
		SELECT intent_id, tenant_id, agent_id, correlation_id, action, action_type,
		       resource_scope, data_sensitivity, reversibility, magnitude, context,
		       trust_snapshot, status, created_at, updated_at, expires_at, deleted_at
		FROM intents WHERE intent_id = $1`, intentID)

	var i types.Intent
	var resourceScope, contextJSON, trustSnapshotJSON []byte
	if err := row.Scan(&i.IntentID, &i.TenantID, &i.AgentID, &i.CorrelationID, &i.Action, &i.ActionType,
		&resourceScope, &i.DataSensitivity, &i.Reversibility, &i.Magnitude, &contextJSON,
		&trustSnapshotJSON, &i.Status, &i.CreatedAt, &i.UpdatedAt, &i.ExpiresAt, &i.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}

	if len(resourceScope) > 0 {
		_ = json.Unmarshal(resourceScope, &i.ResourceScope)
	}
	if len(contextJSON) > 0 {
		_ = json.Unmarshal(contextJSON, &i.Context)
	}
	if len(trustSnapshotJSON) > 0 {
		i.TrustSnapshot = &types.TrustProfile{}
		_ = json.Unmarshal(trustSnapshotJSON, i.TrustSnapshot)
	}
	return &i, nil
}

func (r *IntentRepo) Put(ctx context.Context, intent *types.Intent) error {
	resourceScope, err := json.Marshal(intent.ResourceScope)
	if err != nil {
		return err
	}
	contextJSON, err := json.Marshal(intent.Context)
	if err != nil {
		return err
	}
	var trustSnapshotJSON []byte
	if intent.TrustSnapshot != nil {
		trustSnapshotJSON, err = json.Marshal(intent.TrustSnapshot)
		if err != nil {
			return err
		}
	}

	_, err = r.pool.DB.Exec(ctx, `
		INSERT INTO intents (intent_id, tenant_id, agent_id, correlation_id, action, action_type,
			resource_scope, data_sensitivity, reversibility, magnitude, context, trust_snapshot,
			status, created_at, updated_at, expires_at, deleted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (intent_id) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			trust_snapshot = EXCLUDED.trust_snapshot,
			deleted_at = EXCLUDED.deleted_at`,
		intent.IntentID, intent.TenantID, intent.AgentID, intent.CorrelationID, intent.Action, intent.ActionType,
		resourceScope, intent.DataSensitivity, intent.Reversibility, intent.Magnitude, contextJSON, trustSnapshotJSON,
		intent.Status, intent.CreatedAt, intent.UpdatedAt, intent.ExpiresAt, intent.DeletedAt)
	return err
}
