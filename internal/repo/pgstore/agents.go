package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"invarity/internal/repo"
	"invarity/internal/types"
)

// AgentRepo persists Agent rows in the agents table.
type AgentRepo struct {
	pool *Pool
}

func NewAgentRepo(pool *Pool) *AgentRepo { return &AgentRepo{pool: pool} }

var _ repo.AgentRepo = (*AgentRepo)(nil)

func (r *AgentRepo) Get(ctx context.Context, agentID string) (*types.Agent, error) {
	row := r.pool.DB.QueryRow(ctx, `
		SELECT id, tenant_id, profile_id, created_at, deleted_at
		FROM agents WHERE id = $1`, agentID)

	var a types.Agent
	if err := row.Scan(&a.ID, &a.TenantID, &a.ProfileID, &a.CreatedAt, &a.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *AgentRepo) Put(ctx context.Context, agent *types.Agent) error {
	_, err := r.pool.DB.Exec(ctx, `
		INSERT INTO agents (id, tenant_id, profile_id, created_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			profile_id = EXCLUDED.profile_id,
			deleted_at = EXCLUDED.deleted_at`,
		agent.ID, agent.TenantID, agent.ProfileID, agent.CreatedAt, agent.DeletedAt)
	return err
}
