package trust

import (
	"context"
	"sync"
	"time"

	"invarity/internal/types"
)

// InMemoryProfileRepo is a mutex-guarded ProfileRepo for tests and
// single-process deployments.
type InMemoryProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*types.TrustProfile
}

// NewInMemoryProfileRepo creates an empty repo.
func NewInMemoryProfileRepo() *InMemoryProfileRepo {
	return &InMemoryProfileRepo{profiles: make(map[string]*types.TrustProfile)}
}

// Seed inserts a profile directly, bypassing CAS, for test setup.
func (r *InMemoryProfileRepo) Seed(profile *types.TrustProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *profile
	r.profiles[profile.AgentID] = &clone
}

func (r *InMemoryProfileRepo) Get(ctx context.Context, agentID string) (*types.TrustProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[agentID]
	if !ok {
		return nil, types.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *InMemoryProfileRepo) Save(ctx context.Context, profile *types.TrustProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.profiles[profile.AgentID]
	if ok && existing.Version != profile.Version-1 {
		return types.ErrProfileVersionConflict
	}
	clone := *profile
	r.profiles[profile.AgentID] = &clone
	return nil
}

// InMemoryOutcomeRepo is a mutex-guarded OutcomeRepo for tests.
type InMemoryOutcomeRepo struct {
	mu       sync.Mutex
	pendings map[string]*PendingOutcome
}

// NewInMemoryOutcomeRepo creates an empty repo.
func NewInMemoryOutcomeRepo() *InMemoryOutcomeRepo {
	return &InMemoryOutcomeRepo{pendings: make(map[string]*PendingOutcome)}
}

func (r *InMemoryOutcomeRepo) Save(ctx context.Context, pending *PendingOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *pending
	r.pendings[pending.CorrelationID] = &clone
	return nil
}

func (r *InMemoryOutcomeRepo) Get(ctx context.Context, correlationID string) (*PendingOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pendings[correlationID]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (r *InMemoryOutcomeRepo) DueBefore(ctx context.Context, cutoff time.Time) ([]*PendingOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*PendingOutcome
	for _, p := range r.pendings {
		if !p.CloseAt.After(cutoff) {
			clone := *p
			due = append(due, &clone)
		}
	}
	return due, nil
}

func (r *InMemoryOutcomeRepo) Delete(ctx context.Context, correlationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pendings, correlationID)
	return nil
}
