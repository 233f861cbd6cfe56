package proofchain

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"invarity/internal/types"
)

// Store is the EventStore abstraction: append, tail, stream, verify.
// Implementations must serialize appends per correlationId (a per-key lock
// or partitioned queue) and report types.ErrChainConflict when the tail
// changed between read and write.
type Store interface {
	// Append persists event with its previousHash and eventHash computed
	// against the current tail of event.CorrelationID. Returns
	// types.ErrChainConflict if the tail advanced concurrently.
	Append(ctx context.Context, event *types.ProofEvent) error

	// Tail returns the eventHash of the most recent event for correlationID,
	// or "" if none exists yet.
	Tail(ctx context.Context, correlationID string) (string, error)

	// Stream returns events matching filter in sequence order. A nil filter
	// returns every event the store holds.
	Stream(ctx context.Context, filter *Filter) ([]types.ProofEvent, error)

	// Verify walks correlationID's chain end to end, recomputing each hash.
	Verify(ctx context.Context, correlationID string) (*types.ChainVerificationResult, error)
}

// Filter narrows Stream to a correlationId and/or a minimum sequence number.
type Filter struct {
	CorrelationID string
	AgentID       string
	SinceSeq      int64
}

// Notifier is implemented by stores that can push newly appended events to
// subscribers (the Postgres-backed store does this via LISTEN/NOTIFY). It is
// optional: callers that only need polling use Stream directly.
type Notifier interface {
	Subscribe(ctx context.Context, correlationID string) (<-chan types.ProofEvent, func(), error)
}

const (
	maxAppendRetries = 5
	retryBaseDelay   = 20 * time.Millisecond
)

// AppendWithRetry retries Append up to maxAppendRetries times with jittered
// backoff on types.ErrChainConflict. Persistent failure is surfaced as
// types.ErrStoreUnavailable.
func AppendWithRetry(ctx context.Context, store Store, event *types.ProofEvent, logger *zap.Logger) error {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= maxAppendRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int64N(int64(delay)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay + jitter):
			}
			delay *= 2
		}

		err := store.Append(ctx, event)
		if err == nil {
			return nil
		}
		lastErr = err
		if err != types.ErrChainConflict {
			return err
		}
		if logger != nil {
			logger.Warn("proofchain: append conflict, retrying",
				zap.String("correlation_id", event.CorrelationID),
				zap.Int("attempt", attempt+1))
		}
	}
	if logger != nil {
		logger.Error("proofchain: append exhausted retries",
			zap.String("correlation_id", event.CorrelationID),
			zap.Error(lastErr))
	}
	return types.ErrStoreUnavailable
}

// InMemoryStore is a mutex-guarded, map-backed Store for tests and
// single-process deployments.
type InMemoryStore struct {
	mu     sync.Mutex
	chains map[string][]types.ProofEvent // correlationId -> events in seq order
	subs   map[string][]chan types.ProofEvent
}

// NewInMemoryStore creates an empty in-memory event store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		chains: make(map[string][]types.ProofEvent),
		subs:   make(map[string][]chan types.ProofEvent),
	}
}

func (s *InMemoryStore) Append(ctx context.Context, event *types.ProofEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[event.CorrelationID]
	var previousHash string
	if len(chain) > 0 {
		previousHash = chain[len(chain)-1].EventHash
	}

	// Detect a concurrent append that already advanced the tail past what
	// the caller observed: event.PreviousHash, if set by the caller ahead
	// of time, must match what we see now.
	if event.PreviousHash != "" && event.PreviousHash != previousHash {
		return types.ErrChainConflict
	}

	event.PreviousHash = previousHash
	event.SequenceNum = int64(len(chain))
	event.RecordedAt = time.Now().UTC()

	hash, err := computeEventHash(event, previousHash)
	if err != nil {
		return err
	}
	event.EventHash = hash

	s.chains[event.CorrelationID] = append(chain, *event)

	for _, ch := range s.subs[event.CorrelationID] {
		select {
		case ch <- *event:
		default:
		}
	}

	return nil
}

func (s *InMemoryStore) Tail(ctx context.Context, correlationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[correlationID]
	if len(chain) == 0 {
		return "", nil
	}
	return chain[len(chain)-1].EventHash, nil
}

func (s *InMemoryStore) Stream(ctx context.Context, filter *Filter) ([]types.ProofEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []types.ProofEvent
	if filter != nil && filter.CorrelationID != "" {
		for _, e := range s.chains[filter.CorrelationID] {
			if e.SequenceNum >= filter.SinceSeq {
				result = append(result, e)
			}
		}
		return result, nil
	}

	for _, chain := range s.chains {
		for _, e := range chain {
			if filter != nil && filter.AgentID != "" && e.AgentID != filter.AgentID {
				continue
			}
			if filter != nil && e.SequenceNum < filter.SinceSeq {
				continue
			}
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *InMemoryStore) Verify(ctx context.Context, correlationID string) (*types.ChainVerificationResult, error) {
	s.mu.Lock()
	chain := make([]types.ProofEvent, len(s.chains[correlationID]))
	copy(chain, s.chains[correlationID])
	s.mu.Unlock()

	return verifyChain(chain)
}

// Subscribe registers a channel that receives events appended to
// correlationID after this call. The returned func unregisters it.
func (s *InMemoryStore) Subscribe(ctx context.Context, correlationID string) (<-chan types.ProofEvent, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan types.ProofEvent, 16)
	s.subs[correlationID] = append(s.subs[correlationID], ch)

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subs[correlationID]
		for i, c := range subs {
			if c == ch {
				s.subs[correlationID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel, nil
}

// VerifyChain walks events in sequence order, recomputing each hash and
// asserting linkage, reporting brokenAt on the first mismatch. Exported so
// out-of-process Store implementations (pgstore) can reuse the same
// verification logic against events they stream back themselves.
func VerifyChain(chain []types.ProofEvent) (*types.ChainVerificationResult, error) {
	return verifyChain(chain)
}

func verifyChain(chain []types.ProofEvent) (*types.ChainVerificationResult, error) {
	var previousHash string
	for i := range chain {
		e := chain[i]
		wantHash, err := computeEventHash(&e, previousHash)
		if err != nil {
			return nil, err
		}
		if wantHash != e.EventHash || e.PreviousHash != previousHash {
			return &types.ChainVerificationResult{
				Valid:          false,
				VerifiedEvents: i,
				BrokenAt:       e.EventID,
			}, nil
		}
		previousHash = e.EventHash
	}
	return &types.ChainVerificationResult{Valid: true, VerifiedEvents: len(chain)}, nil
}
