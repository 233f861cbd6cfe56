package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"invarity/internal/proofchain"
	"invarity/internal/types"
)

const eventsChannel = "invarity_proof_events"

// EventStore implements proofchain.Store and proofchain.Notifier over a
// proof_events table, reserving the next sequence number per
// correlation_id with a row lock so concurrent appenders serialize
// instead of racing on the chain tail.
type EventStore struct {
	pool *Pool
}

func NewEventStore(pool *Pool) *EventStore { return &EventStore{pool: pool} }

var (
	_ proofchain.Store    = (*EventStore)(nil)
	_ proofchain.Notifier = (*EventStore)(nil)
)

// Append reserves the next sequence number for event.CorrelationID under
// a row lock, verifies the caller's view of the tail still matches, and
// inserts. A concurrent appender that commits first causes this one's
// tail check to fail with types.ErrChainConflict.
func (s *EventStore) Append(ctx context.Context, event *types.ProofEvent) error {
	tx, err := s.pool.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var tail string
	var nextSeq int64
	row := tx.QueryRow(ctx, `
		SELECT event_hash, sequence_num FROM proof_events
		WHERE correlation_id = $1
		ORDER BY sequence_num DESC LIMIT 1
		FOR UPDATE`, event.CorrelationID)
	switch err := row.Scan(&tail, &nextSeq); err {
	case nil:
		nextSeq++
	default:
		tail = ""
		nextSeq = 0
	}

	if event.PreviousHash != "" && event.PreviousHash != tail {
		return types.ErrChainConflict
	}

	event.PreviousHash = tail
	event.SequenceNum = nextSeq
	// timestamptz keeps microseconds, so both timestamps are truncated
	// before hashing to match what Stream reads back.
	event.OccurredAt = event.OccurredAt.UTC().Truncate(time.Microsecond)
	event.RecordedAt = time.Now().UTC().Truncate(time.Microsecond)

	hash, err := proofchain.ComputeEventHash(event, tail)
	if err != nil {
		return err
	}
	event.EventHash = hash

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO proof_events (event_id, sequence_num, event_type, correlation_id, agent_id,
			payload, previous_hash, event_hash, occurred_at, recorded_at, signed_by, signature)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		event.EventID, event.SequenceNum, event.EventType, event.CorrelationID, event.AgentID,
		event.Payload, event.PreviousHash, event.EventHash, event.OccurredAt, event.RecordedAt, event.SignedBy, event.Signature); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, eventsChannel, string(payload)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *EventStore) Tail(ctx context.Context, correlationID string) (string, error) {
	row := s.pool.DB.QueryRow(ctx, `
		SELECT event_hash FROM proof_events
		WHERE correlation_id = $1 ORDER BY sequence_num DESC LIMIT 1`, correlationID)
	var hash string
	if err := row.Scan(&hash); err != nil {
		return "", nil
	}
	return hash, nil
}

func (s *EventStore) Stream(ctx context.Context, filter *proofchain.Filter) ([]types.ProofEvent, error) {
	query := `SELECT event_id, sequence_num, event_type, correlation_id, agent_id, payload,
		previous_hash, event_hash, occurred_at, recorded_at, signed_by, signature
		FROM proof_events WHERE 1=1`
	args := []any{}
	n := 0
	next := func() string { n++; return "$" + itoa(n) }

	if filter != nil && filter.CorrelationID != "" {
		query += " AND correlation_id = " + next()
		args = append(args, filter.CorrelationID)
	}
	if filter != nil && filter.AgentID != "" {
		query += " AND agent_id = " + next()
		args = append(args, filter.AgentID)
	}
	if filter != nil && filter.SinceSeq != 0 {
		query += " AND sequence_num >= " + next()
		args = append(args, filter.SinceSeq)
	}
	query += " ORDER BY correlation_id, sequence_num"

	rows, err := s.pool.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.ProofEvent
	for rows.Next() {
		var e types.ProofEvent
		if err := rows.Scan(&e.EventID, &e.SequenceNum, &e.EventType, &e.CorrelationID, &e.AgentID,
			&e.Payload, &e.PreviousHash, &e.EventHash, &e.OccurredAt, &e.RecordedAt, &e.SignedBy, &e.Signature); err != nil {
			return nil, err
		}
		e.OccurredAt, e.RecordedAt = e.OccurredAt.UTC(), e.RecordedAt.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *EventStore) Verify(ctx context.Context, correlationID string) (*types.ChainVerificationResult, error) {
	events, err := s.Stream(ctx, &proofchain.Filter{CorrelationID: correlationID})
	if err != nil {
		return nil, err
	}
	return proofchain.VerifyChain(events)
}

// Subscribe opens its own LISTEN connection through the pool, filtering
// pg_notify payloads down to the ones matching correlationID. The
// returned cancel func stops the subscription and releases that
// connection.
func (s *EventStore) Subscribe(ctx context.Context, correlationID string) (<-chan types.ProofEvent, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	raw, err := s.pool.listen(subCtx, eventsChannel)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	out := make(chan types.ProofEvent, 16)

	go func() {
		defer close(out)
		for {
			select {
			case payload, ok := <-raw:
				if !ok {
					return
				}
				var e types.ProofEvent
				if err := json.Unmarshal([]byte(payload), &e); err != nil {
					continue
				}
				if e.CorrelationID != correlationID {
					continue
				}
				select {
				case out <- e:
				case <-subCtx.Done():
					return
				}
			case <-subCtx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}
