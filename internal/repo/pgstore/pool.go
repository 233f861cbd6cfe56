// Package pgstore is the Postgres-backed repository family: AgentRepo,
// IntentRepo, DecisionRepo, and trust.ProfileRepo over pgx/pgxpool, plus a
// proofchain.Store whose Notifier half rides a dedicated LISTEN/NOTIFY
// connection.
package pgstore

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Pool wraps a pgxpool.Pool. Each Notifier.Subscribe call acquires its
// own auto-reconnecting LISTEN/NOTIFY connection from it via listen.
type Pool struct {
	DB     *pgxpool.Pool
	logger *zap.Logger
}

// Open connects to dsn and verifies reachability with a ping.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	return &Pool{DB: pool, logger: logger}, nil
}

func (p *Pool) Close() {
	p.DB.Close()
}

// listen acquires a dedicated connection, issues LISTEN channel, and
// reconnects with jittered backoff if the connection drops, forwarding
// raw notification payloads to the returned channel until ctx is
// cancelled.
func (p *Pool) listen(ctx context.Context, channel string) (<-chan string, error) {
	out := make(chan string, 64)

	go func() {
		defer close(out)
		backoff := 100 * time.Millisecond
		const maxBackoff = 10 * time.Second

		for ctx.Err() == nil {
			conn, err := p.DB.Acquire(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.sleepBackoff(ctx, &backoff, maxBackoff)
				continue
			}

			if _, err := conn.Exec(ctx, "LISTEN "+quoteIdent(channel)); err != nil {
				conn.Release()
				p.sleepBackoff(ctx, &backoff, maxBackoff)
				continue
			}

			backoff = 100 * time.Millisecond
			p.drainNotifications(ctx, conn, out)
			conn.Release()
		}
	}()

	return out, nil
}

func (p *Pool) drainNotifications(ctx context.Context, conn *pgxpool.Conn, out chan<- string) {
	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if p.logger != nil && ctx.Err() == nil {
				p.logger.Warn("pgstore: listen connection dropped", zap.Error(err))
			}
			return
		}
		select {
		case out <- notification.Payload:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) sleepBackoff(ctx context.Context, backoff *time.Duration, max time.Duration) {
	jitter := time.Duration(rand.Int64N(int64(*backoff)))
	select {
	case <-time.After(*backoff + jitter):
	case <-ctx.Done():
	}
	*backoff *= 2
	if *backoff > max {
		*backoff = max
	}
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}
