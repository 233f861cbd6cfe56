//go:build integration

// Integration tests against a real Postgres instance, started via
// testcontainers-go. Run with `go test -tags=integration ./internal/repo/pgstore/...`;
// requires a working Docker daemon.
package pgstore

import (
	"context"
	_ "embed"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"invarity/internal/types"
)

//go:embed schema.sql
var schemaSQL string

var testPool *Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("invarity"),
		postgres.WithUsername("invarity"),
		postgres.WithPassword("invarity"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		panic(err)
	}
	defer container.Terminate(ctx)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic(err)
	}

	pool, err := Open(ctx, dsn, zap.NewNop())
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	if _, err := pool.DB.Exec(ctx, schemaSQL); err != nil {
		panic(err)
	}

	testPool = pool
	m.Run()
}

func TestAgentRepoPutGetRoundTrip(t *testing.T) {
	repo := NewAgentRepo(testPool)
	agent := &types.Agent{
		ID:        "agent-pg-1",
		TenantID:  "tenant-1",
		ProfileID: "profile-1",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	if err := repo.Put(context.Background(), agent); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := repo.Get(context.Background(), agent.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != agent.ID || got.TenantID != agent.TenantID {
		t.Errorf("got %+v, want %+v", got, agent)
	}
}

func TestIntentRepoPutGetRoundTrip(t *testing.T) {
	agents := NewAgentRepo(testPool)
	if err := agents.Put(context.Background(), &types.Agent{
		ID: "agent-pg-2", TenantID: "tenant-1", ProfileID: "profile-2", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	repo := NewIntentRepo(testPool)
	intent := &types.Intent{
		IntentID:        "intent-pg-1",
		TenantID:        "tenant-1",
		AgentID:         "agent-pg-2",
		CorrelationID:   "corr-pg-1",
		Action:          "read_file",
		ActionType:      types.ActionRead,
		DataSensitivity: types.SensitivityInternal,
		Reversibility:   types.ReversibilityReversible,
		Status:          types.IntentPending,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	if err := repo.Put(context.Background(), intent); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := repo.Get(context.Background(), intent.IntentID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Action != intent.Action || got.Status != intent.Status {
		t.Errorf("got %+v, want %+v", got, intent)
	}
}

func TestEventStoreAppendAndVerify(t *testing.T) {
	store := NewEventStore(testPool)
	correlationID := "corr-pg-events-1"

	event := &types.ProofEvent{
		EventID:       "event-pg-1",
		EventType:     types.EventIntentReceived,
		CorrelationID: correlationID,
		Payload:       []byte(`{}`),
		OccurredAt:    time.Now().UTC(),
	}

	if err := store.Append(context.Background(), event); err != nil {
		t.Fatalf("append: %v", err)
	}

	result, err := store.Verify(context.Background(), correlationID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid || result.VerifiedEvents != 1 {
		t.Errorf("got %+v, want a single valid event", result)
	}
}
