package sidelog_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/deepresearch/engine/internal/sidelog"
	"github.com/deepresearch/engine/internal/session"
)

func TestPostgresLoggerAppendsEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgUser, pgPassword, pgDB := "research", "research", "research"
	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase(pgDB),
		tcPostgres.WithUsername(pgUser),
		tcPostgres.WithPassword(pgPassword),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgUser, pgPassword, host, port.Port(), pgDB)

	if err := applyMigration(ctx, dsn); err != nil {
		t.Fatalf("apply migration: %v", err)
	}

	logger, err := sidelog.NewPostgresLogger(dsn)
	if err != nil {
		t.Fatalf("new postgres logger: %v", err)
	}
	defer logger.Close()

	ev := session.Event{
		Type:      session.EventSessionStatusChange,
		Data:      session.SessionStatusChangePayload{Status: session.StatusCompleted},
		Timestamp: time.Now(),
	}
	if err := logger.Append(ctx, "sess-1", ev); err != nil {
		t.Fatalf("append: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM session_events WHERE session_id = $1`, "sess-1").Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestRedisLoggerAppendsToStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	logger := sidelog.NewRedisLogger(fmt.Sprintf("%s:%s", host, port.Port()), "", 0, "research:events:test")
	defer logger.Close()

	ev := session.Event{
		Type:      session.EventAgentSpawned,
		Data:      session.AgentSpawnedPayload{AgentID: "agent-1", Task: "investigate"},
		Timestamp: time.Now(),
	}
	if err := logger.Append(ctx, "sess-1", ev); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestNoOpLoggerDiscardsEverything(t *testing.T) {
	var l sidelog.NoOp
	if err := l.Append(context.Background(), "sess-1", session.Event{}); err != nil {
		t.Fatalf("noop append returned error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("noop close returned error: %v", err)
	}
}

func applyMigration(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS session_events (
    id BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    data JSONB NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL
);`)
	return err
}
