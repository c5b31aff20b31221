package sidelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/deepresearch/engine/internal/session"
)

// PostgresLogger appends each event as a row in session_events, migrated
// via internal/sidelog/migrations.
type PostgresLogger struct {
	db *sql.DB
}

// NewPostgresLogger opens a connection pool against dsn.
func NewPostgresLogger(dsn string) (*PostgresLogger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sidelog: open postgres: %w", err)
	}
	return &PostgresLogger{db: db}, nil
}

func (l *PostgresLogger) Append(ctx context.Context, sessionID string, ev session.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("sidelog: marshal event data: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, event_type, data, occurred_at) VALUES ($1, $2, $3, $4)`,
		sessionID, string(ev.Type), data, ev.Timestamp,
	)
	return err
}

func (l *PostgresLogger) Close() error {
	return l.db.Close()
}
