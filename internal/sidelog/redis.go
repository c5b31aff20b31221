package sidelog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/deepresearch/engine/internal/session"
)

// RedisLogger appends each event as one XADD entry on a shared stream, with
// sessionId, type and JSON data fields so a downstream consumer can
// demultiplex.
type RedisLogger struct {
	client *redis.Client
	stream string
}

// NewRedisLogger connects to addr/db and mirrors events onto stream.
func NewRedisLogger(addr, password string, db int, stream string) *RedisLogger {
	if stream == "" {
		stream = "research:events"
	}
	return &RedisLogger{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		stream: stream,
	}
}

func (l *RedisLogger) Append(ctx context.Context, sessionID string, ev session.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sidelog: marshal event: %w", err)
	}
	return l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.stream,
		Values: map[string]any{
			"sessionId": sessionID,
			"type":      string(ev.Type),
			"data":      string(data),
		},
	}).Err()
}

func (l *RedisLogger) Close() error {
	return l.client.Close()
}
