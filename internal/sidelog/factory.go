package sidelog

import (
	"fmt"

	"github.com/deepresearch/engine/internal/config"
)

// New builds the SideLogger named by cfg.Driver: "none" (default),
// "redis", or "postgres".
func New(cfg config.SidelogConfig) (SideLogger, error) {
	switch cfg.Driver {
	case "", "none":
		return NoOp{}, nil
	case "redis":
		return NewRedisLogger(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Stream), nil
	case "postgres":
		return NewPostgresLogger(cfg.Postgres.URL)
	default:
		return nil, fmt.Errorf("sidelog: unknown driver %q", cfg.Driver)
	}
}
