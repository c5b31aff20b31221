package sidelog

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies the session_events schema migrations against dsn. dir
// defaults to file://internal/sidelog/migrations.
func Migrate(dir, dsn, direction string, steps int) error {
	if dir == "" {
		dir = "file://internal/sidelog/migrations"
	}
	m, err := migrate.New(dir, dsn)
	if err != nil {
		return fmt.Errorf("sidelog: migrate.New: %w", err)
	}
	switch direction {
	case "up":
		if steps > 0 {
			return m.Steps(steps)
		}
		return m.Up()
	case "down":
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	default:
		return fmt.Errorf("sidelog: unknown migration direction: %s", direction)
	}
}
