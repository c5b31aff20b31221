package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deepresearch/engine/internal/config"
	"github.com/deepresearch/engine/internal/sidelog"
)

func migrateCMD() *cobra.Command {
	var migDir string
	const migDirDefault = "file://internal/sidelog/migrations"
	var direction string
	var steps int
	var cfgPath string

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run sidelog (Postgres) schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Sidelog.Driver != "postgres" {
				return fmt.Errorf("sidelog.driver must be postgres to migrate (got %q)", cfg.Sidelog.Driver)
			}
			if cfg.Sidelog.Postgres.URL == "" {
				return fmt.Errorf("sidelog.postgres.url is not configured")
			}
			if migDir == "" {
				migDir = migDirDefault
			}
			return sidelog.Migrate(migDir, cfg.Sidelog.Postgres.URL, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", migDirDefault, "migrations source (file://...)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config.yaml)")

	return migrate
}
