package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/garyjia/expense-approval/pkg/database"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(*cobra.Command, []string) error {
			m, err := migrator()
			if err != nil {
				return err
			}
			return m.Up()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert all migrations",
		RunE: func(*cobra.Command, []string) error {
			m, err := migrator()
			if err != nil {
				return err
			}
			return m.Down()
		},
	})
	return cmd
}

func migrator() (*database.Migrator, error) {
	if cfg.Database.Driver != "sqlite" {
		return nil, fmt.Errorf("migrations need the sqlite driver, configured driver is %q", cfg.Database.Driver)
	}
	if err := ensureDataDir(); err != nil {
		return nil, err
	}
	return database.NewMigrator(dbConfig(), logger), nil
}

func ensureDataDir() error {
	dir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

func dbConfig() database.Config {
	return database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}
