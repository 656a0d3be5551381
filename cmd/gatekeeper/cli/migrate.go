package cli

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/abund-gatekeeper/internal/config"
	"github.com/abund-gatekeeper/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
		Long:  "Apply or roll back the embedded Postgres migrations. The SQLite development store migrates itself on open.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrate) error {
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("apply migrations: %w", err)
				}
				return printVersion(m)
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrate) error {
				if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("roll back migrations: %w", err)
				}
				return printVersion(m)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, printVersion)
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(m *migrate.Migrate) error) error {
	base, err := config.LoadBase(cmd.Context())
	if err != nil {
		return err
	}
	if base.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}

	m, err := migrations.New(base.DatabaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

func printVersion(m *migrate.Migrate) error {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		fmt.Println("Schema version: none")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Printf("Schema version: %d (dirty: %t)\n", version, dirty)
	return nil
}
