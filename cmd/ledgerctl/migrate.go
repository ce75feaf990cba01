package main

import (
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/transcribe/backend/internal/infrastructure/logger"
	"github.com/transcribe/backend/internal/infrastructure/migration"
	"github.com/transcribe/backend/migrations"
)

const defaultMigrationsDir = "migrations"

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.PersistentFlags().StringVar(&a.databaseURL, "database-url", "", "postgres URL overriding the configured database")
	cmd.PersistentFlags().StringVar(&a.sourceDir, "source-dir", "", "read migrations from this directory instead of the embedded set")

	cmd.AddCommand(
		newMigrateUpCmd(a),
		newMigrateDownCmd(a),
		newMigrateVersionCmd(a),
		newMigrateForceCmd(a),
		newMigrateCreateCmd(),
	)
	return cmd
}

func newMigrateUpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.databaseURL == "" {
				db, err := a.database()
				if err != nil {
					return err
				}
				if db.Driver == "sqlite" {
					if err := db.AutoMigrate(); err != nil {
						return err
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "schema up to date (sqlite)")
					return nil
				}
			}
			m, err := a.migrator()
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(cmd, m)
		},
	}
}

func newMigrateDownCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "down [n]",
		Short: "Roll back the last n migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}

			m, err := a.migrator()
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			if err := m.Down(steps); err != nil {
				return err
			}
			return printVersion(cmd, m)
		},
	}
}

func newMigrateVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.migrator()
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			return printVersion(cmd, m)
		},
	}
}

func newMigrateCreateCmd() *cobra.Command {
	var (
		dir         string
		description string
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create the next numbered up/down migration pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mf, err := migration.CreateMigration(dir, args[0], description)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, mf.UpPath)
			_, _ = fmt.Fprintln(out, mf.DownPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", defaultMigrationsDir, "migrations directory")
	cmd.Flags().StringVar(&description, "description", "", "description written into the file headers")
	return cmd
}

func newMigrateForceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations, clearing the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil || version < 0 {
				return fmt.Errorf("invalid version %q", args[0])
			}

			m, err := a.migrator()
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			if err := m.Force(version); err != nil {
				return err
			}
			return printVersion(cmd, m)
		},
	}
}

// migrator targets --database-url when given and the configured postgres
// database otherwise
func (a *app) migrator() (*migration.Migrator, error) {
	var source fs.FS = migrations.FS
	if a.sourceDir != "" {
		source = os.DirFS(a.sourceDir)
	}
	log := logger.Named(a.logger(), "migrate")

	if a.databaseURL != "" {
		return migration.Open(a.databaseURL, source, log)
	}

	db, err := a.database()
	if err != nil {
		return nil, err
	}
	if db.Driver != "postgres" {
		return nil, fmt.Errorf("versioned migrations require the postgres driver, got %s", db.Driver)
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, err
	}
	return migration.New(sqlDB, source, log)
}

func printVersion(cmd *cobra.Command, m *migration.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch {
	case version == 0 && !dirty:
		_, _ = fmt.Fprintln(out, "no migrations applied")
	case dirty:
		_, _ = fmt.Fprintf(out, "version %d (dirty)\n", version)
	default:
		_, _ = fmt.Fprintf(out, "version %d\n", version)
	}
	return nil
}
