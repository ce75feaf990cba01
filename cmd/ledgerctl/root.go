package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	appidentity "github.com/transcribe/backend/internal/application/identity"
	infrabilling "github.com/transcribe/backend/internal/infrastructure/billing"
	"github.com/transcribe/backend/internal/infrastructure/config"
	"github.com/transcribe/backend/internal/infrastructure/logger"
	"github.com/transcribe/backend/internal/infrastructure/persistence"
	"go.uber.org/zap"
)

// app opens configuration and the database on first use, so commands that
// need neither (migrate create) run without them
type app struct {
	logLevel    string
	databaseURL string
	sourceDir   string

	cfg *config.Config
	log *zap.Logger
	db  *persistence.Database
}

func execute(args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()

	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.Execute()
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the transcription usage ledger",
		Long:          "ledgerctl manages the schema, bootstraps accounts, issues access tokens and audits quota counters against recorded usage.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newMigrateCmd(a),
		newAccountsCmd(a),
		newTokenCmd(a),
		newAuditCmd(a),
	)
	return rootCmd
}

func (a *app) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	a.cfg = cfg
	return cfg, nil
}

func (a *app) logger() *zap.Logger {
	if a.log != nil {
		return a.log
	}
	log, err := logger.New(&logger.Config{
		Level:  a.logLevel,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		log = zap.NewNop()
	}
	a.log = log
	return log
}

func (a *app) database() (*persistence.Database, error) {
	if a.db != nil {
		return a.db, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

func (a *app) ledger() (*appbilling.Ledger, *persistence.GormLedgerStore, error) {
	db, err := a.database()
	if err != nil {
		return nil, nil, err
	}
	store := persistence.NewGormLedgerStore(db.DB)
	return appbilling.NewLedger(appbilling.LedgerConfig{
		Store:   store,
		Catalog: infrabilling.PlanCatalogFrom(a.cfg.Plans),
		Logger:  logger.Named(a.logger(), "ledger"),
	}), store, nil
}

func (a *app) accounts() (*appidentity.AccountService, error) {
	ledger, _, err := a.ledger()
	if err != nil {
		return nil, err
	}
	repo := persistence.NewGormAccountRepository(a.db.DB)
	return appidentity.NewAccountService(repo, ledger, logger.Named(a.logger(), "account")), nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger().Warn("Error closing database", zap.Error(err))
		}
	}
	if a.log != nil {
		_ = logger.Sync(a.log)
	}
}

var errDriftDetected = errors.New("usage drift detected")
