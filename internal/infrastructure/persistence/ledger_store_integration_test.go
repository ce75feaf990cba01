//go:build integration

package persistence

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/infrastructure/migration"
	"github.com/transcribe/backend/migrations"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupPostgresTestDB starts a PostgreSQL container and applies the embedded migrations
func setupPostgresTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("transcribe_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(10)
	t.Cleanup(func() { _ = sqlDB.Close() })

	m, err := migration.New(sqlDB, migrations.FS, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up())

	return db
}

func TestGormLedgerStore_Postgres(t *testing.T) {
	db := setupPostgresTestDB(t)
	ledgerStoreContract(t, func(t *testing.T) interface {
		billing.LedgerStore
		billing.Directory
	} {
		require.NoError(t, db.Exec("TRUNCATE subscriptions, reservations, usage_events, provider_customers").Error)
		return NewGormLedgerStore(db)
	})
}

// Row locks serialize the read-modify-write of concurrent reservations, so the
// quota is never oversubscribed across connections.
func TestGormLedgerStore_Postgres_ConcurrentReservations(t *testing.T) {
	store := NewGormLedgerStore(setupPostgresTestDB(t))
	ctx := context.Background()
	accountID := uuid.New()
	newStoredSubscription(t, store, accountID)

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithAccountLock(ctx, accountID, func(tx billing.LedgerTx) error {
				sub, err := tx.Subscription(ctx)
				if err != nil {
					return err
				}
				if err := sub.Reserve(15); err != nil {
					return err
				}
				r, err := billing.NewReservation(accountID, 15, sub.UsagePeriodStart)
				if err != nil {
					return err
				}
				if err := tx.SaveReservation(ctx, r); err != nil {
					return err
				}
				return tx.SaveSubscription(ctx, sub)
			})
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sub, err := store.FindSubscription(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 4, granted, "a 60 minute quota fits four 15 minute reservations")
	assert.Equal(t, int64(60), sub.QuotaUsedMinutes)

	pending, err := store.ListPendingReservations(ctx, accountID)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
}
