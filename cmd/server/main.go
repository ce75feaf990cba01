package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	appidentity "github.com/transcribe/backend/internal/application/identity"
	apptranscription "github.com/transcribe/backend/internal/application/transcription"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/auth"
	infrabilling "github.com/transcribe/backend/internal/infrastructure/billing"
	"github.com/transcribe/backend/internal/infrastructure/cache"
	"github.com/transcribe/backend/internal/infrastructure/config"
	"github.com/transcribe/backend/internal/infrastructure/logger"
	"github.com/transcribe/backend/internal/infrastructure/migration"
	"github.com/transcribe/backend/internal/infrastructure/persistence"
	"github.com/transcribe/backend/internal/infrastructure/speech"
	"github.com/transcribe/backend/internal/infrastructure/storage"
	"github.com/transcribe/backend/internal/infrastructure/telemetry"
	"github.com/transcribe/backend/internal/interfaces/http/handler"
	"github.com/transcribe/backend/internal/interfaces/http/middleware"
	"github.com/transcribe/backend/internal/interfaces/http/router"
	"github.com/transcribe/backend/migrations"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.FromAppConfig(cfg.Log, cfg.App.Env))
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	ctx := context.Background()

	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownWithTimeout(log, "tracer provider", tracerProvider.Shutdown)
	if tracerProvider.IsEnabled() {
		log.Info("Tracing enabled", zap.String("collector", cfg.Telemetry.CollectorEndpoint))
	}

	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize log export", zap.Error(err))
	}
	defer shutdownWithTimeout(log, "logger provider", loggerProvider.Shutdown)
	log = loggerProvider.Bridge(log, zapcore.InfoLevel)

	log.Info("Starting transcription backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	gormOpts := []logger.GormLoggerOption{
		logger.WithFullSQL(cfg.Telemetry.DBLogFullSQL),
		logger.WithIgnoreRecordNotFoundError(true),
	}
	if cfg.Telemetry.DBSlowQueryThresh > 0 {
		gormOpts = append(gormOpts, logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh))
	}
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), gormOpts...)

	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := migrateSchema(db, log); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:               cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBName:                cfg.Database.DBName,
		IncludeQueryVariables: cfg.Telemetry.DBLogFullSQL,
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected", zap.String("driver", db.Driver))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if sqlDB, err := db.DB.DB(); err == nil {
		registry.MustRegister(collectors.NewDBStatsCollector(sqlDB, cfg.Database.DBName))
	}
	metrics, err := telemetry.NewMetrics(registry)
	if err != nil {
		log.Fatal("Failed to register metrics", zap.Error(err))
	}

	dedup, err := newIdempotencyStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize webhook deduplication", zap.Error(err))
	}
	if dedup != nil {
		defer func() {
			if err := dedup.Close(); err != nil {
				log.Error("Error closing idempotency store", zap.Error(err))
			}
		}()
	}

	stripeCfg := infrabilling.StripeConfigFrom(cfg.Stripe)
	stripeAdapter, err := infrabilling.NewStripeAdapter(stripeCfg, logger.Named(log, "stripe"))
	if err != nil {
		log.Fatal("Failed to initialize billing provider", zap.Error(err))
	}

	speechClient, err := speech.NewOpenAIClient(cfg.Transcription,
		speech.WithLogger(logger.Named(log, "speech")),
		speech.WithMetrics(metrics),
	)
	if err != nil {
		log.Fatal("Failed to initialize transcription provider", zap.Error(err))
	}

	var archive apptranscription.Archive
	if cfg.Storage.ArchiveEnabled {
		s3Archive, err := storage.NewS3Archive(ctx, &cfg.Storage,
			storage.WithLogger(logger.Named(log, "archive")),
			storage.WithPresignExpiration(cfg.Storage.PresignExpiration),
		)
		if err != nil {
			log.Fatal("Failed to initialize audio archive", zap.Error(err))
		}
		if err := s3Archive.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to prepare audio archive bucket", zap.Error(err))
		}
		log.Info("Audio archive enabled", zap.String("bucket", s3Archive.Bucket()))
		archive = s3Archive
	}

	// Repositories and stores
	ledgerStore := persistence.NewGormLedgerStore(db.DB)
	accountRepo := persistence.NewGormAccountRepository(db.DB)
	apiKeyRepo := persistence.NewGormAPIKeyRepository(db.DB)
	transcriptionRepo := persistence.NewGormTranscriptionRepository(db.DB)

	// Application services
	ledger := appbilling.NewLedger(appbilling.LedgerConfig{
		Store:   ledgerStore,
		Catalog: infrabilling.PlanCatalogFrom(cfg.Plans),
		Logger:  logger.Named(log, "ledger"),
		Metrics: metrics,
	})
	enforcer := appbilling.NewQuotaEnforcer(ledger, logger.Named(log, "quota"), appbilling.QuotaEnforcerConfig{
		SettleTimeout: cfg.Quota.SettleTimeout,
	})
	reconciler := appbilling.NewWebhookReconciler(appbilling.WebhookReconcilerConfig{
		Decoder:     infrabilling.NewStripeWebhookDecoder(stripeCfg),
		Ledger:      ledger,
		Directory:   ledgerStore,
		Idempotency: dedup,
		DedupTTL:    cfg.Webhook.DedupTTL,
		Logger:      logger.Named(log, "webhook"),
		Metrics:     metrics,
	})
	subscriptionService := appbilling.NewSubscriptionService(appbilling.SubscriptionServiceConfig{
		Ledger:            ledger,
		Store:             ledgerStore,
		Accounts:          accountRepo,
		Provider:          stripeAdapter,
		Logger:            logger.Named(log, "subscription"),
		Metrics:           metrics,
		ProviderTimeout:   cfg.Stripe.Timeout,
		CancelAtPeriodEnd: stripeCfg.CancelAtPeriodEnd,
	})
	accountService := appidentity.NewAccountService(accountRepo, ledger, logger.Named(log, "account"))
	apiKeyService := appidentity.NewAPIKeyService(apiKeyRepo, accountRepo, logger.Named(log, "api_key"))
	jwtService := auth.NewJWTService(cfg.JWT)
	authService := appidentity.NewAuthService(accountService, jwtService, logger.Named(log, "auth"))
	transcriptionService := apptranscription.NewService(
		enforcer,
		transcriptionRepo,
		speechClient,
		archive,
		logger.Named(log, "transcription"),
		apptranscription.Config{
			BytesPerMinute: cfg.Quota.BytesPerMinute,
			Timeout:        cfg.Transcription.Timeout,
			MaxFileSize:    cfg.Transcription.MaxFileSize,
			StoreTimeout:   cfg.Quota.SettleTimeout,
		},
	)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := router.NewEngine(router.Dependencies{
		Config:   cfg,
		Logger:   log,
		Metrics:  metrics,
		Gatherer: registry,
		Auth: middleware.AuthConfig{
			Tokens:   jwtService,
			Accounts: accountService,
			APIKeys:  apiKeyService,
			Logger:   log,
		},
		System:         handler.NewSystemHandler(cfg.App.Name, version, db),
		Accounts:       handler.NewAuthHandler(authService),
		Subscriptions:  handler.NewSubscriptionHandler(subscriptionService),
		Webhooks:       handler.NewWebhookHandler(reconciler),
		Transcriptions: handler.NewTranscriptionHandler(transcriptionService, cfg.Transcription.MaxFileSize),
		APIKeys:        handler.NewAPIKeyHandler(apiKeyService),
	})

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// in-flight transcriptions settle their reservations before returning
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// migrateSchema applies the versioned migrations on postgres and creates the
// tables from the models on sqlite
func migrateSchema(db *persistence.Database, log *zap.Logger) error {
	if db.Driver == "sqlite" {
		return db.AutoMigrate()
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, migrations.FS, logger.Named(log, "migrate"))
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}

func newIdempotencyStore(cfg *config.Config, log *zap.Logger) (shared.IdempotencyStore, error) {
	idempotency := shared.DefaultIdempotencyConfig()
	idempotency.Enabled = cfg.Webhook.DedupEnabled
	if cfg.Webhook.DedupTTL > 0 {
		idempotency.TTL = cfg.Webhook.DedupTTL
	}
	if cfg.Webhook.DedupMaxEntries > 0 {
		idempotency.MaxEntries = cfg.Webhook.DedupMaxEntries
	}

	opts := []cache.IdempotencyStoreFactoryOption{
		cache.WithLogger(logger.Named(log, "dedup")),
		cache.WithInMemoryFallback(!cfg.Redis.Required),
	}
	if cfg.Redis.Enabled {
		opts = append(opts, cache.WithRedis(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	}
	return cache.NewIdempotencyStoreFactory(idempotency, opts...).CreateStore()
}

func shutdownWithTimeout(log *zap.Logger, name string, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Error("Error shutting down "+name, zap.Error(err))
	}
}
