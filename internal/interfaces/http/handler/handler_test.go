package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	appidentity "github.com/transcribe/backend/internal/application/identity"
	apptranscription "github.com/transcribe/backend/internal/application/transcription"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/identity"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/auth"
	infrabilling "github.com/transcribe/backend/internal/infrastructure/billing"
	"github.com/transcribe/backend/internal/infrastructure/cache"
	"github.com/transcribe/backend/internal/infrastructure/config"
	"github.com/transcribe/backend/internal/infrastructure/persistence"
	"github.com/transcribe/backend/internal/interfaces/http/dto"
	"github.com/transcribe/backend/internal/interfaces/http/middleware"
)

const testWebhookSecret = "whsec_test_123456789"

var testJWTConfig = config.JWTConfig{
	Secret:                "test-secret-at-least-32-bytes-long!!",
	AccessTokenExpiration: time.Hour,
	Issuer:                "transcribe",
}

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// fakeBillingProvider records calls and answers with canned results
type fakeBillingProvider struct {
	mu          sync.Mutex
	customers   int
	checkouts   []appbilling.CheckoutRequest
	cancels     []string
	checkoutErr error
	cancelErr   error
}

func (p *fakeBillingProvider) Name() string { return "fake" }

func (p *fakeBillingProvider) CreateCustomer(_ context.Context, req appbilling.CustomerRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers++
	return "cus_123", nil
}

func (p *fakeBillingProvider) CreateCheckoutSession(_ context.Context, req appbilling.CheckoutRequest) (*appbilling.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.checkoutErr != nil {
		return nil, p.checkoutErr
	}
	p.checkouts = append(p.checkouts, req)
	return &appbilling.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil
}

func (p *fakeBillingProvider) CancelSubscription(_ context.Context, subscriptionID string, atPeriodEnd bool) (*appbilling.CancelResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelErr != nil {
		return nil, p.cancelErr
	}
	p.cancels = append(p.cancels, subscriptionID)
	return &appbilling.CancelResult{
		Status:     billing.StatusCanceled,
		CanceledAt: time.Now().Add(time.Hour),
	}, nil
}

// fakeSpeech answers every transcription with the configured result
type fakeSpeech struct {
	result *apptranscription.Result
	err    error
	calls  int
}

func (s *fakeSpeech) Transcribe(_ context.Context, audio apptranscription.Audio) (*apptranscription.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// fakeArchive keeps archived audio keys in memory
type fakeArchive struct {
	mu   sync.Mutex
	keys map[string]string
}

func (a *fakeArchive) Put(_ context.Context, key, contentType string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.keys == nil {
		a.keys = make(map[string]string)
	}
	a.keys[key] = contentType
	return nil
}

func (a *fakeArchive) Delete(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.keys, key)
	return nil
}

func (a *fakeArchive) DownloadURL(_ context.Context, key string) (string, time.Time, error) {
	return "https://archive.test/" + key, time.Now().Add(15 * time.Minute), nil
}

// failingDirectory makes webhook account resolution fail
type failingDirectory struct{}

func (failingDirectory) AccountIDForProviderCustomer(context.Context, string) (uuid.UUID, bool, error) {
	return uuid.Nil, false, errors.New("directory unavailable")
}

func (failingDirectory) AccountIDForProviderSubscription(context.Context, string) (uuid.UUID, bool, error) {
	return uuid.Nil, false, errors.New("directory unavailable")
}

type testEnv struct {
	store          *persistence.MemoryLedgerStore
	ledger         *appbilling.Ledger
	accounts       *appidentity.AccountService
	auth           *appidentity.AuthService
	keys           *appidentity.APIKeyService
	subscriptions  *appbilling.SubscriptionService
	transcriptions *apptranscription.Service
	reconciler     *appbilling.WebhookReconciler
	provider       *fakeBillingProvider
	speech         *fakeSpeech
	archive        *fakeArchive
	account        *identity.Account
	router         *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := persistence.NewDatabase(&config.DatabaseConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.AutoMigrate())

	env := &testEnv{
		store:    persistence.NewMemoryLedgerStore(),
		provider: &fakeBillingProvider{},
		archive:  &fakeArchive{},
		speech: &fakeSpeech{result: &apptranscription.Result{
			Text:            "hello world",
			Language:        "en",
			DurationSeconds: decimal.RequireFromString("90.5"),
		}},
	}
	env.ledger = appbilling.NewLedger(appbilling.LedgerConfig{Store: env.store})

	accountRepo := persistence.NewGormAccountRepository(db.DB)
	env.accounts = appidentity.NewAccountService(accountRepo, env.ledger, nil)
	env.auth = appidentity.NewAuthService(env.accounts, auth.NewJWTService(testJWTConfig), nil)
	env.keys = appidentity.NewAPIKeyService(persistence.NewGormAPIKeyRepository(db.DB), accountRepo, nil)
	env.subscriptions = appbilling.NewSubscriptionService(appbilling.SubscriptionServiceConfig{
		Ledger:          env.ledger,
		Store:           env.store,
		Accounts:        accountRepo,
		Provider:        env.provider,
		ProviderTimeout: time.Second,
	})

	enforcer := appbilling.NewQuotaEnforcer(env.ledger, nil, appbilling.DefaultQuotaEnforcerConfig())
	env.transcriptions = apptranscription.NewService(
		enforcer,
		persistence.NewGormTranscriptionRepository(db.DB),
		env.speech,
		env.archive,
		nil,
		apptranscription.Config{BytesPerMinute: 1024, MaxFileSize: 64 << 10},
	)

	dedup := cache.NewInMemoryIdempotencyStore(shared.DefaultIdempotencyConfig())
	t.Cleanup(func() { _ = dedup.Close() })
	env.reconciler = appbilling.NewWebhookReconciler(appbilling.WebhookReconcilerConfig{
		Decoder:     infrabilling.NewStripeWebhookDecoder(stripeTestConfig()),
		Ledger:      env.ledger,
		Directory:   env.store,
		Idempotency: dedup,
	})

	env.account, err = env.accounts.Create(ctx, "user@example.com")
	require.NoError(t, err)

	env.router = env.newRouter(env.account.ID)
	return env
}

func stripeTestConfig() *infrabilling.StripeConfig {
	return &infrabilling.StripeConfig{
		WebhookSecret:    testWebhookSecret,
		WebhookTolerance: 5 * time.Minute,
		PriceIDs: map[string]string{
			"professional": "price_professional_test",
			"enterprise":   "price_enterprise_test",
		},
	}
}

// newRouter wires the handlers behind a stand-in for the auth middleware.
// uuid.Nil leaves requests unauthenticated.
func (e *testEnv) newRouter(accountID uuid.UUID) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID())

	webhooks := NewWebhookHandler(e.reconciler)
	r.POST("/api/v1/webhooks/stripe", webhooks.HandleStripe)

	authHandler := NewAuthHandler(e.auth)
	r.POST("/api/v1/auth/register", authHandler.Register)
	r.POST("/api/v1/auth/login", authHandler.Login)

	api := r.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if accountID != uuid.Nil {
			middleware.SetAccountID(c, accountID)
		}
		c.Next()
	})

	subs := NewSubscriptionHandler(e.subscriptions)
	api.GET("/subscriptions/current", subs.GetCurrent)
	api.POST("/subscriptions/cancel", subs.Cancel)
	api.POST("/billing/checkout", subs.Checkout)
	api.GET("/usage", subs.GetUsage)

	transcriptions := NewTranscriptionHandler(e.transcriptions, 64<<10)
	api.POST("/transcriptions", transcriptions.Create)
	api.GET("/transcriptions", transcriptions.List)
	api.GET("/transcriptions/:id", transcriptions.Get)
	api.GET("/transcriptions/:id/audio", transcriptions.GetAudio)

	keys := NewAPIKeyHandler(e.keys)
	api.POST("/api-keys", keys.Create)
	api.GET("/api-keys", keys.List)
	api.DELETE("/api-keys/:id", keys.Revoke)
	return r
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decode unmarshals the envelope and, when data is non-nil, its data field
func decode(t *testing.T, w *httptest.ResponseRecorder, data any) dto.Response {
	t.Helper()
	var raw struct {
		dto.Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(raw.Data, data), string(raw.Data))
	}
	return raw.Response
}
