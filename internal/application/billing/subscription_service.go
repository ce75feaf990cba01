package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/identity"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// BillingProvider is the outbound port to the payment provider.
// Implementations return *shared.ProviderError for provider failures.
type BillingProvider interface {
	// Name identifies the provider in logs and metrics
	Name() string
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*CancelResult, error)
}

// CustomerRequest contains input for creating a provider customer
type CustomerRequest struct {
	AccountID uuid.UUID
	Email     string
}

// CheckoutRequest contains input for creating a checkout session
type CheckoutRequest struct {
	AccountID  uuid.UUID
	CustomerID string
	Plan       billing.PlanName
}

// CheckoutSession is a hosted checkout the user is redirected to
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"checkout_url"`
}

// CancelResult is the provider's subscription state after a cancel call
type CancelResult struct {
	Status            billing.SubscriptionStatus
	CancelAtPeriodEnd bool
	CanceledAt        time.Time
	PeriodEnd         *time.Time
}

// UsageSummary is the account's consumption in the current usage period
type UsageSummary struct {
	Subscription     *billing.Subscription
	PeriodStart      time.Time
	PeriodEnd        time.Time
	UsedMinutes      int64
	LimitMinutes     int64
	RemainingMinutes int64
	Events           []*billing.UsageEvent
}

// SubscriptionService handles the user-facing subscription operations
type SubscriptionService struct {
	ledger          *Ledger
	store           billing.LedgerStore
	accounts        identity.AccountRepository
	provider        BillingProvider
	logger          *zap.Logger
	metrics         *telemetry.Metrics
	providerTimeout time.Duration
	cancelAtEnd     bool
}

// SubscriptionServiceConfig contains dependencies and settings for SubscriptionService
type SubscriptionServiceConfig struct {
	Ledger          *Ledger
	Store           billing.LedgerStore
	Accounts        identity.AccountRepository
	Provider        BillingProvider
	Logger          *zap.Logger
	Metrics         *telemetry.Metrics
	ProviderTimeout time.Duration
	// CancelAtPeriodEnd keeps access until the period ends instead of
	// canceling immediately
	CancelAtPeriodEnd bool
}

// NewSubscriptionService creates a new SubscriptionService
func NewSubscriptionService(cfg SubscriptionServiceConfig) *SubscriptionService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SubscriptionService{
		ledger:          cfg.Ledger,
		store:           cfg.Store,
		accounts:        cfg.Accounts,
		provider:        cfg.Provider,
		logger:          logger,
		metrics:         cfg.Metrics,
		providerTimeout: timeout,
		cancelAtEnd:     cfg.CancelAtPeriodEnd,
	}
}

// Current returns the account's subscription, creating the free plan on
// first access
func (s *SubscriptionService) Current(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	return s.ledger.Current(ctx, accountID)
}

// StartCheckout creates a checkout session for a paid plan, creating and
// linking the provider customer first if the account has none
func (s *SubscriptionService) StartCheckout(ctx context.Context, accountID uuid.UUID, planName string) (*CheckoutSession, error) {
	plan, err := billing.ParsePlanName(planName)
	if err != nil {
		return nil, err
	}
	if !plan.IsPaid() {
		return nil, shared.NewDomainError(billing.CodeInvalidPlan, "Only paid plans can be purchased")
	}

	sub, err := s.ledger.GetOrCreate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	customerID := sub.ProviderCustomerID
	if customerID == "" {
		account, err := s.accounts.FindByID(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("failed to load account: %w", err)
		}
		err = s.callProvider(ctx, "create_customer", func(ctx context.Context) error {
			customerID, err = s.provider.CreateCustomer(ctx, CustomerRequest{AccountID: accountID, Email: account.Email})
			return err
		})
		if err != nil {
			return nil, err
		}
		if _, err := s.ledger.AttachCustomer(ctx, accountID, customerID); err != nil {
			return nil, err
		}
	}

	var session *CheckoutSession
	err = s.callProvider(ctx, "create_checkout_session", func(ctx context.Context) error {
		session, err = s.provider.CreateCheckoutSession(ctx, CheckoutRequest{
			AccountID:  accountID,
			CustomerID: customerID,
			Plan:       plan,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Created checkout session",
		zap.String("account_id", accountID.String()),
		zap.String("customer_id", customerID),
		zap.String("plan", plan.String()),
		zap.String("session_id", session.ID))
	return session, nil
}

// Cancel cancels the account's provider subscription and applies the state
// the provider returned
func (s *SubscriptionService) Cancel(ctx context.Context, accountID uuid.UUID) (*billing.Subscription, error) {
	sub, err := s.ledger.Current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !sub.HasProviderSubscription() || sub.Status == billing.StatusCanceled {
		return nil, billing.ErrNoSubscription
	}

	var result *CancelResult
	err = s.callProvider(ctx, "cancel_subscription", func(ctx context.Context) error {
		result, err = s.provider.CancelSubscription(ctx, sub.ProviderSubscriptionID, s.cancelAtEnd)
		return err
	})
	if err != nil {
		return nil, err
	}

	status := result.Status
	cancelAtEnd := result.CancelAtPeriodEnd
	update := billing.ProviderUpdate{
		Status:            &status,
		CancelAtPeriodEnd: &cancelAtEnd,
		PeriodEnd:         result.PeriodEnd,
	}
	eventTime := result.CanceledAt
	if eventTime.IsZero() {
		eventTime = s.ledger.now()
	}

	outcome, updated, err := s.ledger.ApplyProviderUpdate(ctx, accountID, update, eventTime)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Canceled subscription",
		zap.String("account_id", accountID.String()),
		zap.String("subscription_id", sub.ProviderSubscriptionID),
		zap.String("status", updated.Status.String()),
		zap.Bool("cancel_at_period_end", updated.CancelAtPeriodEnd),
		zap.String("outcome", string(outcome)))
	return updated, nil
}

// Usage returns the usage events and totals of the current usage period
func (s *SubscriptionService) Usage(ctx context.Context, accountID uuid.UUID) (*UsageSummary, error) {
	sub, err := s.ledger.Current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListUsageEvents(ctx, accountID, sub.UsagePeriodStart)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage events: %w", err)
	}

	return &UsageSummary{
		Subscription:     sub,
		PeriodStart:      sub.UsagePeriodStart,
		PeriodEnd:        sub.UsagePeriodEnd(),
		UsedMinutes:      sub.QuotaUsedMinutes,
		LimitMinutes:     sub.QuotaLimitMinutes,
		RemainingMinutes: sub.RemainingMinutes(),
		Events:           events,
	}, nil
}

// callProvider runs fn under the provider timeout and records its latency.
// A deadline hit is reported as a transient provider failure.
func (s *SubscriptionService) callProvider(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing_provider", op,
		telemetry.SpanAttrProvider, s.provider.Name())
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var pe *shared.ProviderError
		if !errors.As(err, &pe) {
			err = shared.NewTransientProviderError(s.provider.Name(), op, err)
		}
	}

	outcome := telemetry.OutcomeOK
	if err != nil {
		outcome = telemetry.OutcomePermanent
		if shared.IsTransient(err) {
			outcome = telemetry.OutcomeTransient
		}
		telemetry.RecordError(span, err)
		s.logger.Error("Billing provider call failed",
			zap.String("provider", s.provider.Name()),
			zap.String("op", op),
			zap.Error(err))
	}
	s.metrics.ProviderCall(s.provider.Name(), op, outcome, time.Since(start))
	return err
}
