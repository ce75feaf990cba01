package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/subscription"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// ProviderName identifies Stripe in provider errors and metrics
const ProviderName = "stripe"

// metadataAccountID is the metadata key linking Stripe objects to accounts
const metadataAccountID = "account_id"

// StripeAdapter implements the billing provider port on top of Stripe
type StripeAdapter struct {
	config *StripeConfig
	logger *zap.Logger
}

var _ appbilling.BillingProvider = (*StripeAdapter)(nil)

// NewStripeAdapter creates a new Stripe adapter
func NewStripeAdapter(config *StripeConfig, logger *zap.Logger) (*StripeAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Initialize Stripe client
	config.InitStripeClient()

	logger.Info("Stripe client initialized",
		zap.String("secret_key", maskKey(config.SecretKey)),
		zap.Bool("test_mode", config.IsTestMode))

	return &StripeAdapter{
		config: config,
		logger: logger,
	}, nil
}

// Name returns the provider name
func (a *StripeAdapter) Name() string {
	return ProviderName
}

// CreateCustomer creates a new customer in Stripe
func (a *StripeAdapter) CreateCustomer(ctx context.Context, req appbilling.CustomerRequest) (string, error) {
	a.logger.Debug("Creating Stripe customer",
		zap.String("account_id", req.AccountID.String()),
		zap.String("email", req.Email))

	params := &stripe.CustomerParams{
		Email: stripe.String(req.Email),
	}
	params.Context = ctx
	params.Metadata = map[string]string{
		metadataAccountID: req.AccountID.String(),
	}

	cust, err := customer.New(params)
	if err != nil {
		a.logger.Error("Failed to create Stripe customer",
			zap.String("account_id", req.AccountID.String()),
			zap.Error(err))
		return "", classifyStripeError("create_customer", err)
	}

	a.logger.Info("Created Stripe customer",
		zap.String("account_id", req.AccountID.String()),
		zap.String("customer_id", cust.ID))
	return cust.ID, nil
}

// CreateCheckoutSession opens a hosted checkout for a paid plan
func (a *StripeAdapter) CreateCheckoutSession(ctx context.Context, req appbilling.CheckoutRequest) (*appbilling.CheckoutSession, error) {
	priceID, err := a.config.GetPriceID(req.Plan)
	if err != nil {
		return nil, shared.NewPermanentProviderError(ProviderName, "create_checkout_session", err)
	}

	a.logger.Debug("Creating Stripe checkout session",
		zap.String("account_id", req.AccountID.String()),
		zap.String("customer_id", req.CustomerID),
		zap.String("plan", req.Plan.String()))

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(req.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(a.config.SuccessURL),
		CancelURL:         stripe.String(a.config.CancelURL),
		ClientReferenceID: stripe.String(req.AccountID.String()),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				metadataAccountID: req.AccountID.String(),
			},
		},
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		a.logger.Error("Failed to create Stripe checkout session",
			zap.String("account_id", req.AccountID.String()),
			zap.Error(err))
		return nil, classifyStripeError("create_checkout_session", err)
	}

	a.logger.Info("Created Stripe checkout session",
		zap.String("account_id", req.AccountID.String()),
		zap.String("session_id", sess.ID))

	return &appbilling.CheckoutSession{
		ID:  sess.ID,
		URL: sess.URL,
	}, nil
}

// CancelSubscription cancels a subscription immediately or at the end of
// the current period
func (a *StripeAdapter) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) (*appbilling.CancelResult, error) {
	a.logger.Debug("Canceling Stripe subscription",
		zap.String("subscription_id", subscriptionID),
		zap.Bool("cancel_at_period_end", atPeriodEnd))

	var (
		sub *stripe.Subscription
		err error
	)
	if atPeriodEnd {
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		params.Context = ctx
		sub, err = subscription.Update(subscriptionID, params)
	} else {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		sub, err = subscription.Cancel(subscriptionID, params)
	}
	if err != nil {
		a.logger.Error("Failed to cancel Stripe subscription",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
		return nil, classifyStripeError("cancel_subscription", err)
	}

	a.logger.Info("Canceled Stripe subscription",
		zap.String("subscription_id", sub.ID),
		zap.String("status", string(sub.Status)),
		zap.Bool("cancel_at_period_end", sub.CancelAtPeriodEnd))

	result := &appbilling.CancelResult{
		Status:            mapStripeSubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        time.Now().UTC(),
		PeriodEnd:         unixTime(sub.CurrentPeriodEnd),
	}
	if sub.CanceledAt > 0 {
		result.CanceledAt = time.Unix(sub.CanceledAt, 0).UTC()
	}
	return result, nil
}

// mapStripeSubscriptionStatus folds Stripe's statuses onto the ledger's
func mapStripeSubscriptionStatus(status stripe.SubscriptionStatus) billing.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return billing.StatusActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return billing.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return billing.StatusCanceled
	case stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusPaused:
		return billing.StatusIncomplete
	default:
		return ""
	}
}

// classifyStripeError wraps err as a transient or permanent provider error.
// Rate limits, server errors and anything that never reached Stripe are
// transient.
func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return shared.NewTransientProviderError(ProviderName, op, err)
	}
	wrapped := fmt.Errorf("%s (status %d, code %s): %w", stripeErr.Type, stripeErr.HTTPStatusCode, stripeErr.Code, err)
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.Type == stripe.ErrorTypeAPI:
		return shared.NewTransientProviderError(ProviderName, op, wrapped)
	default:
		return shared.NewPermanentProviderError(ProviderName, op, wrapped)
	}
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
