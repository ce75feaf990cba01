package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/transcribe/backend/internal/domain/billing"
)

// StripeConfig holds configuration for Stripe integration
type StripeConfig struct {
	// SecretKey is the Stripe secret API key (sk_test_xxx or sk_live_xxx)
	SecretKey string `json:"secret_key"`

	// WebhookSecret is the secret for verifying webhook signatures (whsec_xxx)
	WebhookSecret string `json:"webhook_secret"`

	// WebhookTolerance is the maximum accepted age of a signed delivery
	WebhookTolerance time.Duration `json:"webhook_tolerance"`

	// IsTestMode indicates if using Stripe test mode
	IsTestMode bool `json:"is_test_mode"`

	// PriceIDs maps paid plan names to Stripe Price IDs
	PriceIDs map[string]string `json:"price_ids"`

	// SuccessURL is the URL to redirect after successful checkout
	SuccessURL string `json:"success_url"`

	// CancelURL is the URL to redirect after cancelled checkout
	CancelURL string `json:"cancel_url"`

	// CancelAtPeriodEnd keeps access until the period ends when a user cancels
	CancelAtPeriodEnd bool `json:"cancel_at_period_end"`
}

// DefaultStripeConfig returns a default configuration for development/testing
func DefaultStripeConfig() *StripeConfig {
	return &StripeConfig{
		IsTestMode:       true,
		WebhookTolerance: 5 * time.Minute,
		PriceIDs: map[string]string{
			billing.PlanProfessional.String(): "price_professional_monthly",
			billing.PlanEnterprise.String():   "price_enterprise_monthly",
		},
		SuccessURL: "http://localhost:3000/billing/success",
		CancelURL:  "http://localhost:3000/billing/cancel",
	}
}

// Validate validates the Stripe configuration
func (c *StripeConfig) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("stripe: secret key is required")
	}

	// Validate key format
	if c.IsTestMode {
		if len(c.SecretKey) > 7 && c.SecretKey[:7] != "sk_test" {
			return fmt.Errorf("stripe: test mode enabled but secret key is not a test key")
		}
	} else {
		if len(c.SecretKey) > 7 && c.SecretKey[:7] != "sk_live" {
			return fmt.Errorf("stripe: live mode enabled but secret key is not a live key")
		}
	}

	if c.WebhookSecret == "" {
		return fmt.Errorf("stripe: webhook secret is required")
	}

	for plan := range c.PriceIDs {
		p, err := billing.ParsePlanName(plan)
		if err != nil || !p.IsPaid() {
			return fmt.Errorf("stripe: price configured for unknown or free plan: %s", plan)
		}
	}

	return nil
}

// GetPriceID returns the Stripe Price ID for a paid plan
func (c *StripeConfig) GetPriceID(plan billing.PlanName) (string, error) {
	priceID := c.PriceIDs[plan.String()]
	if priceID == "" {
		return "", fmt.Errorf("stripe: no price ID configured for plan: %s", plan)
	}
	return priceID, nil
}

// PlanForPrice maps a Stripe Price ID back to a plan
func (c *StripeConfig) PlanForPrice(priceID string) (billing.PlanName, bool) {
	if priceID == "" {
		return "", false
	}
	for plan, id := range c.PriceIDs {
		if id == priceID {
			p, err := billing.ParsePlanName(plan)
			return p, err == nil
		}
	}
	return "", false
}

// InitStripeClient sets the API key and installs a backend with network
// retries disabled. Callers own retry decisions for provider calls.
func (c *StripeConfig) InitStripeClient() {
	stripe.Key = c.SecretKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
	}))
}

// maskKey hides all but the mode prefix of a key for logging
func maskKey(key string) string {
	if i := strings.LastIndex(key, "_"); i > 0 && i < len(key) {
		return key[:i+1] + "***"
	}
	return "***"
}
