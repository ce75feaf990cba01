package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81/webhook"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/shared"
	infrabilling "github.com/transcribe/backend/internal/infrastructure/billing"
	"github.com/transcribe/backend/internal/interfaces/http/dto"
)

var (
	testPeriodStart = time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)
	testPeriodEnd   = testPeriodStart.AddDate(0, 1, 0)
)

func subscriptionEvent(t *testing.T, id, eventType, status, priceID string, created time.Time) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     created.Unix(),
		"api_version": "2024-06-20",
		"data": map[string]any{"object": map[string]any{
			"id":                   "sub_123",
			"object":               "subscription",
			"customer":             "cus_123",
			"status":               status,
			"cancel_at_period_end": false,
			"current_period_start": testPeriodStart.Unix(),
			"current_period_end":   testPeriodEnd.Unix(),
			"items": map[string]any{
				"object": "list",
				"data": []map[string]any{
					{"id": "si_1", "object": "subscription_item", "price": map[string]any{"id": priceID, "object": "price"}},
				},
			},
		}},
	})
	require.NoError(t, err)
	return payload
}

func signPayload(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	}).Header
}

func (e *testEnv) deliver(t *testing.T, payload []byte, signature string) (*WebhookResponse, int) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set(StripeSignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	var resp WebhookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return &resp, w.Code
}

func TestSubscriptionHandler_GetCurrent(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/subscriptions/current", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var sub SubscriptionResponse
	decode(t, w, &sub)
	assert.Equal(t, "starter", sub.PlanName)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, int64(60), sub.QuotaLimitMinutes)
	assert.Equal(t, int64(60), sub.RemainingMinutes)
	assert.False(t, sub.HasProviderPlan)
	assert.True(t, sub.UsagePeriodEnd.After(sub.UsagePeriodStart))
}

func TestSubscriptionHandler_Checkout(t *testing.T) {
	env := newTestEnv(t)

	t.Run("creates customer once and returns the url", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			w := env.do(t, http.MethodPost, "/api/v1/billing/checkout", CheckoutRequest{Plan: "professional"})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var session appbilling.CheckoutSession
			decode(t, w, &session)
			assert.Equal(t, "https://checkout.example/cs_1", session.URL)
		}
		assert.Equal(t, 1, env.provider.customers)
		require.Len(t, env.provider.checkouts, 2)
		assert.Equal(t, billing.PlanProfessional, env.provider.checkouts[1].Plan)
		assert.Equal(t, "cus_123", env.provider.checkouts[1].CustomerID)
	})

	t.Run("rejects unknown plans", func(t *testing.T) {
		for _, plan := range []string{"", "starter", "gold"} {
			w := env.do(t, http.MethodPost, "/api/v1/billing/checkout", CheckoutRequest{Plan: plan})
			assert.Equal(t, http.StatusBadRequest, w.Code, plan)
			assert.Equal(t, dto.ErrCodeValidation, decode(t, w, nil).Error.Code)
		}
	})

	t.Run("provider outage is 503", func(t *testing.T) {
		env.provider.checkoutErr = shared.NewTransientProviderError("fake", "create_checkout_session", errors.New("timeout"))
		defer func() { env.provider.checkoutErr = nil }()

		w := env.do(t, http.MethodPost, "/api/v1/billing/checkout", CheckoutRequest{Plan: "enterprise"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, dto.ErrCodeProviderUnavailable, decode(t, w, nil).Error.Code)
	})
}

func TestSubscriptionHandler_Cancel(t *testing.T) {
	env := newTestEnv(t)

	t.Run("no provider subscription", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/subscriptions/cancel", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, dto.ErrCodeNoSubscription, decode(t, w, nil).Error.Code)
	})

	// checkout links the customer, the webhook activates the paid plan
	w := env.do(t, http.MethodPost, "/api/v1/billing/checkout", CheckoutRequest{Plan: "professional"})
	require.Equal(t, http.StatusOK, w.Code)
	payload := subscriptionEvent(t, "evt_created", "customer.subscription.created", "active", "price_professional_test", time.Now().Add(-time.Minute))
	resp, status := env.deliver(t, payload, signPayload(payload))
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "applied", resp.Outcome)

	t.Run("provider rejection is 502", func(t *testing.T) {
		env.provider.cancelErr = shared.NewPermanentProviderError("fake", "cancel_subscription", errors.New("no such subscription"))
		defer func() { env.provider.cancelErr = nil }()

		w := env.do(t, http.MethodPost, "/api/v1/subscriptions/cancel", nil)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("cancels", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/subscriptions/cancel", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var sub SubscriptionResponse
		decode(t, w, &sub)
		assert.Equal(t, "canceled", sub.Status)
		assert.Equal(t, []string{"sub_123"}, env.provider.cancels)
	})
}

func TestSubscriptionHandler_GetUsage(t *testing.T) {
	env := newTestEnv(t)
	w := env.upload(t, "a.mp3", "audio/mpeg", make([]byte, 100))
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/usage", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var usage UsageResponse
	decode(t, w, &usage)
	assert.Equal(t, "starter", usage.PlanName)
	assert.Equal(t, int64(2), usage.UsedMinutes)
	assert.Equal(t, int64(60), usage.LimitMinutes)
	assert.Equal(t, int64(58), usage.RemainingMinutes)
	require.Len(t, usage.Events, 1)
	assert.Equal(t, int64(2), usage.Events[0].DurationMinutes)
	assert.Equal(t, "90.5", usage.Events[0].DurationSeconds.String())
}

func TestWebhookHandler(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ledger.AttachCustomer(context.Background(), env.account.ID, "cus_123")
	require.NoError(t, err)

	payload := subscriptionEvent(t, "evt_1", "customer.subscription.updated", "active", "price_enterprise_test", time.Now().Add(-time.Minute))

	t.Run("missing signature", func(t *testing.T) {
		resp, status := env.deliver(t, payload, "")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.False(t, resp.Received)
	})

	t.Run("bad signature", func(t *testing.T) {
		resp, status := env.deliver(t, payload, "t=1,v1=deadbeef")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "Invalid signature", resp.Message)
	})

	t.Run("applied then duplicate", func(t *testing.T) {
		resp, status := env.deliver(t, payload, signPayload(payload))
		require.Equal(t, http.StatusOK, status)
		assert.True(t, resp.Received)
		assert.Equal(t, "applied", resp.Outcome)

		sub, err := env.ledger.Current(context.Background(), env.account.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.PlanEnterprise, sub.PlanName)

		resp, status = env.deliver(t, payload, signPayload(payload))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "duplicate", resp.Outcome)
	})

	t.Run("older event is stale", func(t *testing.T) {
		old := subscriptionEvent(t, "evt_0", "customer.subscription.updated", "past_due", "price_professional_test", time.Now().Add(-time.Hour))
		resp, status := env.deliver(t, old, signPayload(old))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "stale", resp.Outcome)
	})

	t.Run("unknown account is acknowledged", func(t *testing.T) {
		other := []byte(`{"id":"evt_9","object":"event","type":"invoice.payment_failed","created":` +
			strconv.FormatInt(time.Now().Unix(), 10) +
			`,"data":{"object":{"id":"in_1","object":"invoice","customer":"cus_unknown","subscription":"sub_unknown"}}}`)
		resp, status := env.deliver(t, other, signPayload(other))
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "unknown_account", resp.Outcome)
	})

	t.Run("oversized payload", func(t *testing.T) {
		big := make([]byte, MaxWebhookPayloadSize+1)
		_, status := env.deliver(t, big, "t=1,v1=x")
		assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	})

	t.Run("processing failure asks for redelivery", func(t *testing.T) {
		env.reconciler = appbilling.NewWebhookReconciler(appbilling.WebhookReconcilerConfig{
			Decoder:   infrabilling.NewStripeWebhookDecoder(stripeTestConfig()),
			Ledger:    env.ledger,
			Directory: failingDirectory{},
		})
		env.router = env.newRouter(env.account.ID)

		fresh := subscriptionEvent(t, "evt_2", "customer.subscription.updated", "active", "price_enterprise_test", time.Now())
		resp, status := env.deliver(t, fresh, signPayload(fresh))
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.False(t, resp.Received)
	})
}
