package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// MaxWebhookPayloadSize bounds a single webhook delivery
const MaxWebhookPayloadSize = 64 << 10

// StripeSignatureHeader carries the webhook signature
const StripeSignatureHeader = "Stripe-Signature"

// WebhookHandler receives billing provider webhooks. The endpoint is not
// authenticated; deliveries are verified by signature.
type WebhookHandler struct {
	reconciler *appbilling.WebhookReconciler
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(reconciler *appbilling.WebhookReconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// WebhookResponse acknowledges or rejects a delivery
type WebhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HandleStripe verifies and applies a delivery. 200 acknowledges it,
// 400 rejects it for good and 500 asks the provider to redeliver.
// POST /api/v1/webhooks/stripe
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxWebhookPayloadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, WebhookResponse{Message: "Failed to read request body"})
		return
	}
	if len(payload) > MaxWebhookPayloadSize {
		c.JSON(http.StatusRequestEntityTooLarge, WebhookResponse{Message: "Payload too large"})
		return
	}

	signature := c.GetHeader(StripeSignatureHeader)
	if signature == "" {
		c.JSON(http.StatusBadRequest, WebhookResponse{Message: "Missing " + StripeSignatureHeader + " header"})
		return
	}

	result, err := h.reconciler.Handle(c.Request.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			c.JSON(http.StatusBadRequest, WebhookResponse{Message: "Invalid signature"})
		case errors.Is(err, billing.ErrMalformedEvent):
			c.JSON(http.StatusBadRequest, WebhookResponse{Message: "Malformed event"})
		default:
			logger.L(c.Request.Context()).Error("Webhook processing failed, provider will redeliver", zap.Error(err))
			c.JSON(http.StatusInternalServerError, WebhookResponse{Message: "Processing failed"})
		}
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{
		Received:  true,
		EventID:   result.EventID,
		EventType: result.EventType,
		Outcome:   result.Outcome,
		Message:   result.Message,
	})
}
