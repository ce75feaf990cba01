package handler

import (
	"github.com/gin-gonic/gin"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	"github.com/transcribe/backend/internal/interfaces/http/middleware"
)

// SubscriptionHandler serves the account's subscription, checkout, cancel
// and usage endpoints
type SubscriptionHandler struct {
	BaseHandler
	service *appbilling.SubscriptionService
}

// NewSubscriptionHandler creates a new SubscriptionHandler
func NewSubscriptionHandler(service *appbilling.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{service: service}
}

// GetCurrent returns the subscription, creating the free plan on first access.
// GET /api/v1/subscriptions/current
func (h *SubscriptionHandler) GetCurrent(c *gin.Context) {
	accountID, ok := h.requireAccount(c)
	if !ok {
		return
	}
	sub, err := h.service.Current(c.Request.Context(), accountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toSubscriptionResponse(sub))
}

// Cancel cancels the provider subscription.
// POST /api/v1/subscriptions/cancel
func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	accountID, ok := h.requireAccount(c)
	if !ok {
		return
	}
	sub, err := h.service.Cancel(c.Request.Context(), accountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toSubscriptionResponse(sub))
}

// Checkout starts a hosted checkout for a paid plan.
// POST /api/v1/billing/checkout
func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	accountID, ok := h.requireAccount(c)
	if !ok {
		return
	}
	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	session, err := h.service.StartCheckout(c.Request.Context(), accountID, req.Plan)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, session)
}

// GetUsage returns the current period's usage events and totals.
// GET /api/v1/usage
func (h *SubscriptionHandler) GetUsage(c *gin.Context) {
	accountID, ok := h.requireAccount(c)
	if !ok {
		return
	}
	summary, err := h.service.Usage(c.Request.Context(), accountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toUsageResponse(summary))
}
