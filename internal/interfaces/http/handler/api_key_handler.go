package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appidentity "github.com/transcribe/backend/internal/application/identity"
	"github.com/transcribe/backend/internal/interfaces/http/dto"
	"github.com/transcribe/backend/internal/interfaces/http/middleware"
)

// CreateAPIKeyRequest names a new key
type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

// APIKeyHandler issues, lists and revokes the account's API keys
type APIKeyHandler struct {
	BaseHandler
	service *appidentity.APIKeyService
}

// NewAPIKeyHandler creates a new APIKeyHandler
func NewAPIKeyHandler(service *appidentity.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{service: service}
}

// Create issues a key. The plaintext secret is only in this response.
// POST /api/v1/api-keys
func (h *APIKeyHandler) Create(c *gin.Context) {
	accountID, ok := h.requireAccount(c)
	if !ok {
		return
	}
	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	created, err := h.service.Create(c.Request.Context(), accountID, req.Name)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, created)
}

// List returns the account's keys, masked.
// GET /api/v1/api-keys
func (h *APIKeyHandler) List(c *gin.Context) {
	accountID, ok := h.requireAccount(c)
	if !ok {
		return
	}
	keys, err := h.service.List(c.Request.Context(), accountID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, keys)
}

// Revoke revokes one of the account's keys.
// DELETE /api/v1/api-keys/:id
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	accountID, ok := h.requireAccount(c)
	if !ok {
		return
	}
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	if err := h.service.Revoke(c.Request.Context(), accountID, uuid.MustParse(req.ID)); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
