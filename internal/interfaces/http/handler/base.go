// Package handler implements the HTTP endpoints of the transcription API.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/logger"
	"github.com/transcribe/backend/internal/interfaces/http/dto"
	"github.com/transcribe/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page shared.Page) {
	c.JSON(http.StatusOK, dto.NewListResponse(data, total, page.Skip, page.Limit))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the given status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponse(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 unauthorized response
func (h *BaseHandler) Unauthorized(c *gin.Context, message string) {
	h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, message)
}

// requireAccount returns the authenticated account or answers 401
func (h *BaseHandler) requireAccount(c *gin.Context) (uuid.UUID, bool) {
	accountID, ok := middleware.GetAccountID(c)
	if !ok {
		h.Unauthorized(c, "Authentication required")
		return uuid.Nil, false
	}
	return accountID, true
}

// HandleError maps an application error onto the envelope. Quota errors
// carry the usage numbers; provider failures become 503 or 502; domain
// errors map by code; everything else is a logged 500.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID := middleware.GetRequestID(c)

	var quotaErr *billing.QuotaExceededError
	if errors.As(err, &quotaErr) {
		resp := dto.NewErrorResponse(dto.ErrCodeQuotaExceeded, billing.ErrQuotaExceeded.Message, requestID)
		resp.Error.Details = dto.QuotaDetails{
			RequestedMinutes: quotaErr.Requested,
			UsedMinutes:      quotaErr.Used,
			LimitMinutes:     quotaErr.Limit,
			RemainingMinutes: quotaErr.Remaining(),
		}
		c.JSON(quotaErr.HTTPStatusCode(), resp)
		return
	}

	var providerErr *shared.ProviderError
	if errors.As(err, &providerErr) {
		logger.L(c.Request.Context()).Warn("Provider call failed",
			zap.String("provider", providerErr.Provider),
			zap.String("op", providerErr.Op),
			zap.Bool("transient", providerErr.Transient),
			zap.Error(providerErr.Err))
		code, message := dto.ErrCodeProviderRejected, shared.ErrProviderRejected.Message
		if providerErr.Transient {
			code, message = dto.ErrCodeProviderUnavailable, shared.ErrProviderUnavailable.Message
		}
		c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponse(code, message, requestID))
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.CodeForDomainError(domainErr.Code)
		status := dto.GetHTTPStatus(code)
		if status >= http.StatusInternalServerError {
			logger.L(c.Request.Context()).Error("Request failed", zap.Error(err))
		}
		c.JSON(status, dto.NewErrorResponse(code, domainErr.Message, requestID))
		return
	}

	logger.L(c.Request.Context()).Error("Unhandled error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, dto.NewErrorResponse(
		dto.ErrCodeInternal,
		"An unexpected error occurred",
		requestID,
	))
}
