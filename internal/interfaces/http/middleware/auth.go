package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	appidentity "github.com/transcribe/backend/internal/application/identity"
	"github.com/transcribe/backend/internal/domain/identity"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/auth"
	"github.com/transcribe/backend/internal/infrastructure/logger"
	"github.com/transcribe/backend/internal/infrastructure/telemetry"
	"github.com/transcribe/backend/internal/interfaces/http/dto"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Authentication headers
const (
	AuthHeaderKey   = "Authorization"
	BearerPrefix    = "Bearer "
	APIKeyHeaderKey = "X-API-Key"
)

// Auth methods recorded on the gin context
const (
	AuthMethodKey    = "auth_method"
	AuthMethodToken  = "token"
	AuthMethodAPIKey = "api_key"
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*auth.Claims, error)
}

// AccountChecker loads an account and rejects inactive ones
type AccountChecker interface {
	RequireActive(ctx context.Context, id uuid.UUID) (*identity.Account, error)
}

// APIKeyAuthenticator resolves a presented API key to its account
type APIKeyAuthenticator interface {
	Authenticate(ctx context.Context, presented string) (*identity.Account, error)
}

// AuthConfig holds the collaborators of the authentication middleware
type AuthConfig struct {
	Tokens   TokenValidator
	Accounts AccountChecker
	APIKeys  APIKeyAuthenticator
	Logger   *zap.Logger
}

// Authenticate requires either a bearer token or an X-API-Key header. The
// API key wins when both are present. Inactive accounts get 403.
func Authenticate(cfg AuthConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if key := c.GetHeader(APIKeyHeaderKey); key != "" {
			account, err := cfg.APIKeys.Authenticate(ctx, key)
			if err != nil {
				abortAuth(c, log, err)
				return
			}
			setAccount(c, account.ID, AuthMethodAPIKey)
			c.Next()
			return
		}

		header := c.GetHeader(AuthHeaderKey)
		if header == "" {
			abortAuth(c, log, errMissingCredentials)
			return
		}
		if !strings.HasPrefix(header, BearerPrefix) {
			abortAuth(c, log, auth.ErrInvalidToken)
			return
		}

		claims, err := cfg.Tokens.ValidateAccessToken(strings.TrimPrefix(header, BearerPrefix))
		if err != nil {
			abortAuth(c, log, err)
			return
		}
		accountID, err := claims.AccountUUID()
		if err != nil {
			abortAuth(c, log, auth.ErrInvalidClaims)
			return
		}
		account, err := cfg.Accounts.RequireActive(ctx, accountID)
		if err != nil {
			abortAuth(c, log, err)
			return
		}

		setAccount(c, account.ID, AuthMethodToken)
		c.Next()
	}
}

var errMissingCredentials = errors.New("missing credentials")

func setAccount(c *gin.Context, accountID uuid.UUID, method string) {
	id := accountID.String()
	c.Set(logger.GinAccountIDKey, id)
	c.Set(AuthMethodKey, method)

	ctx := logger.WithAccountID(c.Request.Context(), id)
	c.Request = c.Request.WithContext(ctx)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		telemetry.SetAttributes(span, telemetry.SpanAttrAccountID, id)
	}
}

// GetAccountID returns the authenticated account
func GetAccountID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString(logger.GinAccountIDKey))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// SetAccountID marks the request as authenticated for accountID. Used by
// tests and by routes that authenticate by other means.
func SetAccountID(c *gin.Context, accountID uuid.UUID) {
	setAccount(c, accountID, AuthMethodToken)
}

func abortAuth(c *gin.Context, log *zap.Logger, err error) {
	status, code, message := authFailure(err)
	if status >= http.StatusInternalServerError {
		log.Error("Authentication lookup failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	} else {
		log.Debug("Authentication rejected",
			zap.String("path", c.Request.URL.Path),
			zap.String("code", code),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, dto.NewErrorResponse(code, message, GetRequestID(c)))
}

func authFailure(err error) (int, string, string) {
	switch {
	case errors.Is(err, errMissingCredentials):
		return http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Authentication required"
	case errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidTokenType),
		errors.Is(err, auth.ErrInvalidClaims),
		errors.Is(err, auth.ErrTokenNotYetValid),
		errors.Is(err, auth.ErrMissingAccountID):
		return http.StatusUnauthorized, dto.ErrCodeTokenInvalid, "Invalid token"
	case errors.Is(err, appidentity.ErrInvalidAPIKey):
		return http.StatusUnauthorized, dto.ErrCodeInvalidAPIKey, "Invalid API key"
	case errors.Is(err, appidentity.ErrAccountInactive):
		return http.StatusForbidden, dto.ErrCodeForbidden, "Account is inactive"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Account not found"
	default:
		return http.StatusInternalServerError, dto.ErrCodeInternal, "An internal error occurred"
	}
}
