package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/identity"
)

// AccountResponse represents an account in API responses
type AccountResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenResponse is returned by a successful login
type TokenResponse struct {
	AccessToken string          `json:"access_token"`
	TokenType   string          `json:"token_type"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Account     AccountResponse `json:"account"`
}

// APIKeyResponse represents a stored key; the secret is only ever shown masked
type APIKeyResponse struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Key        string     `json:"key"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

// CreatedAPIKeyResponse is returned once, when a key is issued
type CreatedAPIKeyResponse struct {
	APIKeyResponse
	Secret string `json:"secret"`
}

// ToAccountResponse converts a domain Account to AccountResponse
func ToAccountResponse(a *identity.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID,
		Email:     a.Email,
		FullName:  a.FullName,
		Active:    a.Active,
		CreatedAt: a.CreatedAt,
	}
}

// ToAPIKeyResponse converts a domain APIKey to APIKeyResponse
func ToAPIKeyResponse(k *identity.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		Key:        k.Masked(),
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
		RevokedAt:  k.RevokedAt,
	}
}
