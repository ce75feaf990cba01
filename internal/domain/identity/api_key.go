package identity

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/shared"
	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix starts every issued key
	APIKeyPrefix = "tsk_"

	// apiKeyLookupLen is the number of leading characters stored in clear for lookup
	apiKeyLookupLen = len(APIKeyPrefix) + 8

	apiKeyBcryptCost = bcrypt.DefaultCost

	maxAPIKeyNameLen = 100
)

// APIKey is a long-lived credential bound to an account.
// Only a bcrypt hash of the key is stored; LookupPrefix and Last4 are kept
// in clear for lookup and display.
type APIKey struct {
	shared.BaseEntity
	AccountID    uuid.UUID
	Name         string
	LookupPrefix string
	Last4        string
	Hash         string
	LastUsedAt   *time.Time
	RevokedAt    *time.Time
}

// NewAPIKey issues a key for an account. The plaintext key is returned once
// and cannot be recovered afterwards.
func NewAPIKey(accountID uuid.UUID, name string) (*APIKey, string, error) {
	if accountID == uuid.Nil {
		return nil, "", shared.NewDomainError("INVALID_ACCOUNT", "Account ID cannot be empty")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", shared.NewDomainError("INVALID_NAME", "API key name cannot be empty")
	}
	if len(name) > maxAPIKeyNameLen {
		return nil, "", shared.NewDomainError("INVALID_NAME", "API key name cannot exceed 100 characters")
	}

	plaintext := APIKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), apiKeyBcryptCost)
	if err != nil {
		return nil, "", err
	}

	return &APIKey{
		BaseEntity:   shared.NewBaseEntity(),
		AccountID:    accountID,
		Name:         name,
		LookupPrefix: LookupPrefixOf(plaintext),
		Last4:        plaintext[len(plaintext)-4:],
		Hash:         string(hash),
	}, plaintext, nil
}

// LookupPrefixOf returns the indexed prefix of a presented key, or "" if the
// key is not shaped like an issued key
func LookupPrefixOf(key string) string {
	if !strings.HasPrefix(key, APIKeyPrefix) || len(key) <= apiKeyLookupLen+4 {
		return ""
	}
	return key[:apiKeyLookupLen]
}

// Verify checks a presented key against the stored hash
func (k *APIKey) Verify(key string) bool {
	if k.IsRevoked() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil
}

// Masked returns the display form of the key: first 8 characters, an
// ellipsis and the last 4
func (k *APIKey) Masked() string {
	return k.LookupPrefix[:8] + "..." + k.Last4
}

// IsRevoked returns true once the key has been revoked
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// Revoke disables the key
func (k *APIKey) Revoke() error {
	if k.IsRevoked() {
		return shared.NewDomainError("ALREADY_REVOKED", "API key is already revoked")
	}
	now := time.Now().UTC()
	k.RevokedAt = &now
	k.UpdatedAt = now
	return nil
}

// MarkUsed records a successful authentication
func (k *APIKey) MarkUsed(at time.Time) {
	at = at.UTC()
	k.LastUsedAt = &at
}
