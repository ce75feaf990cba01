package identity

import (
	"context"

	"github.com/google/uuid"
)

// AccountRepository defines the interface for account persistence
type AccountRepository interface {
	// Create persists a new account
	Create(ctx context.Context, account *Account) error

	// Update updates an existing account
	Update(ctx context.Context, account *Account) error

	// FindByID finds an account by ID
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// FindByEmail finds an account by email
	FindByEmail(ctx context.Context, email string) (*Account, error)
}

// APIKeyRepository defines the interface for API key persistence
type APIKeyRepository interface {
	// Create persists a new key
	Create(ctx context.Context, key *APIKey) error

	// Update updates a key (revocation, last use)
	Update(ctx context.Context, key *APIKey) error

	// FindByID finds a key owned by an account
	FindByID(ctx context.Context, accountID, id uuid.UUID) (*APIKey, error)

	// FindByLookupPrefix finds the key with the given lookup prefix
	FindByLookupPrefix(ctx context.Context, prefix string) (*APIKey, error)

	// FindByAccount lists an account's keys, newest first
	FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*APIKey, error)
}
