package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/identity"
	"github.com/transcribe/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// ErrInvalidAPIKey is returned for unknown, malformed or revoked keys
var ErrInvalidAPIKey = shared.NewDomainError("INVALID_API_KEY", "Invalid API key")

// APIKeyService issues, lists, revokes and authenticates API keys
type APIKeyService struct {
	keys     identity.APIKeyRepository
	accounts identity.AccountRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewAPIKeyService creates a new APIKeyService
func NewAPIKeyService(keys identity.APIKeyRepository, accounts identity.AccountRepository, logger *zap.Logger) *APIKeyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIKeyService{keys: keys, accounts: accounts, logger: logger, now: time.Now}
}

// Create issues a key. The returned response is the only place the secret appears.
func (s *APIKeyService) Create(ctx context.Context, accountID uuid.UUID, name string) (*CreatedAPIKeyResponse, error) {
	key, secret, err := identity.NewAPIKey(accountID, name)
	if err != nil {
		return nil, err
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.logger.Info("API key created",
		zap.String("account_id", accountID.String()),
		zap.String("key_id", key.ID.String()))
	return &CreatedAPIKeyResponse{APIKeyResponse: ToAPIKeyResponse(key), Secret: secret}, nil
}

// List returns the account's keys in masked form, newest first
func (s *APIKeyService) List(ctx context.Context, accountID uuid.UUID) ([]APIKeyResponse, error) {
	keys, err := s.keys.FindByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, ToAPIKeyResponse(k))
	}
	return out, nil
}

// Revoke disables one of the account's keys
func (s *APIKeyService) Revoke(ctx context.Context, accountID, id uuid.UUID) error {
	key, err := s.keys.FindByID(ctx, accountID, id)
	if err != nil {
		return err
	}
	if err := key.Revoke(); err != nil {
		return err
	}
	if err := s.keys.Update(ctx, key); err != nil {
		return err
	}

	s.logger.Info("API key revoked",
		zap.String("account_id", accountID.String()),
		zap.String("key_id", id.String()))
	return nil
}

// Authenticate resolves a presented key to its active account
func (s *APIKeyService) Authenticate(ctx context.Context, presented string) (*identity.Account, error) {
	prefix := identity.LookupPrefixOf(presented)
	if prefix == "" {
		return nil, ErrInvalidAPIKey
	}
	key, err := s.keys.FindByLookupPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	if !key.Verify(presented) {
		s.logger.Warn("API key verification failed",
			zap.String("key_id", key.ID.String()),
			zap.Bool("revoked", key.IsRevoked()))
		return nil, ErrInvalidAPIKey
	}

	account, err := s.accounts.FindByID(ctx, key.AccountID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}

	key.MarkUsed(s.now())
	if err := s.keys.Update(ctx, key); err != nil {
		s.logger.Warn("Failed to record API key use",
			zap.String("key_id", key.ID.String()),
			zap.Error(err))
	}
	return account, nil
}
