package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	"github.com/transcribe/backend/internal/domain/identity"
	"github.com/transcribe/backend/internal/domain/shared"
	"go.uber.org/zap"
)

var (
	// ErrAccountInactive is returned when a deactivated account authenticates
	ErrAccountInactive = shared.NewDomainError("ACCOUNT_INACTIVE", "Account is not active")

	// ErrEmailTaken is returned when an account with the email already exists
	ErrEmailTaken = shared.NewDomainError("EMAIL_TAKEN", "An account with this email already exists")
)

// AccountService manages accounts and gives each one its ledger entry
type AccountService struct {
	repo   identity.AccountRepository
	ledger *appbilling.Ledger
	logger *zap.Logger
}

// NewAccountService creates a new AccountService
func NewAccountService(repo identity.AccountRepository, ledger *appbilling.Ledger, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{repo: repo, ledger: ledger, logger: logger}
}

// Create creates an active account with the default free subscription
func (s *AccountService) Create(ctx context.Context, email string) (*identity.Account, error) {
	account, err := identity.NewAccount(email)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// save stores a new account and opens its free subscription
func (s *AccountService) save(ctx context.Context, account *identity.Account) error {
	if err := s.repo.Create(ctx, account); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return ErrEmailTaken
		}
		return err
	}

	sub, err := s.ledger.GetOrCreate(ctx, account.ID)
	if err != nil {
		return err
	}

	s.logger.Info("Account created",
		zap.String("account_id", account.ID.String()),
		zap.Bool("password", account.HasPassword()),
		zap.String("plan", sub.PlanName.String()),
		zap.Int64("quota_limit_minutes", sub.QuotaLimitMinutes))
	return nil
}

// Get returns an account by ID
func (s *AccountService) Get(ctx context.Context, id uuid.UUID) (*identity.Account, error) {
	return s.repo.FindByID(ctx, id)
}

// GetByEmail returns an account by email
func (s *AccountService) GetByEmail(ctx context.Context, email string) (*identity.Account, error) {
	return s.repo.FindByEmail(ctx, email)
}

// RequireActive returns the account if it exists and may authenticate
func (s *AccountService) RequireActive(ctx context.Context, id uuid.UUID) (*identity.Account, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}
	return account, nil
}

// SetActive activates or deactivates an account
func (s *AccountService) SetActive(ctx context.Context, id uuid.UUID, active bool) (*identity.Account, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Active == active {
		return account, nil
	}
	if active {
		account.Activate()
	} else {
		account.Deactivate()
	}
	if err := s.repo.Update(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("Account status changed",
		zap.String("account_id", id.String()),
		zap.Bool("active", active))
	return account, nil
}
