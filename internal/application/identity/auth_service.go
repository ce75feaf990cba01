package identity

import (
	"context"
	"errors"

	"github.com/transcribe/backend/internal/domain/identity"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/auth"
	"go.uber.org/zap"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password
var ErrInvalidCredentials = shared.NewDomainError("INVALID_CREDENTIALS", "Incorrect email or password")

// RegisterInput holds the fields of a self-service registration
type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

// AuthService registers accounts with a password and logs them in
type AuthService struct {
	accounts *AccountService
	tokens   *auth.JWTService
	logger   *zap.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(accounts *AccountService, tokens *auth.JWTService, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{accounts: accounts, tokens: tokens, logger: logger}
}

// Register creates an active account that can log in with its password.
// The account starts on the free plan like any other.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*identity.Account, error) {
	account, err := identity.NewAccount(input.Email)
	if err != nil {
		return nil, err
	}
	if err := account.SetFullName(input.FullName); err != nil {
		return nil, err
	}
	if err := account.SetPassword(input.Password); err != nil {
		return nil, err
	}
	if err := s.accounts.save(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Login verifies the password and issues an access token
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Debug("Login failed: unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !account.VerifyPassword(password) {
		s.logger.Info("Login failed: invalid password",
			zap.String("account_id", account.ID.String()))
		return nil, ErrInvalidCredentials
	}
	if !account.Active {
		return nil, ErrAccountInactive
	}

	token, err := s.tokens.GenerateAccessToken(account.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Account logged in", zap.String("account_id", account.ID.String()))
	return &TokenResponse{
		AccessToken: token.Token,
		TokenType:   token.TokenType,
		ExpiresAt:   token.ExpiresAt,
		Account:     ToAccountResponse(account),
	}, nil
}
