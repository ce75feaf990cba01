package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/identity"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/auth"
	"github.com/transcribe/backend/internal/infrastructure/config"
	"github.com/transcribe/backend/internal/infrastructure/persistence"
)

var testJWTConfig = config.JWTConfig{
	Secret:                "test-secret-at-least-32-bytes-long!!",
	AccessTokenExpiration: time.Hour,
	Issuer:                "transcribe",
}

func newAuthService(t *testing.T) (*AuthService, *mockAccountRepository, *persistence.MemoryLedgerStore) {
	t.Helper()
	accounts, repo, store := newAccountService(t)
	return NewAuthService(accounts, auth.NewJWTService(testJWTConfig), nil), repo, store
}

func registeredAccount(t *testing.T, email, password string) *identity.Account {
	t.Helper()
	account, err := identity.NewAccount(email)
	require.NoError(t, err)
	require.NoError(t, account.SetPassword(password))
	return account
}

func TestAuthService_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a hashed password and opens the free plan", func(t *testing.T) {
		svc, repo, store := newAuthService(t)
		repo.On("Create", ctx, mock.MatchedBy(func(a *identity.Account) bool {
			return a.HasPassword() && a.PasswordHash != "s3cret-pass"
		})).Return(nil)

		account, err := svc.Register(ctx, RegisterInput{
			Email:    "Ada@Example.com",
			Password: "s3cret-pass",
			FullName: "Ada Lovelace",
		})

		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", account.Email)
		assert.Equal(t, "Ada Lovelace", account.FullName)
		assert.True(t, account.VerifyPassword("s3cret-pass"))

		sub, err := store.FindSubscription(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.PlanStarter, sub.PlanName)
		repo.AssertExpectations(t)
	})

	t.Run("email already registered", func(t *testing.T) {
		svc, repo, _ := newAuthService(t)
		repo.On("Create", ctx, mock.Anything).Return(shared.ErrAlreadyExists)

		account, err := svc.Register(ctx, RegisterInput{Email: "ada@example.com", Password: "s3cret-pass"})

		assert.Nil(t, account)
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("weak password never reaches the repository", func(t *testing.T) {
		svc, repo, _ := newAuthService(t)

		_, err := svc.Register(ctx, RegisterInput{Email: "ada@example.com", Password: "short"})

		var domainErr *shared.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, "INVALID_PASSWORD", domainErr.Code)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestAuthService_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a token for the account", func(t *testing.T) {
		svc, repo, _ := newAuthService(t)
		account := registeredAccount(t, "ada@example.com", "s3cret-pass")
		repo.On("FindByEmail", ctx, "ada@example.com").Return(account, nil)

		got, err := svc.Login(ctx, "ada@example.com", "s3cret-pass")

		require.NoError(t, err)
		assert.Equal(t, "Bearer", got.TokenType)
		assert.Equal(t, account.ID, got.Account.ID)

		claims, err := auth.NewJWTService(testJWTConfig).ValidateAccessToken(got.AccessToken)
		require.NoError(t, err)
		tokenAccount, err := claims.AccountUUID()
		require.NoError(t, err)
		assert.Equal(t, account.ID, tokenAccount)
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, repo, _ := newAuthService(t)
		account := registeredAccount(t, "ada@example.com", "s3cret-pass")
		repo.On("FindByEmail", ctx, "ada@example.com").Return(account, nil)

		got, err := svc.Login(ctx, "ada@example.com", "not-the-pass")

		assert.Nil(t, got)
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("unknown email looks like a wrong password", func(t *testing.T) {
		svc, repo, _ := newAuthService(t)
		repo.On("FindByEmail", ctx, "nobody@example.com").Return(nil, shared.ErrNotFound)

		_, err := svc.Login(ctx, "nobody@example.com", "s3cret-pass")

		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("account without a password cannot log in", func(t *testing.T) {
		svc, repo, _ := newAuthService(t)
		account, err := identity.NewAccount("keys-only@example.com")
		require.NoError(t, err)
		repo.On("FindByEmail", ctx, "keys-only@example.com").Return(account, nil)

		_, err = svc.Login(ctx, "keys-only@example.com", "")

		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("deactivated account", func(t *testing.T) {
		svc, repo, _ := newAuthService(t)
		account := registeredAccount(t, "off@example.com", "s3cret-pass")
		account.Deactivate()
		repo.On("FindByEmail", ctx, "off@example.com").Return(account, nil)

		_, err := svc.Login(ctx, "off@example.com", "s3cret-pass")

		assert.ErrorIs(t, err, ErrAccountInactive)
	})
}
