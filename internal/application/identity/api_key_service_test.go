package identity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/transcribe/backend/internal/domain/identity"
	"github.com/transcribe/backend/internal/domain/shared"
)

type apiKeyFixture struct {
	svc      *APIKeyService
	keys     *mockAPIKeyRepository
	accounts *mockAccountRepository
}

func newAPIKeyFixture() *apiKeyFixture {
	f := &apiKeyFixture{
		keys:     new(mockAPIKeyRepository),
		accounts: new(mockAccountRepository),
	}
	f.svc = NewAPIKeyService(f.keys, f.accounts, nil)
	return f
}

func TestAPIKeyService_Create(t *testing.T) {
	ctx := context.Background()
	f := newAPIKeyFixture()
	accountID := uuid.New()

	var stored *identity.APIKey
	f.keys.On("Create", ctx, mock.AnythingOfType("*identity.APIKey")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*identity.APIKey) }).
		Return(nil)

	created, err := f.svc.Create(ctx, accountID, "ci")

	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, accountID, stored.AccountID)
	assert.True(t, stored.Verify(created.Secret))
	assert.NotContains(t, stored.Hash, created.Secret)
	assert.Equal(t, stored.Masked(), created.Key)
	assert.Equal(t, created.Secret[:8], created.Key[:8])
}

func TestAPIKeyService_List(t *testing.T) {
	ctx := context.Background()
	f := newAPIKeyFixture()
	accountID := uuid.New()
	key, secret, err := identity.NewAPIKey(accountID, "ci")
	require.NoError(t, err)
	f.keys.On("FindByAccount", ctx, accountID).Return([]*identity.APIKey{key}, nil)

	keys, err := f.svc.List(ctx, accountID)

	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.NotEqual(t, secret, keys[0].Key)
	assert.Contains(t, keys[0].Key, "...")
}

func TestAPIKeyService_Revoke(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("revokes", func(t *testing.T) {
		f := newAPIKeyFixture()
		key, _, _ := identity.NewAPIKey(accountID, "ci")
		f.keys.On("FindByID", ctx, accountID, key.ID).Return(key, nil)
		f.keys.On("Update", ctx, key).Return(nil)

		require.NoError(t, f.svc.Revoke(ctx, accountID, key.ID))
		assert.True(t, key.IsRevoked())
		f.keys.AssertExpectations(t)
	})

	t.Run("other account's key is not found", func(t *testing.T) {
		f := newAPIKeyFixture()
		id := uuid.New()
		f.keys.On("FindByID", ctx, accountID, id).Return(nil, shared.ErrNotFound)

		err := f.svc.Revoke(ctx, accountID, id)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestAPIKeyService_Authenticate(t *testing.T) {
	ctx := context.Background()
	account, err := identity.NewAccount("ada@example.com")
	require.NoError(t, err)
	key, secret, err := identity.NewAPIKey(account.ID, "ci")
	require.NoError(t, err)

	t.Run("valid key resolves account and records use", func(t *testing.T) {
		f := newAPIKeyFixture()
		f.keys.On("FindByLookupPrefix", ctx, key.LookupPrefix).Return(key, nil)
		f.accounts.On("FindByID", ctx, account.ID).Return(account, nil)
		f.keys.On("Update", ctx, key).Return(nil)

		got, err := f.svc.Authenticate(ctx, secret)

		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
		assert.NotNil(t, key.LastUsedAt)
		f.keys.AssertExpectations(t)
	})

	t.Run("recording use is best effort", func(t *testing.T) {
		f := newAPIKeyFixture()
		f.keys.On("FindByLookupPrefix", ctx, key.LookupPrefix).Return(key, nil)
		f.accounts.On("FindByID", ctx, account.ID).Return(account, nil)
		f.keys.On("Update", ctx, key).Return(assert.AnError)

		got, err := f.svc.Authenticate(ctx, secret)

		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
	})

	t.Run("malformed key", func(t *testing.T) {
		f := newAPIKeyFixture()

		_, err := f.svc.Authenticate(ctx, "Bearer nope")

		assert.ErrorIs(t, err, ErrInvalidAPIKey)
		f.keys.AssertNotCalled(t, "FindByLookupPrefix", mock.Anything, mock.Anything)
	})

	t.Run("unknown prefix", func(t *testing.T) {
		f := newAPIKeyFixture()
		f.keys.On("FindByLookupPrefix", ctx, mock.Anything).Return(nil, shared.ErrNotFound)

		_, err := f.svc.Authenticate(ctx, identity.APIKeyPrefix+"00000000000000000000000000000000")

		assert.ErrorIs(t, err, ErrInvalidAPIKey)
	})

	t.Run("wrong secret with matching prefix", func(t *testing.T) {
		f := newAPIKeyFixture()
		f.keys.On("FindByLookupPrefix", ctx, key.LookupPrefix).Return(key, nil)
		forged := secret[:len(secret)-4] + "zzzz"

		_, err := f.svc.Authenticate(ctx, forged)

		assert.ErrorIs(t, err, ErrInvalidAPIKey)
		f.accounts.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("inactive account is forbidden", func(t *testing.T) {
		f := newAPIKeyFixture()
		inactive, _ := identity.NewAccount("off@example.com")
		inactive.Deactivate()
		k, s, _ := identity.NewAPIKey(inactive.ID, "ci")
		f.keys.On("FindByLookupPrefix", ctx, k.LookupPrefix).Return(k, nil)
		f.accounts.On("FindByID", ctx, inactive.ID).Return(inactive, nil)

		_, err := f.svc.Authenticate(ctx, s)

		assert.ErrorIs(t, err, ErrAccountInactive)
		f.keys.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("revoked key", func(t *testing.T) {
		f := newAPIKeyFixture()
		k, s, _ := identity.NewAPIKey(account.ID, "old")
		require.NoError(t, k.Revoke())
		f.keys.On("FindByLookupPrefix", ctx, k.LookupPrefix).Return(k, nil)

		_, err := f.svc.Authenticate(ctx, s)

		assert.ErrorIs(t, err, ErrInvalidAPIKey)
	})
}
