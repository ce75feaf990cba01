package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/transcribe/backend/internal/domain/identity"
)

type mockAccountRepository struct {
	mock.Mock
}

func (m *mockAccountRepository) Create(ctx context.Context, a *identity.Account) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockAccountRepository) Update(ctx context.Context, a *identity.Account) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockAccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Account, error) {
	args := m.Called(ctx, id)
	if a := args.Get(0); a != nil {
		return a.(*identity.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccountRepository) FindByEmail(ctx context.Context, email string) (*identity.Account, error) {
	args := m.Called(ctx, email)
	if a := args.Get(0); a != nil {
		return a.(*identity.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAPIKeyRepository struct {
	mock.Mock
}

func (m *mockAPIKeyRepository) Create(ctx context.Context, k *identity.APIKey) error {
	return m.Called(ctx, k).Error(0)
}

func (m *mockAPIKeyRepository) Update(ctx context.Context, k *identity.APIKey) error {
	return m.Called(ctx, k).Error(0)
}

func (m *mockAPIKeyRepository) FindByID(ctx context.Context, accountID, id uuid.UUID) (*identity.APIKey, error) {
	args := m.Called(ctx, accountID, id)
	if k := args.Get(0); k != nil {
		return k.(*identity.APIKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPIKeyRepository) FindByLookupPrefix(ctx context.Context, prefix string) (*identity.APIKey, error) {
	args := m.Called(ctx, prefix)
	if k := args.Get(0); k != nil {
		return k.(*identity.APIKey), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPIKeyRepository) FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*identity.APIKey, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).([]*identity.APIKey), args.Error(1)
}
