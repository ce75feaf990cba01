package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/identity"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormAPIKeyRepository implements identity.APIKeyRepository using GORM
type GormAPIKeyRepository struct {
	db *gorm.DB
}

var _ identity.APIKeyRepository = (*GormAPIKeyRepository)(nil)

// NewGormAPIKeyRepository creates a new GormAPIKeyRepository
func NewGormAPIKeyRepository(db *gorm.DB) *GormAPIKeyRepository {
	return &GormAPIKeyRepository{db: db}
}

// Create persists a new key
func (r *GormAPIKeyRepository) Create(ctx context.Context, key *identity.APIKey) error {
	if err := r.db.WithContext(ctx).Create(models.APIKeyModelFromDomain(key)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// Update writes the mutable fields of a key
func (r *GormAPIKeyRepository) Update(ctx context.Context, key *identity.APIKey) error {
	result := r.db.WithContext(ctx).
		Model(&models.APIKeyModel{}).
		Where("id = ? AND account_id = ?", key.ID, key.AccountID).
		Updates(map[string]interface{}{
			"name":         key.Name,
			"last_used_at": key.LastUsedAt,
			"revoked_at":   key.RevokedAt,
			"updated_at":   key.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByID finds a key owned by an account
func (r *GormAPIKeyRepository) FindByID(ctx context.Context, accountID, id uuid.UUID) (*identity.APIKey, error) {
	var model models.APIKeyModel
	if err := r.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByLookupPrefix finds the key with the given lookup prefix
func (r *GormAPIKeyRepository) FindByLookupPrefix(ctx context.Context, prefix string) (*identity.APIKey, error) {
	var model models.APIKeyModel
	if err := r.db.WithContext(ctx).
		Where("lookup_prefix = ?", prefix).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByAccount lists an account's keys, newest first
func (r *GormAPIKeyRepository) FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*identity.APIKey, error) {
	var rows []models.APIKeyModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	keys := make([]*identity.APIKey, 0, len(rows))
	for i := range rows {
		keys = append(keys, rows[i].ToDomain())
	}
	return keys, nil
}
