package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/domain/transcription"
	"github.com/transcribe/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormTranscriptionRepository implements transcription.Repository using GORM
type GormTranscriptionRepository struct {
	db *gorm.DB
}

var _ transcription.Repository = (*GormTranscriptionRepository)(nil)

// NewGormTranscriptionRepository creates a new GormTranscriptionRepository
func NewGormTranscriptionRepository(db *gorm.DB) *GormTranscriptionRepository {
	return &GormTranscriptionRepository{db: db}
}

// Create persists a transcription
func (r *GormTranscriptionRepository) Create(ctx context.Context, t *transcription.Transcription) error {
	return r.db.WithContext(ctx).Create(models.TranscriptionModelFromDomain(t)).Error
}

// FindByID finds a transcription owned by an account
func (r *GormTranscriptionRepository) FindByID(ctx context.Context, accountID, id uuid.UUID) (*transcription.Transcription, error) {
	var model models.TranscriptionModel
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

// FindByAccount lists an account's transcriptions with the total count.
// Ties on the sort column are broken by ID so pages stay stable.
func (r *GormTranscriptionRepository) FindByAccount(ctx context.Context, accountID uuid.UUID, filter transcription.ListFilter) ([]*transcription.Transcription, int64, error) {
	page := filter.Page.Normalize()
	sortField := ValidateSortField(filter.SortBy, TranscriptionSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.SortOrder)

	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.TranscriptionModel{}).
		Where("account_id = ?", accountID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.TranscriptionModel
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order(sortField + " " + sortOrder).
		Order("id " + sortOrder).
		Offset(page.Skip).
		Limit(page.Limit).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*transcription.Transcription, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToDomain())
	}
	return out, total, nil
}
