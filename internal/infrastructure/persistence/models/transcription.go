package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transcribe/backend/internal/domain/transcription"
)

// TranscriptionModel is the persistence model for stored transcriptions
type TranscriptionModel struct {
	BaseModel
	AccountID       uuid.UUID       `gorm:"type:uuid;not null;index:idx_transcriptions_account_created"`
	Filename        string          `gorm:"type:varchar(255);not null"`
	ContentType     string          `gorm:"type:varchar(100);not null"`
	FileSize        int64           `gorm:"not null"`
	Text            string          `gorm:"type:text;not null"`
	Language        string          `gorm:"type:varchar(20)"`
	DurationSeconds decimal.Decimal `gorm:"type:decimal(12,3);not null"`
	BilledMinutes   int64           `gorm:"not null"`
	ArchiveKey      string          `gorm:"type:varchar(512)"`
}

// TableName returns the table name for GORM
func (TranscriptionModel) TableName() string {
	return "transcriptions"
}

// ToDomain converts the persistence model to a domain Transcription
func (m *TranscriptionModel) ToDomain() *transcription.Transcription {
	return &transcription.Transcription{
		BaseEntity:      m.BaseModel.ToDomain(),
		AccountID:       m.AccountID,
		Filename:        m.Filename,
		ContentType:     m.ContentType,
		FileSize:        m.FileSize,
		Text:            m.Text,
		Language:        m.Language,
		DurationSeconds: m.DurationSeconds,
		BilledMinutes:   m.BilledMinutes,
		ArchiveKey:      m.ArchiveKey,
	}
}

// TranscriptionModelFromDomain creates a persistence model from a domain Transcription
func TranscriptionModelFromDomain(t *transcription.Transcription) *TranscriptionModel {
	m := &TranscriptionModel{
		AccountID:       t.AccountID,
		Filename:        t.Filename,
		ContentType:     t.ContentType,
		FileSize:        t.FileSize,
		Text:            t.Text,
		Language:        t.Language,
		DurationSeconds: t.DurationSeconds,
		BilledMinutes:   t.BilledMinutes,
		ArchiveKey:      t.ArchiveKey,
	}
	m.FromDomainBaseEntity(t.BaseEntity)
	return m
}
