// Package transcription holds completed transcriptions and their history.
package transcription

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transcribe/backend/internal/domain/shared"
)

// Transcription is the stored result of one successful transcription
type Transcription struct {
	shared.BaseEntity
	AccountID       uuid.UUID
	Filename        string
	ContentType     string
	FileSize        int64
	Text            string
	Language        string
	DurationSeconds decimal.Decimal
	BilledMinutes   int64
	ArchiveKey      string // object key of the archived audio, empty when not archived
}

// IsAudioContentType reports whether a declared content type is audio
func IsAudioContentType(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "audio/")
}

// New creates a transcription record with a caller-chosen ID so the ID can be
// referenced by usage events before the record is stored
func New(id, accountID uuid.UUID, filename, contentType string, fileSize int64) (*Transcription, error) {
	if id == uuid.Nil || accountID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ID", "Transcription and account IDs cannot be empty")
	}
	if !IsAudioContentType(contentType) {
		return nil, shared.NewDomainError("INVALID_CONTENT_TYPE", "File must be an audio file")
	}
	if fileSize <= 0 {
		return nil, shared.NewDomainError("EMPTY_FILE", "Audio file is empty")
	}
	if filename == "" {
		filename = "audio"
	}

	base := shared.NewBaseEntity()
	base.ID = id
	return &Transcription{
		BaseEntity:  base,
		AccountID:   accountID,
		Filename:    filename,
		ContentType: contentType,
		FileSize:    fileSize,
	}, nil
}

// Complete stores the provider result
func (t *Transcription) Complete(text, language string, durationSeconds decimal.Decimal, billedMinutes int64) {
	t.Text = text
	t.Language = language
	t.DurationSeconds = durationSeconds
	t.BilledMinutes = billedMinutes
	t.Touch()
}

// ListFilter selects a page of an account's history. SortBy names a column
// of the history listing; unknown or empty values fall back to created_at.
type ListFilter struct {
	Page      shared.Page
	SortBy    string
	SortOrder string
}

// Repository defines the interface for transcription persistence
type Repository interface {
	// Create persists a transcription
	Create(ctx context.Context, t *Transcription) error

	// FindByID finds a transcription owned by an account
	FindByID(ctx context.Context, accountID, id uuid.UUID) (*Transcription, error)

	// FindByAccount lists an account's transcriptions with the total count.
	// The default order is newest first.
	FindByAccount(ctx context.Context, accountID uuid.UUID, filter ListFilter) ([]*Transcription, int64, error)
}
