// Package transcription runs metered transcriptions and serves their history.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	appbilling "github.com/transcribe/backend/internal/application/billing"
	"github.com/transcribe/backend/internal/domain/billing"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/domain/transcription"
	"github.com/transcribe/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

var (
	// ErrFileTooLarge is returned when an upload exceeds the configured size limit
	ErrFileTooLarge = shared.NewDomainError("FILE_TOO_LARGE", "Audio file exceeds the maximum size")

	// ErrTranscriptionTimeout is returned when the provider does not answer in time
	ErrTranscriptionTimeout = shared.NewDomainError("TRANSCRIPTION_TIMEOUT", "Transcription provider timed out")

	// ErrAudioNotArchived is returned when a transcription has no stored audio
	ErrAudioNotArchived = shared.NewDomainError("NOT_FOUND", "Audio was not archived for this transcription")
)

// Audio is an uploaded audio file held in memory
type Audio struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Size returns the length of the audio in bytes
func (a Audio) Size() int64 {
	return int64(len(a.Data))
}

// Result is what the provider returns for a transcribed file
type Result struct {
	Text            string
	Language        string
	DurationSeconds decimal.Decimal
}

// Provider is the speech-to-text backend. Calls are never retried.
type Provider interface {
	Transcribe(ctx context.Context, audio Audio) (*Result, error)
}

// Archive stores uploaded audio under a key
type Archive interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Delete(ctx context.Context, key string) error
	DownloadURL(ctx context.Context, key string) (string, time.Time, error)
}

// AudioLink is a time-limited download link for archived audio
type AudioLink struct {
	URL       string
	ExpiresAt time.Time
}

// Config contains the tunables of the transcription service
type Config struct {
	BytesPerMinute int64
	Timeout        time.Duration
	MaxFileSize    int64
	StoreTimeout   time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		BytesPerMinute: 1 << 20,
		Timeout:        2 * time.Minute,
		MaxFileSize:    25 << 20,
		StoreTimeout:   10 * time.Second,
	}
}

// Outcome is a completed transcription with the quota it left behind
type Outcome struct {
	Transcription    *transcription.Transcription
	EstimatedMinutes int64
	RemainingMinutes int64
	Overage          bool
}

// Service runs transcriptions under the quota enforcer
type Service struct {
	enforcer *appbilling.QuotaEnforcer
	repo     transcription.Repository
	provider Provider
	archive  Archive
	logger   *zap.Logger
	cfg      Config
}

// NewService creates a new transcription Service. archive may be nil.
func NewService(
	enforcer *appbilling.QuotaEnforcer,
	repo transcription.Repository,
	provider Provider,
	archive Archive,
	logger *zap.Logger,
	cfg Config,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.BytesPerMinute <= 0 {
		cfg.BytesPerMinute = def.BytesPerMinute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	return &Service{
		enforcer: enforcer,
		repo:     repo,
		provider: provider,
		archive:  archive,
		logger:   logger,
		cfg:      cfg,
	}
}

// EstimateMinutes converts a file size into the minutes reserved before
// transcribing: size / bytesPerMinute rounded up, at least one minute.
func EstimateMinutes(size, bytesPerMinute int64) int64 {
	if size <= 0 || bytesPerMinute <= 0 {
		return 1
	}
	minutes := (size + bytesPerMinute - 1) / bytesPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Transcribe reserves the estimated minutes, calls the provider and settles
// the reservation from the reported duration. A provider failure releases
// the reservation and is returned to the caller.
func (s *Service) Transcribe(ctx context.Context, accountID uuid.UUID, audio Audio) (*Outcome, error) {
	if audio.Size() > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}
	record, err := transcription.New(uuid.New(), accountID, audio.Filename, audio.ContentType, audio.Size())
	if err != nil {
		return nil, err
	}
	estimate := EstimateMinutes(audio.Size(), s.cfg.BytesPerMinute)

	ctx, span := telemetry.StartServiceSpan(ctx, "transcription", "transcribe",
		telemetry.SpanAttrAccountID, accountID.String(),
		telemetry.SpanAttrTranscriptionID, record.ID.String(),
		telemetry.SpanAttrMinutes, estimate)
	defer span.End()

	settlement, err := s.enforcer.Run(ctx, accountID, estimate, func(ctx context.Context) (appbilling.Usage, error) {
		result, err := s.callProvider(ctx, audio)
		if err != nil {
			return appbilling.Usage{}, err
		}
		minutes := billing.MinutesFromSeconds(result.DurationSeconds)
		if minutes == 0 {
			// provider reported no duration; bill the estimate
			minutes = estimate
		}
		record.Complete(result.Text, result.Language, result.DurationSeconds, minutes)
		return appbilling.Usage{
			Minutes:         minutes,
			Seconds:         result.DurationSeconds,
			TranscriptionID: record.ID,
		}, nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	s.archiveAudio(storeCtx, record, audio)
	if err := s.repo.Create(storeCtx, record); err != nil {
		s.logger.Error("Failed to store transcription after usage was committed",
			zap.String("account_id", accountID.String()),
			zap.String("transcription_id", record.ID.String()),
			zap.Int64("billed_minutes", record.BilledMinutes),
			zap.Error(err))
		s.discardArchived(storeCtx, record)
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to store transcription: %w", err)
	}

	s.logger.Info("Transcription completed",
		zap.String("account_id", accountID.String()),
		zap.String("transcription_id", record.ID.String()),
		zap.Int64("estimated_minutes", estimate),
		zap.Int64("billed_minutes", record.BilledMinutes),
		zap.String("duration_seconds", record.DurationSeconds.String()))

	return &Outcome{
		Transcription:    record,
		EstimatedMinutes: estimate,
		RemainingMinutes: settlement.Subscription.RemainingMinutes(),
		Overage:          settlement.Overage,
	}, nil
}

// callProvider bounds the provider call by the configured timeout and maps a
// timeout of that bound to ErrTranscriptionTimeout
func (s *Service) callProvider(ctx context.Context, audio Audio) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	result, err := s.provider.Transcribe(callCtx, audio)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTranscriptionTimeout, err)
		}
		return nil, err
	}
	if result == nil {
		return nil, shared.NewPermanentProviderError("transcription", "transcribe", errors.New("empty result"))
	}
	return result, nil
}

func (s *Service) archiveAudio(ctx context.Context, record *transcription.Transcription, audio Audio) {
	if s.archive == nil {
		return
	}
	key := ArchiveKey(record.AccountID, record.ID, audio.Filename)
	if err := s.archive.Put(ctx, key, audio.ContentType, audio.Data); err != nil {
		s.logger.Warn("Failed to archive audio",
			zap.String("transcription_id", record.ID.String()),
			zap.String("key", key),
			zap.Error(err))
		return
	}
	record.ArchiveKey = key
}

func (s *Service) discardArchived(ctx context.Context, record *transcription.Transcription) {
	if s.archive == nil || record.ArchiveKey == "" {
		return
	}
	if err := s.archive.Delete(ctx, record.ArchiveKey); err != nil {
		s.logger.Warn("Failed to remove orphaned audio",
			zap.String("transcription_id", record.ID.String()),
			zap.String("key", record.ArchiveKey),
			zap.Error(err))
	}
}

// ArchiveKey returns the object key of an archived upload:
// {account}/{transcription}{ext}
func ArchiveKey(accountID, transcriptionID uuid.UUID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 10 {
		ext = ""
	}
	return accountID.String() + "/" + transcriptionID.String() + ext
}

// Get returns one of the account's transcriptions
func (s *Service) Get(ctx context.Context, accountID, id uuid.UUID) (*transcription.Transcription, error) {
	return s.repo.FindByID(ctx, accountID, id)
}

// List returns a page of the account's history and the total count
func (s *Service) List(ctx context.Context, accountID uuid.UUID, filter transcription.ListFilter) ([]*transcription.Transcription, int64, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.FindByAccount(ctx, accountID, filter)
}

// AudioURL returns a presigned link to the archived audio of one of the
// account's transcriptions
func (s *Service) AudioURL(ctx context.Context, accountID, id uuid.UUID) (*AudioLink, error) {
	record, err := s.repo.FindByID(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if s.archive == nil || record.ArchiveKey == "" {
		return nil, ErrAudioNotArchived
	}
	url, expiresAt, err := s.archive.DownloadURL(ctx, record.ArchiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign audio download: %w", err)
	}
	return &AudioLink{URL: url, ExpiresAt: expiresAt}, nil
}
