package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	apptranscription "github.com/transcribe/backend/internal/application/transcription"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/domain/transcription"
	"github.com/transcribe/backend/internal/interfaces/http/dto"
	"github.com/transcribe/backend/internal/interfaces/http/middleware"
)

// TranscriptionFileField is the multipart field holding the audio
const TranscriptionFileField = "file"

// TranscriptionResponse is a stored transcription
type TranscriptionResponse struct {
	ID              uuid.UUID       `json:"id"`
	Filename        string          `json:"filename"`
	ContentType     string          `json:"content_type"`
	FileSize        int64           `json:"file_size"`
	Text            string          `json:"text"`
	Language        string          `json:"language,omitempty"`
	DurationSeconds decimal.Decimal `json:"duration_seconds"`
	BilledMinutes   int64           `json:"billed_minutes"`
	Archived        bool            `json:"archived"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AudioLinkResponse is a presigned download link for archived audio
type AudioLinkResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TranscribeResponse is a new transcription with the quota it left behind
type TranscribeResponse struct {
	TranscriptionResponse
	EstimatedMinutes int64 `json:"estimated_minutes"`
	RemainingMinutes int64 `json:"remaining_minutes"`
	Overage          bool  `json:"overage"`
}

func toTranscriptionResponse(t *transcription.Transcription) TranscriptionResponse {
	return TranscriptionResponse{
		ID:              t.ID,
		Filename:        t.Filename,
		ContentType:     t.ContentType,
		FileSize:        t.FileSize,
		Text:            t.Text,
		Language:        t.Language,
		DurationSeconds: t.DurationSeconds,
		BilledMinutes:   t.BilledMinutes,
		Archived:        t.ArchiveKey != "",
		CreatedAt:       t.CreatedAt,
	}
}

// TranscriptionHandler runs metered transcriptions and serves the history
type TranscriptionHandler struct {
	BaseHandler
	service     *apptranscription.Service
	maxFileSize int64
}

// NewTranscriptionHandler creates a new TranscriptionHandler
func NewTranscriptionHandler(service *apptranscription.Service, maxFileSize int64) *TranscriptionHandler {
	return &TranscriptionHandler{service: service, maxFileSize: maxFileSize}
}

// Create transcribes an uploaded audio file.
// POST /api/v1/transcriptions (multipart, field "file")
func (h *TranscriptionHandler) Create(c *gin.Context) {
	accountID, ok := h.requireAccount(c)
	if !ok {
		return
	}

	header, err := c.FormFile(TranscriptionFileField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.HandleError(c, apptranscription.ErrFileTooLarge)
			return
		}
		h.BadRequest(c, "Multipart field \"file\" is required")
		return
	}
	if header.Size > h.maxFileSize {
		h.HandleError(c, apptranscription.ErrFileTooLarge)
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !transcription.IsAudioContentType(contentType) {
		h.Error(c, http.StatusBadRequest, "ERR_INVALID_CONTENT_TYPE", "File must be an audio file")
		return
	}

	f, err := header.Open()
	if err != nil {
		h.BadRequest(c, "Failed to read uploaded file")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxFileSize+1))
	if err != nil {
		h.BadRequest(c, "Failed to read uploaded file")
		return
	}

	outcome, err := h.service.Transcribe(c.Request.Context(), accountID, apptranscription.Audio{
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Created(c, TranscribeResponse{
		TranscriptionResponse: toTranscriptionResponse(outcome.Transcription),
		EstimatedMinutes:      outcome.EstimatedMinutes,
		RemainingMinutes:      outcome.RemainingMinutes,
		Overage:               outcome.Overage,
	})
}

// List returns a page of the account's transcriptions, newest first.
// GET /api/v1/transcriptions?skip=&limit=&sort_by=&sort_order=
func (h *TranscriptionHandler) List(c *gin.Context) {
	accountID, ok := h.requireAccount(c)
	if !ok {
		return
	}
	var req dto.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	page := shared.Page{Skip: req.Skip, Limit: req.Limit}.Normalize()
	items, total, err := h.service.List(c.Request.Context(), accountID, transcription.ListFilter{
		Page:      page,
		SortBy:    req.SortBy,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := make([]TranscriptionResponse, 0, len(items))
	for _, t := range items {
		resp = append(resp, toTranscriptionResponse(t))
	}
	h.SuccessWithMeta(c, resp, total, page)
}

// Get returns one transcription of the account.
// GET /api/v1/transcriptions/:id
func (h *TranscriptionHandler) Get(c *gin.Context) {
	accountID, ok := h.requireAccount(c)
	if !ok {
		return
	}
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	t, err := h.service.Get(c.Request.Context(), accountID, uuid.MustParse(req.ID))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toTranscriptionResponse(t))
}

// GetAudio returns a time-limited download link for the archived upload.
// GET /api/v1/transcriptions/:id/audio
func (h *TranscriptionHandler) GetAudio(c *gin.Context) {
	accountID, ok := h.requireAccount(c)
	if !ok {
		return
	}
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	link, err := h.service.AudioURL(c.Request.Context(), accountID, uuid.MustParse(req.ID))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, AudioLinkResponse{URL: link.URL, ExpiresAt: link.ExpiresAt})
}
