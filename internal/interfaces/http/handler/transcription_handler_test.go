package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/interfaces/http/dto"
)

func (e *testEnv) upload(t *testing.T, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, TranscriptionFileField, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcriptions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) usedMinutes(t *testing.T) int64 {
	t.Helper()
	sub, err := e.ledger.Current(context.Background(), e.account.ID)
	require.NoError(t, err)
	return sub.QuotaUsedMinutes
}

func TestTranscriptionHandler_Create(t *testing.T) {
	env := newTestEnv(t)

	w := env.upload(t, "meeting.mp3", "audio/mpeg", bytes.Repeat([]byte{1}, 2048))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got TranscribeResponse
	resp := decode(t, w, &got)
	assert.True(t, resp.Success)
	assert.Equal(t, "hello world", got.Text)
	assert.Equal(t, "meeting.mp3", got.Filename)
	assert.Equal(t, int64(2048), got.FileSize)
	assert.Equal(t, "90.5", got.DurationSeconds.String())
	assert.Equal(t, int64(2), got.EstimatedMinutes)
	assert.Equal(t, int64(2), got.BilledMinutes)
	assert.Equal(t, int64(58), got.RemainingMinutes)
	assert.False(t, got.Overage)
	assert.Equal(t, int64(2), env.usedMinutes(t))

	// the record is in the history
	w = env.do(t, http.MethodGet, "/api/v1/transcriptions/"+got.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stored TranscriptionResponse
	decode(t, w, &stored)
	assert.Equal(t, got.ID, stored.ID)
	assert.Equal(t, "hello world", stored.Text)
}

func TestTranscriptionHandler_Create_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		size        int
		speechErr   error
		wantStatus  int
		wantCode    string
	}{
		{"not audio", "video/mp4", 10, nil, http.StatusBadRequest, "ERR_INVALID_CONTENT_TYPE"},
		{"too large", "audio/wav", 64<<10 + 1, nil, http.StatusRequestEntityTooLarge, dto.ErrCodeFileTooLarge},
		{"over quota", "audio/wav", 61 * 1024, nil, http.StatusTooManyRequests, dto.ErrCodeQuotaExceeded},
		{
			"provider unavailable", "audio/wav", 10,
			shared.NewTransientProviderError("openai", "transcribe", errors.New("status 503")),
			http.StatusServiceUnavailable, dto.ErrCodeProviderUnavailable,
		},
		{
			"provider rejected", "audio/wav", 10,
			shared.NewPermanentProviderError("openai", "transcribe", errors.New("status 400")),
			http.StatusBadGateway, dto.ErrCodeProviderRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.speech.err = tt.speechErr

			w := env.upload(t, "clip.wav", tt.contentType, bytes.Repeat([]byte{1}, tt.size))

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			resp := decode(t, w, nil)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.NotEmpty(t, resp.RequestID)
			// nothing stays reserved or charged
			assert.Equal(t, int64(0), env.usedMinutes(t))
		})
	}
}

func TestTranscriptionHandler_Create_QuotaDetails(t *testing.T) {
	env := newTestEnv(t)

	w := env.upload(t, "long.wav", "audio/wav", bytes.Repeat([]byte{1}, 61*1024))

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	var raw struct {
		Error struct {
			Details dto.QuotaDetails `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, dto.QuotaDetails{RequestedMinutes: 61, UsedMinutes: 0, LimitMinutes: 60, RemainingMinutes: 60}, raw.Error.Details)
	assert.Equal(t, 0, env.speech.calls)
}

func TestTranscriptionHandler_Create_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/transcriptions", map[string]string{"file": "nope"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeBadRequest, decode(t, w, nil).Error.Code)
}

func TestTranscriptionHandler_List(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		w := env.upload(t, fmt.Sprintf("clip-%d.ogg", i), "audio/ogg", bytes.Repeat([]byte{1}, 100))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := env.do(t, http.MethodGet, "/api/v1/transcriptions?skip=1&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []TranscriptionResponse
	resp := decode(t, w, &items)
	assert.Len(t, items, 1)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, dto.Meta{Total: 3, Skip: 1, Limit: 1}, *resp.Meta)

	w = env.do(t, http.MethodGet, "/api/v1/transcriptions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w, &items)
	assert.Len(t, items, 3)
	assert.Equal(t, 100, resp.Meta.Limit)

	w = env.do(t, http.MethodGet, "/api/v1/transcriptions?limit=500", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeValidation, decode(t, w, nil).Error.Code)
}

func TestTranscriptionHandler_Get(t *testing.T) {
	env := newTestEnv(t)

	t.Run("unknown id", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/transcriptions/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, dto.ErrCodeNotFound, decode(t, w, nil).Error.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/transcriptions/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("other account's transcription", func(t *testing.T) {
		w := env.upload(t, "mine.mp3", "audio/mpeg", []byte("abc"))
		require.Equal(t, http.StatusCreated, w.Code)
		var created TranscribeResponse
		decode(t, w, &created)

		other, err := env.accounts.Create(context.Background(), "other@example.com")
		require.NoError(t, err)
		env.router = env.newRouter(other.ID)

		w = env.do(t, http.MethodGet, "/api/v1/transcriptions/"+created.ID.String(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestTranscriptionHandler_GetAudio(t *testing.T) {
	env := newTestEnv(t)

	w := env.upload(t, "call.wav", "audio/wav", []byte("RIFF"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created TranscribeResponse
	decode(t, w, &created)
	assert.True(t, created.Archived)

	w = env.do(t, http.MethodGet, "/api/v1/transcriptions/"+created.ID.String()+"/audio", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var link AudioLinkResponse
	decode(t, w, &link)
	assert.Equal(t, "https://archive.test/"+env.account.ID.String()+"/"+created.ID.String()+".wav", link.URL)
	assert.True(t, link.ExpiresAt.After(time.Now()))

	w = env.do(t, http.MethodGet, "/api/v1/transcriptions/"+uuid.NewString()+"/audio", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTranscriptionHandler_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)
	env.router = env.newRouter(uuid.Nil)

	w := env.do(t, http.MethodGet, "/api/v1/transcriptions", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, dto.ErrCodeUnauthorized, decode(t, w, nil).Error.Code)
}
