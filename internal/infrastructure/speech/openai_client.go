// Package speech calls the OpenAI audio transcription API.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	apptranscription "github.com/transcribe/backend/internal/application/transcription"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/config"
	"github.com/transcribe/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ProviderName identifies the transcription provider in errors and metrics
const ProviderName = "openai"

const (
	defaultBaseURL       = "https://api.openai.com/v1"
	defaultModel         = "whisper-1"
	transcriptionsPath   = "/audio/transcriptions"
	maxResponseBytes     = 8 << 20
	maxErrorMessageBytes = 512
	opTranscribe         = "transcribe"
)

// OpenAIClient implements the transcription provider on the OpenAI
// /audio/transcriptions endpoint. Requests are never retried.
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

var _ apptranscription.Provider = (*OpenAIClient)(nil)

// Option configures an OpenAIClient
type Option func(*OpenAIClient)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *OpenAIClient) {
		o.httpClient = c
	}
}

// WithMetrics records call latency per outcome
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *OpenAIClient) {
		o.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *OpenAIClient) {
		o.logger = l
	}
}

// NewOpenAIClient creates a client from configuration
func NewOpenAIClient(cfg config.TranscriptionConfig, opts ...Option) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("transcription api key is required")
	}
	c := &OpenAIClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type verboseTranscription struct {
	Text     string          `json:"text"`
	Language string          `json:"language"`
	Duration decimal.Decimal `json:"duration"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Transcribe uploads the audio and returns the text with its duration.
// 408, 429 and 5xx responses and network failures are transient; other
// non-2xx responses are permanent.
func (c *OpenAIClient) Transcribe(ctx context.Context, audio apptranscription.Audio) (*apptranscription.Result, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "speech", opTranscribe,
		"provider", ProviderName,
		"model", c.model)
	defer span.End()

	start := time.Now()
	result, err := c.transcribe(ctx, audio)

	outcome := telemetry.OutcomeOK
	if err != nil {
		outcome = telemetry.OutcomePermanent
		if shared.IsTransient(err) {
			outcome = telemetry.OutcomeTransient
		}
		telemetry.RecordError(span, err)
		c.logger.Warn("Transcription provider call failed",
			zap.String("provider", ProviderName),
			zap.String("filename", audio.Filename),
			zap.Int64("size", audio.Size()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	}
	c.metrics.ProviderCall(ProviderName, opTranscribe, outcome, time.Since(start))
	return result, err
}

func (c *OpenAIClient) transcribe(ctx context.Context, audio apptranscription.Audio) (*apptranscription.Result, error) {
	body, contentType, err := c.multipartBody(audio)
	if err != nil {
		return nil, shared.NewPermanentProviderError(ProviderName, opTranscribe, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transcriptionsPath, body)
	if err != nil {
		return nil, shared.NewPermanentProviderError(ProviderName, opTranscribe, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, shared.NewTransientProviderError(ProviderName, opTranscribe, fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, classifyStatus(resp)
	}

	var payload verboseTranscription
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return nil, shared.NewPermanentProviderError(ProviderName, opTranscribe, fmt.Errorf("decode response: %w", err))
	}
	if payload.Duration.IsNegative() {
		return nil, shared.NewPermanentProviderError(ProviderName, opTranscribe, errors.New("negative duration"))
	}

	return &apptranscription.Result{
		Text:            payload.Text,
		Language:        payload.Language,
		DurationSeconds: payload.Duration,
	}, nil
}

func (c *OpenAIClient) multipartBody(audio apptranscription.Audio) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("model", c.model); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("response_format", "verbose_json"); err != nil {
		return nil, "", err
	}

	filename := audio.Filename
	if filename == "" {
		filename = "audio"
	}
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func classifyStatus(resp *http.Response) error {
	msg := http.StatusText(resp.StatusCode)
	var apiErr apiErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}
	if len(msg) > maxErrorMessageBytes {
		msg = msg[:maxErrorMessageBytes]
	}
	err := fmt.Errorf("status %d: %s", resp.StatusCode, msg)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= http.StatusInternalServerError:
		return shared.NewTransientProviderError(ProviderName, opTranscribe, err)
	default:
		return shared.NewPermanentProviderError(ProviderName, opTranscribe, err)
	}
}
