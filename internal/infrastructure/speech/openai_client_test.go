package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apptranscription "github.com/transcribe/backend/internal/application/transcription"
	"github.com/transcribe/backend/internal/domain/shared"
	"github.com/transcribe/backend/internal/infrastructure/config"
	"github.com/transcribe/backend/internal/infrastructure/telemetry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]Option{WithHTTPClient(server.Client())}, opts...)
	client, err := NewOpenAIClient(config.TranscriptionConfig{
		BaseURL: server.URL + "/v1/",
		APIKey:  "sk-test",
	}, opts...)
	require.NoError(t, err)
	return client
}

func testAudio() apptranscription.Audio {
	return apptranscription.Audio{Filename: "call.mp3", ContentType: "audio/mpeg", Data: []byte("fake-mp3-bytes")}
}

func TestNewOpenAIClient(t *testing.T) {
	_, err := NewOpenAIClient(config.TranscriptionConfig{})
	require.Error(t, err)

	client, err := NewOpenAIClient(config.TranscriptionConfig{APIKey: "sk"})
	require.NoError(t, err)
	assert.Equal(t, defaultBaseURL, client.baseURL)
	assert.Equal(t, defaultModel, client.model)
}

func TestOpenAIClient_Transcribe_ParsesVerboseJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "call.mp3", header.Filename)
		assert.Equal(t, "audio/mpeg", header.Header.Get("Content-Type"))
		data, _ := io.ReadAll(file)
		assert.Equal(t, "fake-mp3-bytes", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task":"transcribe","language":"english","duration":90.5,"text":"hello there"}`))
	})

	result, err := client.Transcribe(context.Background(), testAudio())

	require.NoError(t, err)
	assert.Equal(t, "hello there", result.Text)
	assert.Equal(t, "english", result.Language)
	assert.True(t, decimal.RequireFromString("90.5").Equal(result.DurationSeconds))
}

func TestOpenAIClient_Transcribe_MissingDurationIsZero(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"hi"}`))
	})

	result, err := client.Transcribe(context.Background(), testAudio())

	require.NoError(t, err)
	assert.True(t, result.DurationSeconds.IsZero())
}

func TestOpenAIClient_Transcribe_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		contains  string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached"}}`, true, "Rate limit reached"},
		{"server error", http.StatusInternalServerError, `oops`, true, "Internal Server Error"},
		{"bad gateway", http.StatusBadGateway, ``, true, "502"},
		{"request timeout", http.StatusRequestTimeout, ``, true, "408"},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"Invalid file format."}}`, false, "Invalid file format."},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key"}}`, false, "Incorrect API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Transcribe(context.Background(), testAudio())

			require.Error(t, err)
			assert.Equal(t, tt.transient, shared.IsTransient(err))
			if tt.transient {
				assert.ErrorIs(t, err, shared.ErrProviderUnavailable)
			} else {
				assert.ErrorIs(t, err, shared.ErrProviderRejected)
			}
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestOpenAIClient_Transcribe_MalformedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})

	_, err := client.Transcribe(context.Background(), testAudio())

	assert.ErrorIs(t, err, shared.ErrProviderRejected)
}

func TestOpenAIClient_Transcribe_NegativeDuration(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"x","duration":-1}`))
	})

	_, err := client.Transcribe(context.Background(), testAudio())

	assert.ErrorIs(t, err, shared.ErrProviderRejected)
}

func TestOpenAIClient_Transcribe_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.Transcribe(ctx, testAudio())

	require.Error(t, err)
	assert.True(t, shared.IsTransient(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestOpenAIClient_Transcribe_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := telemetry.NewMetrics(reg)
	require.NoError(t, err)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"x","duration":1}`))
	}, WithMetrics(metrics))

	_, err = client.Transcribe(context.Background(), testAudio())
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if m.GetHistogram() == nil {
				continue
			}
			for _, l := range m.GetLabel() {
				if l.GetName() == "provider" && l.GetValue() == ProviderName {
					found = true
					assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
				}
			}
		}
	}
	assert.True(t, found, "provider latency observed")
}
