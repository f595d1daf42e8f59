package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1beta"
	return NewClient(cfg)
}

func TestClient_Generate(t *testing.T) {
	var got GenerateContentRequestDTO
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  Hello "},{"text":"class\n"}]},"finishReason":"STOP"}]}`))
	})

	text, err := client.Generate(context.Background(), document.GenerationParams{
		Model:           "gemini-1.5-flash",
		Prompt:          "Write a lesson",
		Temperature:     0.6,
		MaxOutputTokens: 600,
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello class", text)
	require.Len(t, got.Contents, 1)
	assert.Equal(t, "Write a lesson", got.Contents[0].Parts[0].Text)
	assert.Equal(t, 0.6, got.GenerationConfig.Temperature)
	assert.Equal(t, 600, got.GenerationConfig.MaxOutputTokens)
}

func TestClient_SendsZeroTemperature(t *testing.T) {
	var body map[string]map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	})

	_, err := client.Generate(context.Background(), document.GenerationParams{Model: "m", Prompt: "p", Temperature: 0})

	require.NoError(t, err)
	cfg := body["generationConfig"]
	require.Contains(t, cfg, "temperature")
	assert.Equal(t, 0.0, cfg["temperature"])
	assert.Equal(t, 1000.0, cfg["maxOutputTokens"])
}

func TestClient_PlainErrorBodyKeepsRunesWhole(t *testing.T) {
	body := "x" + strings.Repeat("é", 150)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	})

	_, err := client.Generate(context.Background(), document.GenerationParams{Model: "m", Prompt: "p"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, utf8.ValidString(apiErr.Message))
	assert.LessOrEqual(t, len(apiErr.Message), 200)
	assert.Equal(t, "x"+strings.Repeat("é", 99), apiErr.Message)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("short", 200))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	assert.Equal(t, "a", truncateRunes("a日本", 3))
	assert.Equal(t, "a日", truncateRunes("a日本", 4))
}

func TestClient_ParsesStructuredErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT","details":[{"@type":"type.googleapis.com/google.rpc.ErrorInfo","reason":"API_KEY_INVALID","domain":"googleapis.com"}]}}`))
	})

	_, err := client.Generate(context.Background(), document.GenerationParams{Model: "m", Prompt: "p"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Equal(t, "INVALID_ARGUMENT", apiErr.Status)
	assert.Equal(t, "API_KEY_INVALID", apiErr.Reason)
	assert.ErrorIs(t, Classify(err), shared.ErrCredential)
}

func TestClient_QuotaError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED"}}`))
	})

	_, err := client.Generate(context.Background(), document.GenerationParams{Model: "m", Prompt: "p"})
	assert.ErrorIs(t, Classify(err), shared.ErrTransientQuota)
}

func TestClient_MissingKeyFailsBeforeRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	cfg := DefaultClientConfig("")
	cfg.BaseURL = srv.URL
	_, err := NewClient(cfg).Generate(context.Background(), document.GenerationParams{Model: "m", Prompt: "p"})

	assert.ErrorIs(t, err, shared.ErrConfiguration)
	assert.False(t, called)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"401", &APIError{HTTPStatus: 401}, shared.ErrCredential},
		{"403", &APIError{HTTPStatus: 403, Status: statusPermissionDenied}, shared.ErrCredential},
		{"unauthenticated status", &APIError{HTTPStatus: 400, Status: statusUnauthenticated}, shared.ErrCredential},
		{"429", &APIError{HTTPStatus: 429}, shared.ErrTransientQuota},
		{"resource exhausted", &APIError{HTTPStatus: 400, Status: statusResourceExhausted}, shared.ErrTransientQuota},
		{"server error", &APIError{HTTPStatus: 500, Status: "INTERNAL", Message: "quota backend down"}, shared.ErrGenericFailure},
		{"untyped key error", errors.New("invalid api_key supplied"), shared.ErrCredential},
		{"untyped quota error", errors.New("Quota exceeded for requests"), shared.ErrTransientQuota},
		{"untyped other", errors.New("connection reset by peer"), shared.ErrGenericFailure},
		{"already classified", shared.NewDomainError("gemini", "Validate", shared.ErrConfiguration, "missing"), shared.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Classify(tt.err), tt.want)
		})
	}
	assert.NoError(t, Classify(nil))
}
