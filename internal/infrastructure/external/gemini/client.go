// Package gemini implements the text generation endpoint client and the
// rate-limited wrapper every document generation goes through.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
	"github.com/classnotes/teaching-assistant/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBaseURL is the public Generative Language API.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ClientConfig contains configuration for the REST client.
type ClientConfig struct {
	// BaseURL is the API base URL including the version segment.
	BaseURL string

	// APIKey authenticates every request.
	APIKey string

	// Timeout is the HTTP request timeout.
	Timeout time.Duration

	// MaxOutputTokens applies to calls that leave their budget at zero.
	// Temperature is always the caller's.
	MaxOutputTokens int

	// Logger for structured logging.
	Logger *logger.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(apiKey string) ClientConfig {
	return ClientConfig{
		BaseURL:         DefaultBaseURL,
		APIKey:          apiKey,
		Timeout:         60 * time.Second,
		MaxOutputTokens: 1000,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Endpoint generates text for a prompt.
type Endpoint interface {
	Generate(ctx context.Context, params document.GenerationParams) (string, error)
}

// Client calls models/{model}:generateContent over HTTP.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new REST client.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger.With(logger.Component("gemini")),
	}
}

// Validate reports a missing API key.
func (c *Client) Validate() error {
	if strings.TrimSpace(c.config.APIKey) == "" {
		return shared.NewDomainError("gemini", "Validate", shared.ErrConfiguration,
			"Missing GOOGLE_API_KEY. Set it in the environment before generating documents")
	}
	return nil
}

// Generate performs one generateContent call. Failures are returned as
// *APIError when the endpoint answered, or as transport errors otherwise.
func (c *Client) Generate(ctx context.Context, params document.GenerationParams) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if params.Model == "" {
		return "", shared.NewDomainError("gemini", "Generate", shared.ErrConfiguration, "model is not set")
	}

	if params.MaxOutputTokens == 0 {
		params.MaxOutputTokens = c.config.MaxOutputTokens
	}

	body := GenerateContentRequestDTO{
		Contents: []ContentDTO{{
			Role:  "user",
			Parts: []PartDTO{{Text: params.Prompt}},
		}},
		GenerationConfig: GenerationConfigDTO{
			Temperature:     params.Temperature,
			MaxOutputTokens: params.MaxOutputTokens,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	fullURL := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.config.BaseURL, "/"), url.PathEscape(params.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-goog-api-key", c.config.APIKey)

	start := time.Now()
	c.logger.Debug("calling text generation endpoint",
		logger.Model(params.Model),
		logger.Int("prompt_chars", len(params.Prompt)),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", parseAPIError(resp.StatusCode, respBody)
	}

	var out GenerateContentResponseDTO
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" && len(out.Candidates) == 0 {
		return "", fmt.Errorf("prompt blocked: %s", out.PromptFeedback.BlockReason)
	}

	text := strings.TrimSpace(out.Text())
	c.logger.Debug("text generation endpoint answered",
		logger.Model(params.Model),
		logger.Int("response_chars", len(text)),
		logger.Latency(time.Since(start)),
	)
	return text, nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{HTTPStatus: status}

	var envelope ErrorBodyDTO
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Status = envelope.Error.Status
		apiErr.Message = envelope.Error.Message
		for _, d := range envelope.Error.Details {
			if d.Reason != "" {
				apiErr.Reason = d.Reason
				break
			}
		}
		return apiErr
	}

	apiErr.Message = truncateRunes(strings.TrimSpace(string(body)), maxRawErrorBytes)
	return apiErr
}

// maxRawErrorBytes bounds how much of a non-JSON error body is kept.
const maxRawErrorBytes = 200

// truncateRunes cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var _ Endpoint = (*Client)(nil)
