package gemini

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
	"github.com/classnotes/teaching-assistant/pkg/logger"
	"github.com/classnotes/teaching-assistant/pkg/retry"
	"github.com/classnotes/teaching-assistant/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE-LIMITED CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// validator is implemented by endpoints that can detect missing
// credentials without a network call.
type validator interface {
	Validate() error
}

// RateLimitedConfig configures a RateLimitedClient.
type RateLimitedConfig struct {
	// MaxAttempts bounds attempts after quota failures, including the first.
	MaxAttempts int

	// Backoff is the wait before each retry after a quota failure.
	Backoff []time.Duration

	Clock  timeutil.Clock
	Logger *logger.Logger
}

// DefaultRateLimitedConfig returns the quota policy of the free tier:
// three attempts, 30s then 60s apart.
func DefaultRateLimitedConfig() RateLimitedConfig {
	return RateLimitedConfig{
		MaxAttempts: 3,
		Backoff:     retry.QuotaBackoff,
		Clock:       timeutil.RealClock{},
	}
}

// RateLimitedClient sends every attempt through a shared Cooldown and
// retries quota failures. Credential and other failures are not retried.
type RateLimitedClient struct {
	endpoint Endpoint
	cooldown *Cooldown
	config   RateLimitedConfig
	logger   *logger.Logger
	calls    atomic.Int64
}

// NewRateLimitedClient wraps endpoint.
func NewRateLimitedClient(endpoint Endpoint, cooldown *Cooldown, config RateLimitedConfig) *RateLimitedClient {
	def := DefaultRateLimitedConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.Backoff == nil {
		config.Backoff = def.Backoff
	}
	if config.Clock == nil {
		config.Clock = def.Clock
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if cooldown == nil {
		cooldown = NewCooldown(DefaultCooldown, config.Clock)
	}

	return &RateLimitedClient{
		endpoint: endpoint,
		cooldown: cooldown,
		config:   config,
		logger:   config.Logger.With(logger.Component("rate_limited_client")),
	}
}

// Generate returns the trimmed generated text. Errors are DomainErrors of
// kind ErrConfiguration, ErrCredential, ErrQuotaExhausted or ErrGenericFailure.
func (c *RateLimitedClient) Generate(ctx context.Context, params document.GenerationParams) (string, error) {
	if v, ok := c.endpoint.(validator); ok {
		if err := v.Validate(); err != nil {
			return "", err
		}
	}

	var (
		text    string
		attempt int
	)

	retrier := retry.QuotaRetrier(
		func(err error) bool { return errors.Is(err, shared.ErrTransientQuota) },
		retry.WithMaxAttempts(c.config.MaxAttempts),
		retry.WithDelays(c.config.Backoff...),
		retry.WithClock(c.config.Clock),
		retry.WithOnRetry(func(n int, err error, delay time.Duration) {
			c.logger.Warn("rate limit hit, backing off",
				logger.Attempt(n),
				logger.WaitTime(delay),
				logger.Int("max_attempts", c.config.MaxAttempts),
				logger.Err(err),
			)
		}),
	)

	err := retrier.Do(ctx, func(ctx context.Context) error {
		attempt++
		waited, err := c.cooldown.Wait(ctx)
		if err != nil {
			return retry.Permanent(err)
		}
		if waited > 0 {
			c.logger.Info("rate limiting: waited before calling endpoint", logger.WaitTime(waited))
		}

		c.calls.Add(1)
		out, err := c.endpoint.Generate(ctx, params)
		if err != nil {
			return Classify(err)
		}
		text = strings.TrimSpace(out)
		return nil
	})

	if err == nil {
		return text, nil
	}

	// A cancelled wait hands back the last quota error; report the cancellation.
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.logger.Warn("text generation cancelled", logger.Attempt(attempt), logger.Err(ctxErr))
		return "", shared.WrapError("gemini", "Generate", shared.ErrGenericFailure, "generation cancelled", ctxErr)
	}

	if errors.Is(err, retry.ErrExhausted) {
		c.logger.Error("quota retries exhausted", logger.Attempt(attempt), logger.Err(err))
		return "", shared.WrapError("gemini", "Generate", shared.ErrQuotaExhausted, msgExhausted, err)
	}

	c.logger.Error("text generation failed", logger.Attempt(attempt), logger.Err(err))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", shared.WrapError("gemini", "Generate", shared.ErrGenericFailure, "generation cancelled", err)
	}
	return "", Classify(err)
}

// Calls returns how many endpoint invocations were made.
func (c *RateLimitedClient) Calls() int64 {
	return c.calls.Load()
}

// Cooldown returns the shared cooldown.
func (c *RateLimitedClient) Cooldown() *Cooldown {
	return c.cooldown
}

var _ Endpoint = (*RateLimitedClient)(nil)
