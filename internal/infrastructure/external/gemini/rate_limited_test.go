package gemini

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
	"github.com/classnotes/teaching-assistant/pkg/timeutil"
)

// scriptedEndpoint returns the scripted errors in order, then text.
type scriptedEndpoint struct {
	mu      sync.Mutex
	errs    []error
	text    string
	calls   int
	started []time.Time
	clock   timeutil.Clock
}

func (e *scriptedEndpoint) Generate(_ context.Context, _ document.GenerationParams) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.clock != nil {
		e.started = append(e.started, e.clock.Now())
	}
	if len(e.errs) > 0 {
		err := e.errs[0]
		e.errs = e.errs[1:]
		return "", err
	}
	return e.text, nil
}

var (
	t0       = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	quotaErr = &APIError{HTTPStatus: 429, Status: statusResourceExhausted, Message: "quota"}
	params   = document.GenerationParams{Model: "gemini-1.5-flash", Prompt: "p", Temperature: 0.6, MaxOutputTokens: 600}
)

func newLimited(endpoint Endpoint, clock *timeutil.FakeClock) *RateLimitedClient {
	return NewRateLimitedClient(endpoint, NewCooldown(DefaultCooldown, clock), RateLimitedConfig{Clock: clock})
}

func TestCooldown_SpacesCalls(t *testing.T) {
	clock := timeutil.NewFakeClock(t0)
	cd := NewCooldown(15*time.Second, clock)
	ctx := context.Background()

	waited, err := cd.Wait(ctx)
	require.NoError(t, err)
	assert.Zero(t, waited)

	clock.Advance(5 * time.Second)
	waited, err = cd.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, waited)
	assert.Equal(t, t0.Add(15*time.Second), clock.Now())

	clock.Advance(20 * time.Second)
	waited, err = cd.Wait(ctx)
	require.NoError(t, err)
	assert.Zero(t, waited)
}

func TestCooldown_ConcurrentCallersAreSerialized(t *testing.T) {
	const (
		interval = 30 * time.Millisecond
		callers  = 4
	)
	cd := NewCooldown(interval, timeutil.RealClock{})
	start := time.Now()

	var (
		mu      sync.Mutex
		started []time.Time
		wg      sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cd.Wait(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			started = append(started, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(started, func(i, j int) bool { return started[i].Before(started[j]) })
	for i, at := range started {
		assert.GreaterOrEqual(t, at.Sub(start), time.Duration(i)*interval, "caller %d started too early", i)
	}
}

func TestRateLimited_BackToBackCallsRespectCooldown(t *testing.T) {
	clock := timeutil.NewFakeClock(t0)
	endpoint := &scriptedEndpoint{text: "ok", clock: clock}
	client := newLimited(endpoint, clock)

	_, err := client.Generate(context.Background(), params)
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), params)
	require.NoError(t, err)

	require.Len(t, endpoint.started, 2)
	assert.GreaterOrEqual(t, endpoint.started[1].Sub(endpoint.started[0]), DefaultCooldown)
}

func TestRateLimited_QuotaTwiceThenSuccess(t *testing.T) {
	clock := timeutil.NewFakeClock(t0)
	endpoint := &scriptedEndpoint{errs: []error{quotaErr, quotaErr}, text: "  LESSON TEXT \n", clock: clock}
	client := newLimited(endpoint, clock)

	text, err := client.Generate(context.Background(), params)

	require.NoError(t, err)
	assert.Equal(t, "LESSON TEXT", text)
	assert.Equal(t, 3, endpoint.calls)
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second}, clock.Sleeps())
}

func TestRateLimited_QuotaExhaustedAfterThreeAttempts(t *testing.T) {
	clock := timeutil.NewFakeClock(t0)
	endpoint := &scriptedEndpoint{errs: []error{quotaErr, quotaErr, quotaErr, quotaErr}}
	client := newLimited(endpoint, clock)

	_, err := client.Generate(context.Background(), params)

	require.Error(t, err)
	assert.Equal(t, 3, endpoint.calls)
	assert.EqualValues(t, 3, client.Calls())
	assert.ErrorIs(t, err, shared.ErrQuotaExhausted)
	assert.Equal(t, shared.ErrQuotaExhausted, shared.KindOf(err))
}

// cancellingEndpoint cancels the caller's context, then fails with err.
type cancellingEndpoint struct {
	cancel context.CancelFunc
	err    error
	calls  int
}

func (e *cancellingEndpoint) Generate(context.Context, document.GenerationParams) (string, error) {
	e.calls++
	e.cancel()
	return "", e.err
}

func TestRateLimited_CancelDuringBackoffIsNotQuota(t *testing.T) {
	clock := timeutil.NewFakeClock(t0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	endpoint := &cancellingEndpoint{cancel: cancel, err: quotaErr}
	client := newLimited(endpoint, clock)

	_, err := client.Generate(ctx, params)

	require.Error(t, err)
	assert.Equal(t, 1, endpoint.calls)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, shared.ErrGenericFailure)
	assert.NotErrorIs(t, err, shared.ErrQuotaExhausted)
	assert.NotErrorIs(t, err, shared.ErrTransientQuota)
}

func TestRateLimited_SingleQuotaFailureIsNotExhausted(t *testing.T) {
	assert.NotErrorIs(t, Classify(quotaErr), shared.ErrQuotaExhausted)
	assert.ErrorIs(t, Classify(quotaErr), shared.ErrTransientQuota)
}

func TestRateLimited_CredentialFailsImmediately(t *testing.T) {
	clock := timeutil.NewFakeClock(t0)
	endpoint := &scriptedEndpoint{errs: []error{&APIError{HTTPStatus: 401, Status: statusUnauthenticated}}}
	client := newLimited(endpoint, clock)

	_, err := client.Generate(context.Background(), params)

	assert.ErrorIs(t, err, shared.ErrCredential)
	assert.Equal(t, 1, endpoint.calls)
	assert.Empty(t, clock.Sleeps())
}

func TestRateLimited_GenericFailsImmediately(t *testing.T) {
	clock := timeutil.NewFakeClock(t0)
	endpoint := &scriptedEndpoint{errs: []error{errors.New("model overloaded")}}
	client := newLimited(endpoint, clock)

	_, err := client.Generate(context.Background(), params)

	assert.ErrorIs(t, err, shared.ErrGenericFailure)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, 1, endpoint.calls)
}

func TestRateLimited_FailedAttemptConsumesCooldown(t *testing.T) {
	clock := timeutil.NewFakeClock(t0)
	endpoint := &scriptedEndpoint{errs: []error{errors.New("boom")}, text: "ok", clock: clock}
	client := newLimited(endpoint, clock)

	_, err := client.Generate(context.Background(), params)
	require.Error(t, err)
	_, err = client.Generate(context.Background(), params)
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{DefaultCooldown}, clock.Sleeps())
}

func TestRateLimited_MissingKeyIsConfigurationError(t *testing.T) {
	clock := timeutil.NewFakeClock(t0)
	client := newLimited(NewClient(DefaultClientConfig("")), clock)

	_, err := client.Generate(context.Background(), params)

	assert.ErrorIs(t, err, shared.ErrConfiguration)
	_, reserved := client.Cooldown().LastCall()
	assert.False(t, reserved, "no cooldown slot is used")
}
