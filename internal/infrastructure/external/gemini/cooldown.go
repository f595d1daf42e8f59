package gemini

import (
	"context"
	"sync"
	"time"

	"github.com/classnotes/teaching-assistant/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// COOLDOWN
// ══════════════════════════════════════════════════════════════════════════════

// DefaultCooldown is the minimum gap between two calls to the endpoint.
const DefaultCooldown = 15 * time.Second

// Cooldown spaces calls to the endpoint at least interval apart. One
// Cooldown is shared by every caller in the process.
type Cooldown struct {
	mu       sync.Mutex
	interval time.Duration
	clock    timeutil.Clock
	last     time.Time
	started  bool
}

// NewCooldown creates a Cooldown. A non-positive interval disables waiting.
func NewCooldown(interval time.Duration, clock timeutil.Clock) *Cooldown {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Cooldown{interval: interval, clock: clock}
}

// Wait blocks until the caller may start a call and returns how long it
// waited. The slot is reserved under the lock, so concurrent callers get
// distinct slots at least interval apart, then the wait happens unlocked.
//
// A slot reserved by a caller whose context ends while waiting stays
// reserved; the next caller still waits for it.
func (c *Cooldown) Wait(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	now := c.clock.Now()
	slot := now
	if c.started {
		if next := c.last.Add(c.interval); next.After(now) {
			slot = next
		}
	}
	c.last = slot
	c.started = true
	c.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return 0, nil
	}
	if err := c.clock.Sleep(ctx, wait); err != nil {
		return wait, err
	}
	return wait, nil
}

// Interval returns the configured gap.
func (c *Cooldown) Interval() time.Duration {
	return c.interval
}

// LastCall returns the start time of the most recently reserved call.
func (c *Cooldown) LastCall() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.started
}
