// Package timeutil provides the clock abstraction and timestamp formats used
// across the teaching assistant. Components that wait or stamp files take a
// Clock so tests can drive time deterministically.
package timeutil

import (
	"context"
	"sync"
	"time"
)

// Common date/time formats.
const (
	// FileStampFormat is the suffix of generated document filenames (second resolution).
	FileStampFormat = "20060102_150405"

	// SheetStampFormat is the timestamp written next to reports appended to the roster store.
	SheetStampFormat = "2006-01-02 15:04:05"

	// DateFormat is the plain date format.
	DateFormat = "2006-01-02"
)

// Clock is the source of time for code that needs to wait or stamp.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock uses the system time.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// Sleep waits for d, returning early with ctx.Err() if the context ends.
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// FakeClock is a manually driven clock. Sleep advances the clock instead of
// blocking and records every requested duration.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFakeClock creates a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Sleeps returns every duration passed to Sleep, in order.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// FileStamp formats t for use in generated filenames.
func FileStamp(t time.Time) string {
	return t.Format(FileStampFormat)
}

// SheetStamp formats t for the roster store's Reports table.
func SheetStamp(t time.Time) string {
	return t.Format(SheetStampFormat)
}
