package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classnotes/teaching-assistant/internal/application/rosters"
	"github.com/classnotes/teaching-assistant/internal/domain/roster"
)

func TestRosterCache(t *testing.T) {
	ctx := context.Background()
	c := NewRosterCache()

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	r := roster.New([]roster.StudentRecord{{Name: "A", Score: roster.ParseScore("1")}}, nil)
	require.NoError(t, c.Set(ctx, "k", rosters.Entry{Roster: r, FetchedAt: at}))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, at, got.FetchedAt)
	assert.Equal(t, 1, got.Roster.Len())

	require.NoError(t, c.Invalidate(ctx, "k"))
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok)
}
