package redis

import (
	"context"
	"errors"
	"time"

	"github.com/classnotes/teaching-assistant/internal/application/rosters"
	"github.com/classnotes/teaching-assistant/internal/domain/roster"
)

// rosterEntryDTO is the cached form of a roster. Scores are kept as their
// raw cell text and parsed again on read.
type rosterEntryDTO struct {
	FetchedAt time.Time          `json:"fetched_at"`
	Columns   []string           `json:"columns"`
	Records   []studentRecordDTO `json:"records"`
}

type studentRecordDTO struct {
	Name       string `json:"name"`
	Subject    string `json:"subject,omitempty"`
	Score      string `json:"score,omitempty"`
	Grade      string `json:"grade,omitempty"`
	Teacher    string `json:"teacher,omitempty"`
	Behavior   string `json:"behavior,omitempty"`
	Notes      string `json:"notes,omitempty"`
	Attendance string `json:"attendance,omitempty"`
}

func toDTO(e rosters.Entry) rosterEntryDTO {
	dto := rosterEntryDTO{
		FetchedAt: e.FetchedAt,
		Records:   make([]studentRecordDTO, len(e.Roster.Records)),
	}
	for _, c := range roster.AllColumns {
		if e.Roster.Columns[c] {
			dto.Columns = append(dto.Columns, string(c))
		}
	}
	for i, r := range e.Roster.Records {
		dto.Records[i] = studentRecordDTO{
			Name:       r.Name,
			Subject:    r.Subject,
			Score:      r.Score.Raw,
			Grade:      r.Grade,
			Teacher:    r.Teacher,
			Behavior:   r.Behavior,
			Notes:      r.Notes,
			Attendance: r.Attendance,
		}
	}
	return dto
}

func (d rosterEntryDTO) toEntry() rosters.Entry {
	cols := roster.Columns{}
	for _, c := range d.Columns {
		cols[roster.Column(c)] = true
	}
	records := make([]roster.StudentRecord, len(d.Records))
	for i, r := range d.Records {
		records[i] = roster.StudentRecord{
			Name:       r.Name,
			Subject:    r.Subject,
			Score:      roster.ParseScore(r.Score),
			Grade:      r.Grade,
			Teacher:    r.Teacher,
			Behavior:   r.Behavior,
			Notes:      r.Notes,
			Attendance: r.Attendance,
		}
	}
	return rosters.Entry{Roster: roster.New(records, cols), FetchedAt: d.FetchedAt}
}

// RosterCache implements rosters.Cache on top of Cache. Freshness is
// decided by the roster service; the Redis TTL only bounds how long a
// forgotten entry lingers.
type RosterCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewRosterCache creates a RosterCache. ttl is the Redis expiry of every
// entry; zero keeps entries until invalidated.
func NewRosterCache(cache *Cache, ttl time.Duration) *RosterCache {
	return &RosterCache{cache: cache, ttl: ttl}
}

// Get returns the entry stored under key.
func (c *RosterCache) Get(ctx context.Context, key string) (rosters.Entry, bool, error) {
	var dto rosterEntryDTO
	if err := c.cache.Get(ctx, key, &dto); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return rosters.Entry{}, false, nil
		}
		return rosters.Entry{}, false, err
	}
	return dto.toEntry(), true, nil
}

// Set stores entry under key.
func (c *RosterCache) Set(ctx context.Context, key string, entry rosters.Entry) error {
	return c.cache.Set(ctx, key, toDTO(entry), c.ttl)
}

// Invalidate removes key.
func (c *RosterCache) Invalidate(ctx context.Context, key string) error {
	return c.cache.Delete(ctx, key)
}

var _ rosters.Cache = (*RosterCache)(nil)
