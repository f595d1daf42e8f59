// Package rosters reads the student roster through a bounded-TTL cache and
// writes generated reports back to the roster store. A failed read never
// propagates: it degrades to an empty roster with an informational notice.
package rosters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/classnotes/teaching-assistant/internal/domain/roster"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
	"github.com/classnotes/teaching-assistant/pkg/circuitbreaker"
	"github.com/classnotes/teaching-assistant/pkg/logger"
	"github.com/classnotes/teaching-assistant/pkg/retry"
	"github.com/classnotes/teaching-assistant/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Store is a tabular roster backend (a spreadsheet or a workbook).
type Store interface {
	// ReadAll reads every row of table.
	ReadAll(ctx context.Context, table string) ([]roster.StudentRecord, roster.Columns, error)

	// AppendRow appends one row of values to table.
	AppendRow(ctx context.Context, table string, values []string) error
}

// Entry is a cached roster and the time it was fetched.
type Entry struct {
	Roster    roster.Roster
	FetchedAt time.Time
}

// Cache holds at most one entry per key. Freshness is decided by the caller.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Invalidate(ctx context.Context, key string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVICE
// ══════════════════════════════════════════════════════════════════════════════

// Notices shown alongside an empty roster.
const (
	NoticeNotConfigured = "Roster store is not configured. Generators still work with manual input."
	NoticeUnavailable   = "Roster data is unavailable right now, showing no students. Generators still work with manual input."
)

// Snapshot is the roster handed to callers.
type Snapshot struct {
	Roster    roster.Roster `json:"-"`
	FetchedAt time.Time     `json:"fetched_at"`
	FromCache bool          `json:"from_cache"`

	// Notice is set when the roster is empty because it could not be read.
	Notice string `json:"notice,omitempty"`
}

// Config contains configuration for the service.
type Config struct {
	StudentsTable string
	ReportsTable  string
	CacheTTL      time.Duration

	// After BreakerThreshold consecutive store failures the store is left
	// alone for BreakerCooldown and reads degrade straight to empty.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		StudentsTable:    "Students",
		ReportsTable:     "Reports",
		CacheTTL:         5 * time.Minute,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// Service reads and caches the roster.
type Service struct {
	store   Store
	cache   Cache
	config  Config
	clock   timeutil.Clock
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger

	// mu serializes refreshes so concurrent misses do one read.
	mu sync.Mutex
}

// NewService creates a Service. A nil store yields empty rosters; a nil
// cache disables caching.
func NewService(store Store, cache Cache, config Config, clock timeutil.Clock, log *logger.Logger) *Service {
	def := DefaultConfig()
	if config.StudentsTable == "" {
		config.StudentsTable = def.StudentsTable
	}
	if config.ReportsTable == "" {
		config.ReportsTable = def.ReportsTable
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = def.CacheTTL
	}
	if config.BreakerThreshold <= 0 {
		config.BreakerThreshold = def.BreakerThreshold
	}
	if config.BreakerCooldown <= 0 {
		config.BreakerCooldown = def.BreakerCooldown
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if log == nil {
		log = logger.Nop()
	}

	log = log.With(logger.Component("rosters"))

	return &Service{
		store:  store,
		cache:  cache,
		config: config,
		clock:  clock,
		retrier: retry.StoreRetrier(
			func(err error) bool { return errors.Is(err, shared.ErrStoreUnavailable) },
			retry.WithClock(clock),
		),
		breaker: circuitbreaker.New("roster-store",
			circuitbreaker.WithFailureThreshold(config.BreakerThreshold),
			circuitbreaker.WithSuccessThreshold(1),
			circuitbreaker.WithTimeout(config.BreakerCooldown),
			circuitbreaker.WithClock(clock),
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				log.Warn("roster store circuit changed state",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			}),
		),
		log: log,
	}
}

// BreakerState reports whether store calls are currently let through.
func (s *Service) BreakerState() circuitbreaker.State {
	return s.breaker.State()
}

// Configured reports whether a roster store is wired.
func (s *Service) Configured() bool {
	return s.store != nil
}

// Roster returns the cached roster when fresh, otherwise reads the store.
func (s *Service) Roster(ctx context.Context) Snapshot {
	if s.store == nil {
		return Snapshot{Roster: roster.Empty(), FetchedAt: s.clock.Now(), Notice: NoticeNotConfigured}
	}

	if snap, ok := s.fromCache(ctx); ok {
		return snap
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if snap, ok := s.fromCache(ctx); ok {
		return snap
	}
	return s.load(ctx)
}

// Refresh drops the cached roster and reads the store again.
func (s *Service) Refresh(ctx context.Context) Snapshot {
	if err := s.Invalidate(ctx); err != nil {
		s.log.Warn("failed to invalidate roster cache", logger.Err(err))
	}
	if s.store == nil {
		return s.Roster(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Invalidate drops the cached roster.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, s.cacheKey())
}

// Student returns the rows of one student (case-insensitive) from the current roster.
func (s *Service) Student(ctx context.Context, name string) ([]roster.StudentRecord, Snapshot) {
	snap := s.Roster(ctx)
	return snap.Roster.RecordsFor(name), snap
}

// AppendReport writes [student, report, timestamp] to the reports table.
func (s *Service) AppendReport(ctx context.Context, student, report string) error {
	if s.store == nil {
		return shared.NewDomainError("rosters", "AppendReport", shared.ErrConfiguration, "roster store is not configured")
	}

	row := []string{student, report, timeutil.SheetStamp(s.clock.Now())}
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.store.AppendRow(ctx, s.config.ReportsTable, row)
	})
	if err != nil {
		s.log.Warn("failed to append report to roster store",
			logger.StudentName(student),
			logger.Table(s.config.ReportsTable),
			logger.Err(err),
		)
		if errors.Is(err, shared.ErrStoreUnavailable) {
			return err
		}
		return shared.WrapError("rosters", "AppendReport", shared.ErrStoreUnavailable, "failed to save report to roster", err)
	}

	s.log.Info("report appended to roster store",
		logger.StudentName(student),
		logger.Table(s.config.ReportsTable),
	)
	return nil
}

func (s *Service) cacheKey() string {
	return "roster:" + s.config.StudentsTable
}

func (s *Service) fromCache(ctx context.Context) (Snapshot, bool) {
	if s.cache == nil {
		return Snapshot{}, false
	}

	entry, ok, err := s.cache.Get(ctx, s.cacheKey())
	if err != nil {
		s.log.Warn("roster cache read failed", logger.Err(err))
		return Snapshot{}, false
	}
	if !ok || s.clock.Now().Sub(entry.FetchedAt) >= s.config.CacheTTL {
		return Snapshot{}, false
	}
	return Snapshot{Roster: entry.Roster, FetchedAt: entry.FetchedAt, FromCache: true}, true
}

// load reads the store. The caller holds s.mu.
func (s *Service) load(ctx context.Context) Snapshot {
	start := s.clock.Now()

	var (
		records []roster.StudentRecord
		cols    roster.Columns
	)
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.retrier.Do(ctx, func(ctx context.Context) error {
			var readErr error
			records, cols, readErr = s.store.ReadAll(ctx, s.config.StudentsTable)
			return readErr
		})
	})
	if err != nil {
		s.log.Warn("roster read failed, continuing with an empty roster",
			logger.Table(s.config.StudentsTable),
			logger.Bool("circuit_open", circuitbreaker.IsRejected(err)),
			logger.Err(err),
		)
		return Snapshot{Roster: roster.Empty(), FetchedAt: start, Notice: NoticeUnavailable}
	}

	r := roster.New(records, cols)
	s.log.Info("roster loaded",
		logger.Table(s.config.StudentsTable),
		logger.RecordCount(r.Len()),
	)

	if s.cache != nil {
		if err := s.cache.Set(ctx, s.cacheKey(), Entry{Roster: r, FetchedAt: start}); err != nil {
			s.log.Warn("roster cache write failed", logger.Err(err))
		}
	}
	return Snapshot{Roster: r, FetchedAt: start}
}
