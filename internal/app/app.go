// Package app wires configuration into the running assistant: the
// generation pipeline, the roster service and the optional stores behind
// them. Both the API server and the command-line tool start from Build.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/classnotes/teaching-assistant/config"
	"github.com/classnotes/teaching-assistant/internal/application/generation"
	"github.com/classnotes/teaching-assistant/internal/application/rosters"
	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/infrastructure/external/gemini"
	"github.com/classnotes/teaching-assistant/internal/infrastructure/persistence/excel"
	"github.com/classnotes/teaching-assistant/internal/infrastructure/persistence/memory"
	"github.com/classnotes/teaching-assistant/internal/infrastructure/persistence/postgres"
	"github.com/classnotes/teaching-assistant/internal/infrastructure/persistence/redis"
	"github.com/classnotes/teaching-assistant/internal/infrastructure/persistence/sheets"
	"github.com/classnotes/teaching-assistant/internal/infrastructure/prompts"
	"github.com/classnotes/teaching-assistant/internal/infrastructure/storage"
	"github.com/classnotes/teaching-assistant/pkg/logger"
	"github.com/classnotes/teaching-assistant/pkg/timeutil"
)

// App holds the wired components. Optional stores are nil when they are
// not configured or could not be reached at startup.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Pipeline *generation.Pipeline
	Rosters  *rosters.Service
	Client   *gemini.Client

	// History lists recorded documents; nil when history is off.
	History *HistoryStore

	Redis    *redis.Cache
	Database *postgres.Connection

	closers []func()
}

// NewLogger builds the process logger from the observability settings.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	opts.FilePath = cfg.Observability.LogFile
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
	)
}

// Build wires every component. Only the generation pipeline is mandatory:
// a roster, cache or history backend that fails at startup is logged and
// left out, and the assistant keeps running without it.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	clock := timeutil.RealClock{}
	a := &App{Config: cfg, Logger: log}

	// ─────────────────────────────────────────────────────────────────────────
	// Text generation
	// ─────────────────────────────────────────────────────────────────────────
	clientCfg := gemini.DefaultClientConfig(cfg.Gemini.APIKey)
	if cfg.Gemini.BaseURL != "" {
		clientCfg.BaseURL = cfg.Gemini.BaseURL
	}
	clientCfg.Timeout = cfg.Gemini.RequestTimeout
	clientCfg.MaxOutputTokens = cfg.Gemini.MaxTokens
	clientCfg.Logger = log
	a.Client = gemini.NewClient(clientCfg)

	generator := gemini.NewRateLimitedClient(a.Client,
		gemini.NewCooldown(cfg.Gemini.Cooldown, clock),
		gemini.RateLimitedConfig{Clock: clock, Logger: log},
	)

	// ─────────────────────────────────────────────────────────────────────────
	// Roster store and cache
	// ─────────────────────────────────────────────────────────────────────────
	store := a.rosterStore(ctx)
	cache := a.rosterCache()

	a.Rosters = rosters.NewService(store, cache, rosters.Config{
		StudentsTable: cfg.Roster.StudentsTable,
		ReportsTable:  cfg.Roster.ReportsTable,
		CacheTTL:      cfg.Roster.CacheTTL,
	}, clock, log)

	// ─────────────────────────────────────────────────────────────────────────
	// Document history
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.HistoryEnabled() {
		a.History = a.historyStore(ctx)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Pipeline
	// ─────────────────────────────────────────────────────────────────────────
	deps := generation.Dependencies{
		Templates: prompts.NewStore(cfg.Gemini.PromptsDir),
		Generator: generator,
		Output:    storage.NewOutputStore(cfg.Output.Dir),
		Clock:     clock,
		Logger:    log,
	}
	if a.History != nil {
		deps.History = a.History
	}
	if a.Rosters.Configured() && cfg.Features.IsEnabled(config.FeatureRosterWriteback) {
		deps.Reports = a.Rosters
	}

	pipelineCfg := generation.DefaultConfig()
	pipelineCfg.Model = cfg.Gemini.Model
	if cfg.Gemini.Temperature != nil {
		pipelineCfg.Settings = make(map[document.Type]document.Settings, len(document.Types))
		for _, t := range document.Types {
			s := t.Settings()
			s.Temperature = *cfg.Gemini.Temperature
			pipelineCfg.Settings[t] = s
		}
	}
	if cfg.Features.IsEnabled(config.FeatureParentSignature) {
		pipelineCfg.DefaultTeacherName = cfg.App.TeacherName
	}
	a.Pipeline = generation.NewPipeline(deps, pipelineCfg)

	log.Info("assistant wired",
		logger.Model(cfg.Gemini.Model),
		logger.Bool("roster_configured", a.Rosters.Configured()),
		logger.Bool("redis_cache", a.Redis != nil),
		logger.Bool("history", a.History != nil),
		logger.String("output_dir", cfg.Output.Dir),
	)
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// rosterStore prefers the spreadsheet, then the local workbook.
func (a *App) rosterStore(ctx context.Context) rosters.Store {
	cfg := a.Config
	switch {
	case cfg.SheetsEnabled():
		store, err := sheets.NewStore(ctx, sheets.Config{
			CredentialsFile: cfg.Sheets.CredentialsFile,
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
		})
		if err != nil {
			a.Logger.Warn("spreadsheet roster unavailable, continuing without roster", logger.Err(err))
			return nil
		}
		a.Logger.Info("using spreadsheet roster", logger.String("spreadsheet_id", cfg.Sheets.SpreadsheetID))
		return store

	case cfg.Workbook.Path != "":
		a.Logger.Info("using workbook roster", logger.String("path", cfg.Workbook.Path))
		return excel.NewStore(excel.DefaultConfig(cfg.Workbook.Path))
	}

	a.Logger.Info("no roster store configured")
	return nil
}

// rosterCache prefers Redis and falls back to process memory.
func (a *App) rosterCache() rosters.Cache {
	cfg := a.Config
	if cfg.Redis.URL == "" {
		return memory.NewRosterCache()
	}

	redisCfg := redis.DefaultConfig()
	redisCfg.URL = cfg.Redis.URL
	redisCfg.KeyPrefix = cfg.Redis.KeyPrefix
	if cfg.Redis.DialTimeout > 0 {
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
	}

	cache, err := redis.NewCache(redisCfg)
	if err != nil {
		a.Logger.Warn("failed to connect to Redis, caching roster in memory", logger.Err(err))
		return memory.NewRosterCache()
	}
	a.Redis = cache
	a.closers = append(a.closers, func() { _ = cache.Close() })
	a.Logger.Info("Redis roster cache connected")
	return redis.NewRosterCache(cache, cfg.Roster.CacheTTL)
}

// historyStore connects to PostgreSQL and applies migrations.
func (a *App) historyStore(ctx context.Context) *HistoryStore {
	cfg := a.Config
	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL, postgres.PoolOptions{
		MaxConns: int32(cfg.Database.MaxConns),
	})
	if err != nil {
		a.Logger.Warn("document history disabled: database unreachable", logger.Err(err))
		return nil
	}

	if cfg.Database.AutoMigrate {
		migrator := postgres.NewMigrator(conn)
		if err := migrator.Migrate(ctx); err != nil {
			conn.Close()
			a.Logger.Warn("document history disabled: migrations failed", logger.Err(err))
			return nil
		}
		if status, err := migrator.Status(ctx); err == nil {
			applied := 0
			for _, m := range status {
				if m.IsApplied {
					applied++
				}
			}
			a.Logger.Info("migrations completed", logger.Int("applied", applied), logger.Int("total", len(status)))
		}
	}

	a.Database = conn
	a.closers = append(a.closers, conn.Close)
	return NewHistoryStore(postgres.NewDocumentRepository(conn), cfg.Database.QueryTimeout)
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// DocumentRepository is the persistence behind HistoryStore.
type DocumentRepository interface {
	Record(ctx context.Context, rec document.Record) error
	Recent(ctx context.Context, docType document.Type, limit int) ([]document.Record, error)
}

// HistoryStore bounds every history query by a timeout so a slow database
// never holds up a generation.
type HistoryStore struct {
	repo    DocumentRepository
	timeout time.Duration
}

// NewHistoryStore wraps repo. A non-positive timeout disables the bound.
func NewHistoryStore(repo DocumentRepository, timeout time.Duration) *HistoryStore {
	return &HistoryStore{repo: repo, timeout: timeout}
}

// Record stores one generated document.
func (h *HistoryStore) Record(ctx context.Context, rec document.Record) error {
	ctx, cancel := h.bound(ctx)
	defer cancel()
	return h.repo.Record(ctx, rec)
}

// Recent lists the latest documents, newest first.
func (h *HistoryStore) Recent(ctx context.Context, docType document.Type, limit int) ([]document.Record, error) {
	ctx, cancel := h.bound(ctx)
	defer cancel()
	return h.repo.Recent(ctx, docType, limit)
}

func (h *HistoryStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.timeout)
}
