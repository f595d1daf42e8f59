// Package http exposes the teaching assistant over a JSON REST API:
// document generation, roster analytics and document history.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/classnotes/teaching-assistant/internal/application/rosters"
	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	// ReadTimeout - maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout - maximum duration for writing the response. Generation
	// can wait out the cooldown and quota backoff, so keep it in minutes.
	WriteTimeout time.Duration

	// IdleTimeout - maximum duration for idle connections.
	IdleTimeout time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// MaxBodyBytes - maximum size of a request body.
	MaxBodyBytes int64

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int

	// Version is reported by /health.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       5 * time.Minute,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20, // 1 MB
		MaxBodyBytes:       1 << 20,
		RateLimitPerMinute: 60,
		Version:            "v1",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// DocumentGenerator produces the three document types.
type DocumentGenerator interface {
	Lesson(ctx context.Context, req document.LessonRequest) document.Result
	Report(ctx context.Context, req document.ReportRequest) document.Result
	ParentMessage(ctx context.Context, req document.ParentMessageRequest) document.Result
}

// RosterReader hands out the current roster.
type RosterReader interface {
	Roster(ctx context.Context) rosters.Snapshot
	Refresh(ctx context.Context) rosters.Snapshot
	Configured() bool
}

// DocumentHistory lists recently generated documents.
type DocumentHistory interface {
	Recent(ctx context.Context, docType document.Type, limit int) ([]document.Record, error)
}

// FeatureSet reports whether an optional route is switched on.
type FeatureSet interface {
	IsEnabled(name string) bool
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	Generator DocumentGenerator
	Rosters   RosterReader

	// History is nil when document history is disabled.
	History DocumentHistory

	// Features gates optional routes. Nil enables every route.
	Features FeatureSet

	// Health runs readiness checks. Nil always reports healthy.
	Health *HealthChecker

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP API server.
type Server struct {
	config      Config
	deps        Dependencies
	engine      *gin.Engine
	httpServer  *http.Server
	logger      *logger.Logger
	rateLimiter *rateLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(config Config, deps Dependencies) *Server {
	def := DefaultConfig()
	if config.Port == 0 {
		config.Port = def.Port
	}
	if config.MaxHeaderBytes == 0 {
		config.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = def.MaxBodyBytes
	}
	if config.Version == "" {
		config.Version = def.Version
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}

	registerValidators()

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger.With(logger.Component("http_server")),
	}
	if config.RateLimitPerMinute > 0 {
		s.rateLimiter = newRateLimiter(config.RateLimitPerMinute, time.Minute)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.engine,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// setupRoutes registers all HTTP routes.
func (s *Server) setupRoutes() {
	r := s.engine
	r.HandleMethodNotAllowed = true
	r.Use(s.requestIDMiddleware(), s.loggingMiddleware(), s.recoveryMiddleware())
	r.NoRoute(func(c *gin.Context) {
		writeJSONError(c, http.StatusNotFound, "not_found", "Route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		writeJSONError(c, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)

	api := r.Group("/api/v1")
	if s.rateLimiter != nil {
		api.Use(s.rateLimitMiddleware())
	}
	api.Use(s.bodyLimitMiddleware())

	// Generation
	api.POST("/lessons", s.handleLesson)
	api.POST("/reports", s.handleReport)
	api.POST("/parent-messages", s.handleParentMessage)

	// Roster analytics
	analytics := api.Group("", s.featureGate(featureAnalytics))
	analytics.GET("/analytics/class", s.handleClassStats)
	analytics.GET("/analytics/subjects", s.handleSubjects)
	analytics.GET("/analytics/grades", s.handleGrades)
	analytics.GET("/analytics/top", s.handleTopStudents)
	analytics.GET("/analytics/struggling", s.handleStrugglingStudents)
	analytics.GET("/analytics/behavior", s.handleBehavior)
	analytics.GET("/analytics/teachers", s.handleTeacherStats)
	analytics.GET("/students", s.handleStudents)
	analytics.GET("/students/:name", s.handleStudent)
	analytics.GET("/students/:name/report-notes", s.handleReportNotes)
	analytics.GET("/teachers", s.handleTeachers)

	api.POST("/roster/refresh", s.featureGate(featureRosterRefresh), s.handleRosterRefresh)

	api.GET("/documents", s.handleDocuments)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

const (
	headerRequestID     = "X-Request-ID"
	contextKeyRequestID = "request_id"
	contextKeyLogger    = "logger"
)

// requestIDMiddleware reuses an incoming X-Request-ID or assigns a new one.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(contextKeyRequestID, id)
		c.Header(headerRequestID, id)

		reqLog := s.logger.WithRequestID(id)
		c.Set(contextKeyLogger, reqLog)
		c.Next()
	}
}

// loggingMiddleware logs every request once it completes.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Latency(time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
		}
		log := requestLogger(c, s.logger)
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request completed", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("request completed", fields...)
		default:
			log.Info("request completed", fields...)
		}
	}
}

// recoveryMiddleware turns handler panics into a 500 response.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		requestLogger(c, s.logger).Error("panic recovered",
			logger.Any("panic", recovered),
			logger.String("path", c.Request.URL.Path),
		)
		writeJSONError(c, http.StatusInternalServerError, "internal_error", "Internal server error")
		c.Abort()
	})
}

// rateLimitMiddleware implements per-IP rate limiting.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.Header("Retry-After", "60")
			writeJSONError(c, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}

// bodyLimitMiddleware caps the request body size.
func (s *Server) bodyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes)
		}
		c.Next()
	}
}

// featureGate answers 404 when the named feature is off.
func (s *Server) featureGate(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.enabled(name) {
			writeJSONError(c, http.StatusNotFound, "feature_disabled", "This endpoint is disabled")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) enabled(name string) bool {
	if s.deps.Features == nil {
		return true
	}
	return s.deps.Features.IsEnabled(name)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`

	// Roster responses only.
	RosterFetchedAt *time.Time `json:"roster_fetched_at,omitempty"`
	FromCache       bool       `json:"from_cache,omitempty"`
	Notice          string     `json:"notice,omitempty"`
}

// writeJSON writes a successful JSON response.
func writeJSON(c *gin.Context, status int, data any) {
	writeJSONWithMeta(c, status, data, nil)
}

// writeJSONWithMeta writes a JSON response with custom metadata.
func writeJSONWithMeta(c *gin.Context, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	c.JSON(status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: c.GetString(contextKeyRequestID),
	})
}

// writeJSONError writes an error JSON response.
func writeJSONError(c *gin.Context, status int, code, message string, details ...string) {
	c.JSON(status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message, Details: details},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: c.GetString(contextKeyRequestID),
	})
}

// rosterMeta describes where a roster snapshot came from.
func rosterMeta(snap rosters.Snapshot, total int) *ResponseMeta {
	fetched := snap.FetchedAt
	return &ResponseMeta{
		TotalCount:      total,
		RosterFetchedAt: &fetched,
		FromCache:       snap.FromCache,
		Notice:          snap.Notice,
	}
}

// requestLogger returns the per-request logger set by requestIDMiddleware.
func requestLogger(c *gin.Context, fallback *logger.Logger) *logger.Logger {
	if v, ok := c.Get(contextKeyLogger); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	return fallback
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	valid := rl.prune(rl.requests[key], now.Add(-rl.window))

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}

// Stop ends the cleanup goroutine.
func (rl *rateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *rateLimiter) prune(requests []time.Time, windowStart time.Time) []time.Time {
	var valid []time.Time
	for _, t := range requests {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	return valid
}

func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			windowStart := time.Now().Add(-rl.window)
			for key, requests := range rl.requests {
				if valid := rl.prune(requests, windowStart); len(valid) == 0 {
					delete(rl.requests, key)
				} else {
					rl.requests[key] = valid
				}
			}
			rl.mu.Unlock()
		}
	}
}
