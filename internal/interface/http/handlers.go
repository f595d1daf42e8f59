package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/classnotes/teaching-assistant/config"
	"github.com/classnotes/teaching-assistant/internal/application/analytics"
	"github.com/classnotes/teaching-assistant/internal/application/rosters"
	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/domain/roster"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
	"github.com/classnotes/teaching-assistant/pkg/logger"
)

const (
	featureAnalytics     = config.FeatureAnalyticsAPI
	featureRosterRefresh = config.FeatureRosterRefreshAPI
)

// Query defaults.
const (
	defaultTopN               = 10
	defaultStrugglingN        = 10
	defaultStrugglingCutoff   = 60.0
	defaultDocumentsLimit     = 20
	maxDocumentsLimit         = 200
	retryAfterQuotaExhaustion = "60"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves basic API information.
func (s *Server) handleRoot(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"name":    "Teaching Assistant API",
		"version": s.config.Version,
		"endpoints": gin.H{
			"health":          "/health",
			"lessons":         "/api/v1/lessons",
			"reports":         "/api/v1/reports",
			"parent_messages": "/api/v1/parent-messages",
			"analytics":       "/api/v1/analytics/class",
			"students":        "/api/v1/students",
			"documents":       "/api/v1/documents",
		},
	})
}

// handleHealth reports the aggregated check results. Only a failing
// required check turns it into a 503.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Health == nil {
		writeJSON(c, http.StatusOK, gin.H{
			"status":  "healthy",
			"uptime":  s.Uptime().String(),
			"version": s.config.Version,
		})
		return
	}

	status := s.deps.Health.Check(c.Request.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, status)
}

// handleReady is the readiness probe.
func (s *Server) handleReady(c *gin.Context) {
	if s.deps.Health != nil {
		if status := s.deps.Health.Check(c.Request.Context()); !status.Healthy {
			writeJSONError(c, http.StatusServiceUnavailable, "not_ready", status.Message)
			return
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ready"})
}

// ══════════════════════════════════════════════════════════════════════════════
// GENERATION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleLesson handles POST /api/v1/lessons.
func (s *Server) handleLesson(c *gin.Context) {
	var req document.LessonRequest
	if !s.bind(c, &req) {
		return
	}
	s.writeResult(c, s.deps.Generator.Lesson(c.Request.Context(), req))
}

// handleReport handles POST /api/v1/reports.
func (s *Server) handleReport(c *gin.Context) {
	var req document.ReportRequest
	if !s.bind(c, &req) {
		return
	}
	s.writeResult(c, s.deps.Generator.Report(c.Request.Context(), req))
}

// handleParentMessage handles POST /api/v1/parent-messages.
func (s *Server) handleParentMessage(c *gin.Context) {
	var req document.ParentMessageRequest
	if !s.bind(c, &req) {
		return
	}
	s.writeResult(c, s.deps.Generator.ParentMessage(c.Request.Context(), req))
}

// bind decodes and validates a JSON body, answering 400 on failure.
func (s *Server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(c, http.StatusRequestEntityTooLarge, "body_too_large", "Request body is too large")
			return false
		}
		writeJSONError(c, http.StatusBadRequest, "invalid_request", "Request body is invalid", validationDetails(err)...)
		return false
	}
	return true
}

// writeResult answers with the generated document, or maps the failure to
// a status code. A failed result still carries its document ID and metadata.
func (s *Server) writeResult(c *gin.Context, res document.Result) {
	if res.Success {
		writeJSON(c, http.StatusCreated, res)
		return
	}

	status, code := statusFor(res.Err)
	if status == http.StatusTooManyRequests {
		c.Header("Retry-After", retryAfterQuotaExhaustion)
	}
	requestLogger(c, s.logger).Warn("generation request failed",
		logger.DocumentType(res.DocumentType.String()),
		logger.Int("status", status),
		logger.Err(res.Err),
	)

	c.JSON(status, JSONResponse{
		Success:   false,
		Data:      res,
		Error:     &APIError{Code: code, Message: res.Error},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
		RequestID: c.GetString(contextKeyRequestID),
	})
}

// statusFor maps an error kind to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch shared.KindOf(err) {
	case shared.ErrInvalidInput:
		return http.StatusBadRequest, "invalid_request"
	case shared.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case shared.ErrTemplate:
		return http.StatusInternalServerError, "template_error"
	case shared.ErrConfiguration:
		return http.StatusServiceUnavailable, "not_configured"
	case shared.ErrCredential:
		return http.StatusBadGateway, "invalid_credentials"
	case shared.ErrQuotaExhausted, shared.ErrTransientQuota:
		return http.StatusTooManyRequests, "quota_exhausted"
	case shared.ErrStoreUnavailable:
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusBadGateway, "generation_failed"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ANALYTICS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// roster returns the current snapshot narrowed by the teacher and grade
// query parameters.
func (s *Server) roster(c *gin.Context) (roster.Roster, rosters.Snapshot) {
	snap := s.deps.Rosters.Roster(c.Request.Context())
	r := snap.Roster
	if teacher := strings.TrimSpace(c.Query("teacher")); teacher != "" {
		r = r.FilterByTeacher(teacher)
	}
	if grade := strings.TrimSpace(c.Query("grade")); grade != "" {
		r = r.FilterByGrade(grade)
	}
	return r, snap
}

// handleClassStats handles GET /api/v1/analytics/class. Data is null when
// the roster has no rows.
func (s *Server) handleClassStats(c *gin.Context) {
	r, snap := s.roster(c)
	writeJSONWithMeta(c, http.StatusOK, analytics.ClassStatistics(r), rosterMeta(snap, r.Len()))
}

// handleSubjects handles GET /api/v1/analytics/subjects.
func (s *Server) handleSubjects(c *gin.Context) {
	r, snap := s.roster(c)
	out := analytics.SubjectPerformance(r)
	writeJSONWithMeta(c, http.StatusOK, out, rosterMeta(snap, len(out)))
}

// handleGrades handles GET /api/v1/analytics/grades.
func (s *Server) handleGrades(c *gin.Context) {
	r, snap := s.roster(c)
	out := analytics.GradePerformance(r)
	writeJSONWithMeta(c, http.StatusOK, out, rosterMeta(snap, len(out)))
}

// handleTopStudents handles GET /api/v1/analytics/top?n=.
func (s *Server) handleTopStudents(c *gin.Context) {
	n, ok := queryInt(c, "n", defaultTopN)
	if !ok {
		return
	}
	r, snap := s.roster(c)
	out := analytics.TopStudents(r, n)
	writeJSONWithMeta(c, http.StatusOK, out, rosterMeta(snap, len(out)))
}

// handleStrugglingStudents handles GET /api/v1/analytics/struggling?threshold=&n=.
func (s *Server) handleStrugglingStudents(c *gin.Context) {
	n, ok := queryInt(c, "n", defaultStrugglingN)
	if !ok {
		return
	}
	threshold, ok := queryFloat(c, "threshold", defaultStrugglingCutoff)
	if !ok {
		return
	}
	r, snap := s.roster(c)
	out := analytics.StrugglingStudents(r, threshold, n)
	writeJSONWithMeta(c, http.StatusOK, out, rosterMeta(snap, len(out)))
}

// handleBehavior handles GET /api/v1/analytics/behavior.
func (s *Server) handleBehavior(c *gin.Context) {
	r, snap := s.roster(c)
	out := analytics.SortDistribution(analytics.BehaviorDistribution(r))
	writeJSONWithMeta(c, http.StatusOK, out, rosterMeta(snap, len(out)))
}

// handleTeacherStats handles GET /api/v1/analytics/teachers.
func (s *Server) handleTeacherStats(c *gin.Context) {
	r, snap := s.roster(c)
	out := analytics.TeacherPerformance(r)
	writeJSONWithMeta(c, http.StatusOK, out, rosterMeta(snap, len(out)))
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// recordView is a roster row with its score as the source text.
type recordView struct {
	roster.StudentRecord
	Score string `json:"score"`
}

// handleStudents handles GET /api/v1/students.
func (s *Server) handleStudents(c *gin.Context) {
	r, snap := s.roster(c)
	out := analytics.StudentSummaries(r)
	writeJSONWithMeta(c, http.StatusOK, out, rosterMeta(snap, len(out)))
}

// handleStudent handles GET /api/v1/students/:name.
func (s *Server) handleStudent(c *gin.Context) {
	name := c.Param("name")
	snap := s.deps.Rosters.Roster(c.Request.Context())
	records := snap.Roster.RecordsFor(name)
	if len(records) == 0 {
		writeJSONError(c, http.StatusNotFound, "student_not_found", "No roster rows for "+name)
		return
	}

	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{StudentRecord: rec, Score: rec.Score.String()})
	}
	writeJSONWithMeta(c, http.StatusOK, gin.H{
		"name":          records[0].Name,
		"average_score": analytics.StudentAverage(records),
		"records":       views,
	}, rosterMeta(snap, len(views)))
}

// handleReportNotes handles GET /api/v1/students/:name/report-notes. The
// notes pre-fill a progress report request.
func (s *Server) handleReportNotes(c *gin.Context) {
	name := c.Param("name")
	snap := s.deps.Rosters.Roster(c.Request.Context())
	records := snap.Roster.RecordsFor(name)
	if len(records) == 0 {
		writeJSONError(c, http.StatusNotFound, "student_not_found", "No roster rows for "+name)
		return
	}

	performance, behavior := snap.Roster.ReportNotes(name)
	writeJSONWithMeta(c, http.StatusOK, gin.H{
		"student_name":      records[0].Name,
		"performance_notes": performance,
		"behavior_notes":    behavior,
	}, rosterMeta(snap, len(records)))
}

// handleTeachers handles GET /api/v1/teachers.
func (s *Server) handleTeachers(c *gin.Context) {
	snap := s.deps.Rosters.Roster(c.Request.Context())
	teachers := snap.Roster.Teachers()
	writeJSONWithMeta(c, http.StatusOK, gin.H{
		"teachers": teachers,
		"grades":   snap.Roster.Grades(),
	}, rosterMeta(snap, len(teachers)))
}

// ══════════════════════════════════════════════════════════════════════════════
// ROSTER & HISTORY HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRosterRefresh handles POST /api/v1/roster/refresh.
func (s *Server) handleRosterRefresh(c *gin.Context) {
	if !s.deps.Rosters.Configured() {
		writeJSONError(c, http.StatusServiceUnavailable, "not_configured", rosters.NoticeNotConfigured)
		return
	}

	snap := s.deps.Rosters.Refresh(c.Request.Context())
	requestLogger(c, s.logger).Info("roster refreshed", logger.RecordCount(snap.Roster.Len()))
	writeJSONWithMeta(c, http.StatusOK, gin.H{
		"records":  snap.Roster.Len(),
		"students": len(snap.Roster.StudentNames()),
	}, rosterMeta(snap, snap.Roster.Len()))
}

// handleDocuments handles GET /api/v1/documents?type=&limit=.
func (s *Server) handleDocuments(c *gin.Context) {
	if s.deps.History == nil {
		writeJSONError(c, http.StatusNotFound, "history_disabled", "Document history is not enabled")
		return
	}

	var docType document.Type
	if raw := c.Query("type"); raw != "" {
		t, err := document.ParseType(raw)
		if err != nil {
			writeJSONError(c, http.StatusBadRequest, "invalid_request", shared.UserMessage(err))
			return
		}
		docType = t
	}

	limit, ok := queryInt(c, "limit", defaultDocumentsLimit)
	if !ok {
		return
	}
	if limit < 1 || limit > maxDocumentsLimit {
		writeJSONError(c, http.StatusBadRequest, "invalid_request",
			"limit must be between 1 and "+strconv.Itoa(maxDocumentsLimit))
		return
	}

	records, err := s.deps.History.Recent(c.Request.Context(), docType, limit)
	if err != nil {
		status, code := statusFor(err)
		requestLogger(c, s.logger).Error("failed to list documents", logger.Err(err))
		writeJSONError(c, status, code, shared.UserMessage(err))
		return
	}
	writeJSONWithMeta(c, http.StatusOK, records, &ResponseMeta{TotalCount: len(records)})
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// queryInt parses an integer query parameter, answering 400 when it is malformed.
func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeJSONError(c, http.StatusBadRequest, "invalid_request", key+" must be an integer")
		return 0, false
	}
	return v, true
}

// queryFloat parses a numeric query parameter, answering 400 when it is malformed.
func queryFloat(c *gin.Context, key string, def float64) (float64, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeJSONError(c, http.StatusBadRequest, "invalid_request", key+" must be a number")
		return 0, false
	}
	return v, true
}
