// Package document defines the generated document types, their requests
// and the result of a generation.
package document

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classnotes/teaching-assistant/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOCUMENT TYPES
// ══════════════════════════════════════════════════════════════════════════════

// Type identifies a document type. The value doubles as the template key.
type Type string

const (
	TypeLesson        Type = "lesson"
	TypeReport        Type = "report"
	TypeParentMessage Type = "parent_message"
)

// Types lists every document type.
var Types = []Type{TypeLesson, TypeReport, TypeParentMessage}

// IsValid reports whether t is a known type.
func (t Type) IsValid() bool {
	switch t {
	case TypeLesson, TypeReport, TypeParentMessage:
		return true
	}
	return false
}

// String returns the template key.
func (t Type) String() string {
	return string(t)
}

// Folder is the output subfolder for the type.
func (t Type) Folder() string {
	switch t {
	case TypeLesson:
		return "lessons"
	case TypeReport:
		return "reports"
	case TypeParentMessage:
		return "parent_messages"
	}
	return "misc"
}

// Settings are the per-type generation parameters.
type Settings struct {
	Temperature     float64
	MaxOutputTokens int
}

// Settings returns the fixed generation parameters for the type.
func (t Type) Settings() Settings {
	switch t {
	case TypeParentMessage:
		return Settings{Temperature: 0.6, MaxOutputTokens: 500}
	default:
		return Settings{Temperature: 0.6, MaxOutputTokens: 600}
	}
}

// ParseType parses a template key, also accepting "parent" and "parent-message".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lesson":
		return TypeLesson, nil
	case "report":
		return TypeReport, nil
	case "parent_message", "parent-message", "parent":
		return TypeParentMessage, nil
	}
	return "", shared.NewDomainError("document", "ParseType", shared.ErrInvalidInput,
		fmt.Sprintf("unknown document type %q", s))
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

// DefaultLessonDuration is used when a lesson request has no duration.
const DefaultLessonDuration = 60

// Request is the input of one generation.
type Request interface {
	// Type returns the document type.
	Type() Type

	// Fields returns the template placeholder values.
	Fields() map[string]any

	// SlugParts returns the key fields used in the output filename.
	SlugParts() []string

	// Validate checks that required fields are present.
	Validate() error
}

// LessonRequest asks for a lesson note.
type LessonRequest struct {
	Subject    string `json:"subject" binding:"required,notblank"`
	Topic      string `json:"topic" binding:"required,notblank"`
	AgeGroup   string `json:"age_group" binding:"required,notblank"`
	Objectives string `json:"objectives" binding:"required,notblank"`
	Duration   int    `json:"duration" binding:"omitempty,min=1,max=480"`
}

func (r LessonRequest) Type() Type { return TypeLesson }

func (r LessonRequest) duration() int {
	if r.Duration <= 0 {
		return DefaultLessonDuration
	}
	return r.Duration
}

func (r LessonRequest) Fields() map[string]any {
	return map[string]any{
		"subject":    r.Subject,
		"topic":      r.Topic,
		"age_group":  r.AgeGroup,
		"objectives": r.Objectives,
		"duration":   r.duration(),
	}
}

func (r LessonRequest) SlugParts() []string {
	return []string{"lesson", r.Subject, r.Topic}
}

func (r LessonRequest) Validate() error {
	return requireFields("lesson",
		"subject", r.Subject,
		"topic", r.Topic,
		"age_group", r.AgeGroup,
		"objectives", r.Objectives,
	)
}

// ReportRequest asks for a student progress report.
type ReportRequest struct {
	StudentName      string `json:"student_name" binding:"required,notblank"`
	Period           string `json:"period" binding:"required,notblank"`
	Subject          string `json:"subject"`
	PerformanceNotes string `json:"performance_notes" binding:"required,notblank"`
	BehaviorNotes    string `json:"behavior_notes" binding:"required,notblank"`

	// SaveToRoster appends the finished report to the roster store.
	SaveToRoster bool `json:"save_to_roster"`
}

func (r ReportRequest) Type() Type { return TypeReport }

func (r ReportRequest) Fields() map[string]any {
	return map[string]any{
		"student_name":      r.StudentName,
		"period":            r.Period,
		"subject":           r.Subject,
		"performance_notes": r.PerformanceNotes,
		"behavior_notes":    r.BehaviorNotes,
	}
}

func (r ReportRequest) SlugParts() []string {
	return []string{"report", r.StudentName, r.Period}
}

func (r ReportRequest) Validate() error {
	return requireFields("report",
		"student_name", r.StudentName,
		"period", r.Period,
		"performance_notes", r.PerformanceNotes,
		"behavior_notes", r.BehaviorNotes,
	)
}

// Purposes accepted for parent messages.
const (
	PurposeReminder     = "reminder"
	PurposeFeedback     = "feedback"
	PurposeAppreciation = "appreciation"
	PurposeConcern      = "concern"
)

// ParentMessageRequest asks for a message to a student's parents.
type ParentMessageRequest struct {
	Purpose     string `json:"purpose" binding:"required,oneof=reminder feedback appreciation concern"`
	ChildName   string `json:"child_name" binding:"required,notblank"`
	Context     string `json:"context" binding:"required,notblank"`
	TeacherName string `json:"teacher_name"`
}

func (r ParentMessageRequest) Type() Type { return TypeParentMessage }

func (r ParentMessageRequest) Fields() map[string]any {
	return map[string]any{
		"purpose":    r.Purpose,
		"child_name": r.ChildName,
		"context":    r.Context,
	}
}

func (r ParentMessageRequest) SlugParts() []string {
	return []string{"parent_message", r.Purpose, r.ChildName}
}

func (r ParentMessageRequest) Validate() error {
	return requireFields("parent_message",
		"purpose", r.Purpose,
		"child_name", r.ChildName,
		"context", r.Context,
	)
}

// Signature is the closing appended to a parent message when a signer is known.
func Signature(teacherName string) string {
	if strings.TrimSpace(teacherName) == "" {
		return ""
	}
	return "\n\nWarm regards,\n" + teacherName
}

func requireFields(doc string, kv ...string) error {
	var missing []string
	for i := 0; i+1 < len(kv); i += 2 {
		if strings.TrimSpace(kv[i+1]) == "" {
			missing = append(missing, kv[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return shared.NewDomainError(doc, "Validate", shared.ErrInvalidInput,
		"missing required fields: "+strings.Join(missing, ", "))
}

// Metadata echoes the key request fields back with the result.
func Metadata(req Request) map[string]string {
	out := make(map[string]string)
	for k, v := range req.Fields() {
		switch val := v.(type) {
		case string:
			if k == "objectives" || k == "context" || strings.HasSuffix(k, "_notes") {
				continue
			}
			out[k] = val
		case int:
			out[k] = strconv.Itoa(val)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULTS
// ══════════════════════════════════════════════════════════════════════════════

// Result is the outcome of one generation. It is built once and not modified.
type Result struct {
	Success      bool              `json:"success"`
	Text         string            `json:"text,omitempty"`
	OutputPath   string            `json:"output_path,omitempty"`
	Error        string            `json:"error,omitempty"`
	DocumentID   uuid.UUID         `json:"document_id"`
	DocumentType Type              `json:"document_type"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`

	// Reports only: whether the report was appended to the roster store.
	SheetSaved bool   `json:"sheet_saved,omitempty"`
	SheetError string `json:"sheet_error,omitempty"`

	// Err keeps the failure for errors.Is checks; it is not serialized.
	Err error `json:"-"`
}

// Succeeded builds a successful result.
func Succeeded(id uuid.UUID, req Request, text, path string, at time.Time) Result {
	return Result{
		Success:      true,
		Text:         text,
		OutputPath:   path,
		DocumentID:   id,
		DocumentType: req.Type(),
		Metadata:     Metadata(req),
		CreatedAt:    at,
	}
}

// Failed builds a failed result carrying the human-readable message of err.
func Failed(id uuid.UUID, req Request, err error, at time.Time) Result {
	return Result{
		Success:      false,
		Error:        shared.UserMessage(err),
		DocumentID:   id,
		DocumentType: req.Type(),
		Metadata:     Metadata(req),
		CreatedAt:    at,
		Err:          err,
	}
}

// WithSheetStatus returns a copy of r carrying the roster append outcome.
func (r Result) WithSheetStatus(err error) Result {
	out := r
	out.SheetSaved = err == nil
	if err != nil {
		out.SheetError = shared.UserMessage(err)
	}
	return out
}

// Record is the history entry of a generated document.
type Record struct {
	ID         uuid.UUID         `json:"id"`
	Type       Type              `json:"type"`
	Slug       string            `json:"slug"`
	OutputPath string            `json:"output_path"`
	Metadata   map[string]string `json:"metadata"`
	CharCount  int               `json:"char_count"`
	CreatedAt  time.Time         `json:"created_at"`
}

// RecordOf builds the history entry of a successful result.
func RecordOf(res Result, slug string) Record {
	return Record{
		ID:         res.DocumentID,
		Type:       res.DocumentType,
		Slug:       slug,
		OutputPath: res.OutputPath,
		Metadata:   res.Metadata,
		CharCount:  len([]rune(res.Text)),
		CreatedAt:  res.CreatedAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// GENERATION CALL
// ══════════════════════════════════════════════════════════════════════════════

// GenerationParams is one call to the text generation endpoint.
type GenerationParams struct {
	Model           string
	Prompt          string
	Temperature     float64
	MaxOutputTokens int
}
