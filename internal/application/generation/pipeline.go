// Package generation turns a document request into generated text on disk.
package generation

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
	"github.com/classnotes/teaching-assistant/pkg/logger"
	"github.com/classnotes/teaching-assistant/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// TemplateStore loads the prompt template of a document type.
type TemplateStore interface {
	Load(t document.Type) (string, error)
}

// TextGenerator performs one generation call, including any throttling
// and retries. The returned text is already trimmed.
type TextGenerator interface {
	Generate(ctx context.Context, params document.GenerationParams) (string, error)
}

// OutputStore persists a finished document and returns where it went.
type OutputStore interface {
	Write(folder, filename, content string) (string, error)
}

// HistoryRecorder keeps a record of generated documents.
type HistoryRecorder interface {
	Record(ctx context.Context, rec document.Record) error
}

// ReportSink receives finished reports, e.g. the roster's Reports table.
type ReportSink interface {
	AppendReport(ctx context.Context, student, report string) error
}

// Dependencies are the collaborators of a Pipeline. History and Reports
// are optional.
type Dependencies struct {
	Templates TemplateStore
	Generator TextGenerator
	Output    OutputStore
	History   HistoryRecorder
	Reports   ReportSink
	Clock     timeutil.Clock
	Logger    *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the pipeline.
type Config struct {
	// Model is the generation model identifier.
	Model string

	// Settings overrides the per-type generation settings.
	Settings map[document.Type]document.Settings

	// DefaultTeacherName signs parent messages that name no teacher.
	DefaultTeacherName string
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{Model: "gemini-1.5-flash"}
}

// ══════════════════════════════════════════════════════════════════════════════
// PIPELINE
// ══════════════════════════════════════════════════════════════════════════════

// Pipeline generates lessons, reports and parent messages. The three
// document types share one flow and differ only in template and fields.
type Pipeline struct {
	deps   Dependencies
	config Config
	logger *logger.Logger
	newID  func() uuid.UUID
}

// NewPipeline creates a pipeline.
func NewPipeline(deps Dependencies, config Config) *Pipeline {
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}

	return &Pipeline{
		deps:   deps,
		config: config,
		logger: deps.Logger.With(logger.Component("generation")),
		newID:  uuid.New,
	}
}

// Lesson generates a lesson note.
func (p *Pipeline) Lesson(ctx context.Context, req document.LessonRequest) document.Result {
	return p.Generate(ctx, req)
}

// Report generates a progress report and, when asked, appends it to the
// roster store. A failed append is reported in the result only.
func (p *Pipeline) Report(ctx context.Context, req document.ReportRequest) document.Result {
	res := p.Generate(ctx, req)
	if !res.Success || !req.SaveToRoster {
		return res
	}

	if p.deps.Reports == nil {
		return res.WithSheetStatus(shared.NewDomainError("generation", "Report", shared.ErrConfiguration,
			"roster store is not configured"))
	}

	err := p.deps.Reports.AppendReport(ctx, req.StudentName, res.Text)
	if err != nil {
		p.logger.Warn("report not saved to roster",
			logger.StudentName(req.StudentName),
			logger.Err(err),
		)
	}
	return res.WithSheetStatus(err)
}

// ParentMessage generates a message to a student's parents.
func (p *Pipeline) ParentMessage(ctx context.Context, req document.ParentMessageRequest) document.Result {
	if req.TeacherName == "" {
		req.TeacherName = p.config.DefaultTeacherName
	}
	return p.Generate(ctx, req)
}

// Generate runs the flow for any request. It never returns an error: every
// failure, including a panic in a collaborator, becomes a failed Result.
func (p *Pipeline) Generate(ctx context.Context, req document.Request) (res document.Result) {
	id := p.newID()
	start := p.deps.Clock.Now()
	log := p.logger.With(
		logger.DocumentType(req.Type().String()),
		logger.String("document_id", id.String()),
	)

	defer func() {
		if r := recover(); r != nil {
			err := shared.NewDomainError("generation", "Generate", shared.ErrGenericFailure,
				fmt.Sprintf("unexpected failure: %v", r))
			log.Error("generation panicked", logger.Err(err))
			res = document.Failed(id, req, err, start)
		}
	}()

	text, path, err := p.run(ctx, req, start)
	if err != nil {
		log.Error("generation failed", logger.Err(err), logger.Latency(time.Since(start)))
		return document.Failed(id, req, err, start)
	}

	res = document.Succeeded(id, req, text, path, start)
	log.Info("document generated",
		logger.OutputPath(path),
		logger.Int("chars", len(text)),
		logger.Latency(time.Since(start)),
	)

	if p.deps.History != nil {
		if err := p.deps.History.Record(ctx, document.RecordOf(res, document.Slug(req))); err != nil {
			log.Warn("document history not recorded", logger.Err(err))
		}
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, req document.Request, at time.Time) (string, string, error) {
	if err := req.Validate(); err != nil {
		return "", "", err
	}

	raw, err := p.deps.Templates.Load(req.Type())
	if err != nil {
		return "", "", asTemplateError(err)
	}

	prompt, err := Render(req.Type().String(), raw, req.Fields())
	if err != nil {
		return "", "", err
	}

	settings := p.settings(req.Type())
	text, err := p.deps.Generator.Generate(ctx, document.GenerationParams{
		Model:           p.config.Model,
		Prompt:          prompt,
		Temperature:     settings.Temperature,
		MaxOutputTokens: settings.MaxOutputTokens,
	})
	if err != nil {
		return "", "", err
	}

	if msg, ok := req.(document.ParentMessageRequest); ok {
		text += document.Signature(msg.TeacherName)
	}

	filename := fmt.Sprintf("%s_%s.txt", document.Slug(req), timeutil.FileStamp(at))
	path, err := p.deps.Output.Write(req.Type().Folder(), filename, text)
	if err != nil {
		return "", "", err
	}
	return text, path, nil
}

func (p *Pipeline) settings(t document.Type) document.Settings {
	if s, ok := p.config.Settings[t]; ok {
		return s
	}
	return t.Settings()
}

// ══════════════════════════════════════════════════════════════════════════════
// TEMPLATING
// ══════════════════════════════════════════════════════════════════════════════

// Render fills the {{.field}} placeholders of a template. A placeholder
// without a matching field is an error.
func Render(name, text string, fields map[string]any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", shared.WrapError("generation", "Render", shared.ErrTemplate,
			fmt.Sprintf("template %q is malformed", name), err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, fields); err != nil {
		return "", shared.WrapError("generation", "Render", shared.ErrTemplate,
			fmt.Sprintf("template %q does not match the request fields", name), err)
	}
	return buf.String(), nil
}

func asTemplateError(err error) error {
	if shared.KindOf(err) == shared.ErrTemplate {
		return err
	}
	return shared.WrapError("generation", "Load", shared.ErrTemplate, "cannot load template", err)
}
