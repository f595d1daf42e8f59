package generation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classnotes/teaching-assistant/internal/application/generation"
	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
	"github.com/classnotes/teaching-assistant/internal/infrastructure/external/gemini"
	"github.com/classnotes/teaching-assistant/internal/infrastructure/prompts"
	"github.com/classnotes/teaching-assistant/internal/infrastructure/storage"
	"github.com/classnotes/teaching-assistant/pkg/timeutil"
)

var t0 = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type stubEndpoint struct {
	mu     sync.Mutex
	errs   []error
	text   string
	calls  int
	params []document.GenerationParams
}

func (e *stubEndpoint) Generate(_ context.Context, p document.GenerationParams) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.params = append(e.params, p)
	if len(e.errs) > 0 {
		err := e.errs[0]
		if len(e.errs) > 1 {
			e.errs = e.errs[1:]
		} else if e.text != "" {
			e.errs = nil
		}
		return "", err
	}
	return e.text, nil
}

type staticTemplates string

func (s staticTemplates) Load(document.Type) (string, error) { return string(s), nil }

type recordingHistory struct {
	records []document.Record
	err     error
}

func (h *recordingHistory) Record(_ context.Context, rec document.Record) error {
	h.records = append(h.records, rec)
	return h.err
}

type recordingSink struct {
	student, report string
	err             error
}

func (s *recordingSink) AppendReport(_ context.Context, student, report string) error {
	s.student, s.report = student, report
	return s.err
}

type panickingOutput struct{}

func (panickingOutput) Write(string, string, string) (string, error) { panic("disk on fire") }

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type fixture struct {
	root     string
	clock    *timeutil.FakeClock
	endpoint *stubEndpoint
	pipeline *generation.Pipeline
}

func newFixture(t *testing.T, endpoint *stubEndpoint, mutate func(*generation.Dependencies, *generation.Config)) fixture {
	t.Helper()
	root := t.TempDir()
	clock := timeutil.NewFakeClock(t0)
	client := gemini.NewRateLimitedClient(endpoint,
		gemini.NewCooldown(gemini.DefaultCooldown, clock),
		gemini.RateLimitedConfig{Clock: clock},
	)

	deps := generation.Dependencies{
		Templates: prompts.NewStore(""),
		Generator: client,
		Output:    storage.NewOutputStore(root),
		Clock:     clock,
	}
	cfg := generation.DefaultConfig()
	if mutate != nil {
		mutate(&deps, &cfg)
	}
	return fixture{root: root, clock: clock, endpoint: endpoint, pipeline: generation.NewPipeline(deps, cfg)}
}

var (
	lessonReq = document.LessonRequest{
		Subject:    "Math",
		Topic:      "Fractions",
		AgeGroup:   "Grade 2",
		Objectives: "Recognise halves and quarters",
		Duration:   45,
	}
	quotaErr = &gemini.APIError{HTTPStatus: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestPipeline_LessonWritesFile(t *testing.T) {
	f := newFixture(t, &stubEndpoint{text: "LESSON TEXT"}, nil)

	res := f.pipeline.Lesson(context.Background(), lessonReq)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "LESSON TEXT", res.Text)
	assert.Equal(t, filepath.Join(f.root, "lessons", "lesson_math_fractions_20250901_080000.txt"), res.OutputPath)
	assert.Equal(t, "LESSON TEXT", readFile(t, res.OutputPath))
	assert.Equal(t, document.TypeLesson, res.DocumentType)
	assert.Equal(t, "45", res.Metadata["duration"])
	assert.NotContains(t, res.Metadata, "objectives")

	require.Len(t, f.endpoint.params, 1)
	p := f.endpoint.params[0]
	assert.Equal(t, "gemini-1.5-flash", p.Model)
	assert.Equal(t, 0.6, p.Temperature)
	assert.Equal(t, 600, p.MaxOutputTokens)
	assert.Contains(t, p.Prompt, "Topic: Fractions")
	assert.Contains(t, p.Prompt, "45 minutes")
}

func TestPipeline_LongTopicStillSaves(t *testing.T) {
	f := newFixture(t, &stubEndpoint{text: "LESSON TEXT"}, nil)
	req := lessonReq
	req.Topic = strings.Repeat("Photosynthesis ", 20)

	res := f.pipeline.Lesson(context.Background(), req)

	require.True(t, res.Success, res.Error)
	name := filepath.Base(res.OutputPath)
	assert.LessOrEqual(t, len(name), 255)
	assert.True(t, strings.HasPrefix(name, "lesson_math_photosynthesis_"))
	assert.Equal(t, "LESSON TEXT", readFile(t, res.OutputPath))
}

func TestPipeline_TrimsGeneratedText(t *testing.T) {
	f := newFixture(t, &stubEndpoint{text: "\n  Report body  \n"}, nil)

	res := f.pipeline.Report(context.Background(), document.ReportRequest{
		StudentName: "Ann", Period: "Term 1", PerformanceNotes: "good", BehaviorNotes: "kind",
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Report body", res.Text)
	assert.Equal(t, "Report body", readFile(t, res.OutputPath))
	assert.False(t, res.SheetSaved)
	assert.Empty(t, res.SheetError)
}

func TestPipeline_QuotaTwiceThenSuccess(t *testing.T) {
	endpoint := &stubEndpoint{errs: []error{quotaErr, quotaErr}, text: "LESSON TEXT"}
	f := newFixture(t, endpoint, nil)

	res := f.pipeline.Lesson(context.Background(), lessonReq)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "LESSON TEXT", res.Text)
	assert.Equal(t, 3, endpoint.calls)
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second}, f.clock.Sleeps())
}

func TestPipeline_QuotaExhausted(t *testing.T) {
	endpoint := &stubEndpoint{errs: []error{quotaErr}}
	f := newFixture(t, endpoint, nil)

	res := f.pipeline.Lesson(context.Background(), lessonReq)

	assert.False(t, res.Success)
	assert.Equal(t, 3, endpoint.calls)
	assert.ErrorIs(t, res.Err, shared.ErrQuotaExhausted)
	assert.Contains(t, res.Error, "Free tier rate limit reached")
	assert.Empty(t, res.OutputPath)

	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written on failure")
}

func TestPipeline_CredentialFailsWithoutRetry(t *testing.T) {
	endpoint := &stubEndpoint{errs: []error{&gemini.APIError{HTTPStatus: 403, Status: "PERMISSION_DENIED"}}}
	f := newFixture(t, endpoint, nil)

	res := f.pipeline.Lesson(context.Background(), lessonReq)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, shared.ErrCredential)
	assert.Contains(t, res.Error, "GOOGLE_API_KEY")
	assert.Equal(t, 1, endpoint.calls)
}

func TestPipeline_MissingTemplateMakesNoCall(t *testing.T) {
	endpoint := &stubEndpoint{text: "unused"}
	f := newFixture(t, endpoint, func(d *generation.Dependencies, _ *generation.Config) {
		d.Templates = prompts.NewDirStore(t.TempDir())
	})

	res := f.pipeline.Lesson(context.Background(), lessonReq)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, shared.ErrTemplate)
	assert.Zero(t, endpoint.calls)
}

func TestPipeline_UnknownPlaceholderMakesNoCall(t *testing.T) {
	endpoint := &stubEndpoint{text: "unused"}
	f := newFixture(t, endpoint, func(d *generation.Dependencies, _ *generation.Config) {
		d.Templates = staticTemplates("Lesson on {{.topic}} for {{.teacher}}")
	})

	res := f.pipeline.Lesson(context.Background(), lessonReq)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, shared.ErrTemplate)
	assert.Zero(t, endpoint.calls)
}

func TestPipeline_InvalidRequestMakesNoCall(t *testing.T) {
	endpoint := &stubEndpoint{text: "unused"}
	f := newFixture(t, endpoint, nil)

	res := f.pipeline.Lesson(context.Background(), document.LessonRequest{Subject: "Math"})

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, shared.ErrInvalidInput)
	assert.Contains(t, res.Error, "topic")
	assert.Zero(t, endpoint.calls)
}

func TestPipeline_SameSecondWritesDoNotCollide(t *testing.T) {
	root := t.TempDir()
	clock := timeutil.NewFakeClock(t0)
	p := generation.NewPipeline(generation.Dependencies{
		Templates: prompts.NewStore(""),
		Generator: &stubEndpoint{text: "LESSON TEXT"},
		Output:    storage.NewOutputStore(root),
		Clock:     clock,
	}, generation.DefaultConfig())

	first := p.Lesson(context.Background(), lessonReq)
	second := p.Lesson(context.Background(), lessonReq)

	require.True(t, first.Success, first.Error)
	require.True(t, second.Success, second.Error)
	assert.NotEqual(t, first.OutputPath, second.OutputPath)
	assert.Equal(t, "lesson_math_fractions_20250901_080000.txt", filepath.Base(first.OutputPath))
	assert.Equal(t, "lesson_math_fractions_20250901_080000_2.txt", filepath.Base(second.OutputPath))
	assert.Equal(t, "LESSON TEXT", readFile(t, first.OutputPath))
	assert.Equal(t, "LESSON TEXT", readFile(t, second.OutputPath))
}

func TestPipeline_ParentMessageSignature(t *testing.T) {
	endpoint := &stubEndpoint{text: "Dear parents, thank you."}
	f := newFixture(t, endpoint, nil)

	res := f.pipeline.ParentMessage(context.Background(), document.ParentMessageRequest{
		Purpose: "appreciation", ChildName: "Ann", Context: "Helped a classmate", TeacherName: "Ms. Lee",
	})

	require.True(t, res.Success, res.Error)
	want := "Dear parents, thank you.\n\nWarm regards,\nMs. Lee"
	assert.Equal(t, want, res.Text)
	assert.Equal(t, want, readFile(t, res.OutputPath))
	assert.Equal(t, filepath.Join(f.root, "parent_messages"), filepath.Dir(res.OutputPath))
	assert.Equal(t, 500, endpoint.params[0].MaxOutputTokens)
}

func TestPipeline_ParentMessageDefaultSigner(t *testing.T) {
	f := newFixture(t, &stubEndpoint{text: "Hello"}, func(_ *generation.Dependencies, c *generation.Config) {
		c.DefaultTeacherName = "Mr. Kim"
	})

	signed := f.pipeline.ParentMessage(context.Background(), document.ParentMessageRequest{
		Purpose: "reminder", ChildName: "Ben", Context: "Trip on Friday",
	})

	require.True(t, signed.Success, signed.Error)
	assert.Equal(t, "Hello\n\nWarm regards,\nMr. Kim", signed.Text)
}

func TestPipeline_ParentMessageWithoutSigner(t *testing.T) {
	f := newFixture(t, &stubEndpoint{text: "Hello"}, nil)

	res := f.pipeline.ParentMessage(context.Background(), document.ParentMessageRequest{
		Purpose: "reminder", ChildName: "Ben", Context: "Trip on Friday",
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Hello", res.Text)
}

func TestPipeline_ReportSavedToRoster(t *testing.T) {
	sink := &recordingSink{}
	f := newFixture(t, &stubEndpoint{text: "Ann did well."}, func(d *generation.Dependencies, _ *generation.Config) {
		d.Reports = sink
	})

	res := f.pipeline.Report(context.Background(), document.ReportRequest{
		StudentName: "Ann", Period: "Term 1", PerformanceNotes: "good", BehaviorNotes: "kind", SaveToRoster: true,
	})

	require.True(t, res.Success, res.Error)
	assert.True(t, res.SheetSaved)
	assert.Equal(t, "Ann", sink.student)
	assert.Equal(t, "Ann did well.", sink.report)
}

func TestPipeline_ReportRosterFailureDoesNotFail(t *testing.T) {
	sink := &recordingSink{err: shared.NewDomainError("rosters", "AppendReport", shared.ErrStoreUnavailable, "sheet offline")}
	f := newFixture(t, &stubEndpoint{text: "Ann did well."}, func(d *generation.Dependencies, _ *generation.Config) {
		d.Reports = sink
	})

	res := f.pipeline.Report(context.Background(), document.ReportRequest{
		StudentName: "Ann", Period: "Term 1", PerformanceNotes: "good", BehaviorNotes: "kind", SaveToRoster: true,
	})

	assert.True(t, res.Success)
	assert.False(t, res.SheetSaved)
	assert.Equal(t, "sheet offline", res.SheetError)
	assert.FileExists(t, res.OutputPath)
}

func TestPipeline_HistoryIsRecorded(t *testing.T) {
	history := &recordingHistory{}
	f := newFixture(t, &stubEndpoint{text: "LESSON TEXT"}, func(d *generation.Dependencies, _ *generation.Config) {
		d.History = history
	})

	res := f.pipeline.Lesson(context.Background(), lessonReq)

	require.True(t, res.Success)
	require.Len(t, history.records, 1)
	rec := history.records[0]
	assert.Equal(t, res.DocumentID, rec.ID)
	assert.Equal(t, "lesson_math_fractions", rec.Slug)
	assert.Equal(t, 11, rec.CharCount)
	assert.Equal(t, t0, rec.CreatedAt)
}

func TestPipeline_HistoryFailureIsIgnored(t *testing.T) {
	f := newFixture(t, &stubEndpoint{text: "LESSON TEXT"}, func(d *generation.Dependencies, _ *generation.Config) {
		d.History = &recordingHistory{err: errors.New("db down")}
	})

	res := f.pipeline.Lesson(context.Background(), lessonReq)

	assert.True(t, res.Success)
}

func TestPipeline_PanicBecomesFailedResult(t *testing.T) {
	f := newFixture(t, &stubEndpoint{text: "LESSON TEXT"}, func(d *generation.Dependencies, _ *generation.Config) {
		d.Output = panickingOutput{}
	})

	var res document.Result
	assert.NotPanics(t, func() { res = f.pipeline.Lesson(context.Background(), lessonReq) })
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "disk on fire")
}

func TestPipeline_SettingsOverride(t *testing.T) {
	endpoint := &stubEndpoint{text: "x"}
	f := newFixture(t, endpoint, func(_ *generation.Dependencies, c *generation.Config) {
		c.Model = "gemini-2.0-flash"
		c.Settings = map[document.Type]document.Settings{document.TypeLesson: {Temperature: 0.2, MaxOutputTokens: 300}}
	})

	f.pipeline.Lesson(context.Background(), lessonReq)

	require.Len(t, endpoint.params, 1)
	assert.Equal(t, "gemini-2.0-flash", endpoint.params[0].Model)
	assert.Equal(t, 0.2, endpoint.params[0].Temperature)
	assert.Equal(t, 300, endpoint.params[0].MaxOutputTokens)
}

func TestRender(t *testing.T) {
	out, err := generation.Render("t", "Hi {{.name}}, {{.n}} items", map[string]any{"name": "Ann", "n": 3})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann, 3 items", out)

	_, err = generation.Render("t", "Hi {{.missing}}", map[string]any{"name": "Ann"})
	assert.ErrorIs(t, err, shared.ErrTemplate)

	_, err = generation.Render("t", "Hi {{.name", nil)
	assert.ErrorIs(t, err, shared.ErrTemplate)
}
