package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classnotes/teaching-assistant/internal/application/rosters"
	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/domain/roster"
)

type fakeGenerator struct {
	lesson *document.LessonRequest
	report *document.ReportRequest
	parent *document.ParentMessageRequest
	result document.Result
}

func (g *fakeGenerator) Lesson(_ context.Context, req document.LessonRequest) document.Result {
	g.lesson = &req
	return g.result
}

func (g *fakeGenerator) Report(_ context.Context, req document.ReportRequest) document.Result {
	g.report = &req
	return g.result
}

func (g *fakeGenerator) ParentMessage(_ context.Context, req document.ParentMessageRequest) document.Result {
	g.parent = &req
	return g.result
}

type fakeRosters struct{ snap rosters.Snapshot }

func (r fakeRosters) Roster(context.Context) rosters.Snapshot { return r.snap }

func setup(res document.Result, snap rosters.Snapshot) (*commandLine, *fakeGenerator, *bytes.Buffer) {
	out := &bytes.Buffer{}
	gen := &fakeGenerator{result: res}
	return &commandLine{generator: gen, rosters: fakeRosters{snap: snap}, out: out}, gen, out
}

func ok(text string) document.Result {
	return document.Result{Success: true, Text: text, OutputPath: "/out/doc.txt"}
}

func Test_commandLine_usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", []string{"assistant"}},
		{"unknown command", []string{"assistant", "poem"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, _, out := setup(ok(""), rosters.Snapshot{})
			err := cli.run(context.Background(), tt.args)
			assert.ErrorIs(t, err, errHelp)
			assert.Contains(t, out.String(), "Usage:")
		})
	}
}

func Test_commandLine_lesson(t *testing.T) {
	cli, gen, out := setup(ok("Lesson plan"), rosters.Snapshot{})

	err := cli.run(context.Background(), []string{"assistant", "lesson",
		"-subject", "Math", "-topic", "Fractions", "-age-group", "Grade 2", "-objectives", "Add halves", "-duration", "45"})

	require.NoError(t, err)
	require.NotNil(t, gen.lesson)
	assert.Equal(t, document.LessonRequest{
		Subject: "Math", Topic: "Fractions", AgeGroup: "Grade 2", Objectives: "Add halves", Duration: 45,
	}, *gen.lesson)
	assert.Contains(t, out.String(), "Lesson plan")
	assert.Contains(t, out.String(), "Saved to /out/doc.txt")
}

func Test_commandLine_lessonDefaultDuration(t *testing.T) {
	cli, gen, _ := setup(ok("x"), rosters.Snapshot{})

	require.NoError(t, cli.run(context.Background(), []string{"assistant", "lesson", "-subject", "Math"}))
	assert.Equal(t, document.DefaultLessonDuration, gen.lesson.Duration)
}

func Test_commandLine_reportSheetStatus(t *testing.T) {
	t.Run("saved", func(t *testing.T) {
		res := ok("Report")
		res.SheetSaved = true
		cli, gen, out := setup(res, rosters.Snapshot{})

		err := cli.run(context.Background(), []string{"assistant", "report",
			"-student", "Amina", "-period", "Term 1", "-performance", "p", "-behavior", "b", "-save"})

		require.NoError(t, err)
		assert.True(t, gen.report.SaveToRoster)
		assert.Equal(t, "Amina", gen.report.StudentName)
		assert.Contains(t, out.String(), "Saved to roster")
	})

	t.Run("not saved", func(t *testing.T) {
		res := ok("Report")
		res.SheetError = "roster store is not configured"
		cli, _, out := setup(res, rosters.Snapshot{})

		require.NoError(t, cli.run(context.Background(), []string{"assistant", "report", "-student", "Amina", "-save"}))
		assert.Contains(t, out.String(), "Not saved to roster: roster store is not configured")
	})
}

func Test_commandLine_parent(t *testing.T) {
	cli, gen, _ := setup(ok("Dear parent"), rosters.Snapshot{})

	err := cli.run(context.Background(), []string{"assistant", "parent",
		"-purpose", "concern", "-child", "Brian", "-context", "Late twice", "-teacher", "Ms. Wanjiru"})

	require.NoError(t, err)
	assert.Equal(t, document.ParentMessageRequest{
		Purpose: "concern", ChildName: "Brian", Context: "Late twice", TeacherName: "Ms. Wanjiru",
	}, *gen.parent)
}

func Test_commandLine_failedGeneration(t *testing.T) {
	cli, _, out := setup(document.Result{Success: false, Error: "GOOGLE_API_KEY is not set"}, rosters.Snapshot{})

	err := cli.run(context.Background(), []string{"assistant", "parent", "-child", "Amina", "-context", "Trip"})

	assert.EqualError(t, err, "GOOGLE_API_KEY is not set")
	assert.Empty(t, out.String())
}

func Test_commandLine_badFlag(t *testing.T) {
	cli, gen, _ := setup(ok("x"), rosters.Snapshot{})

	err := cli.run(context.Background(), []string{"assistant", "lesson", "-colour", "red"})

	assert.Error(t, err)
	assert.Nil(t, gen.lesson)
}

func Test_commandLine_stats(t *testing.T) {
	records := []roster.StudentRecord{
		{Name: "Amina", Subject: "Math", Score: roster.NumericScore(92), Teacher: "Ms. Wanjiru", Behavior: "Excellent"},
		{Name: "Brian", Subject: "Math", Score: roster.NumericScore(50), Teacher: "Ms. Wanjiru", Behavior: "Good"},
		{Name: "Chloe", Subject: "English", Score: roster.NumericScore(71), Teacher: "Mr. Otieno", Behavior: "Good"},
	}
	snap := rosters.Snapshot{Roster: roster.New(records, nil)}

	t.Run("whole class", func(t *testing.T) {
		cli, _, out := setup(ok(""), snap)
		require.NoError(t, cli.run(context.Background(), []string{"assistant", "stats"}))

		var view struct {
			Class struct {
				TotalStudents int     `json:"total_students"`
				AverageScore  float64 `json:"average_score"`
			} `json:"class"`
			Struggling []struct {
				Name string `json:"name"`
			} `json:"struggling"`
		}
		require.NoError(t, json.Unmarshal(out.Bytes(), &view))
		assert.Equal(t, 3, view.Class.TotalStudents)
		assert.InDelta(t, 71.0, view.Class.AverageScore, 0.001)
		require.Len(t, view.Struggling, 1)
		assert.Equal(t, "Brian", view.Struggling[0].Name)
	})

	t.Run("teacher filter", func(t *testing.T) {
		cli, _, out := setup(ok(""), snap)
		require.NoError(t, cli.run(context.Background(), []string{"assistant", "stats", "-teacher", "Mr. Otieno"}))

		var view struct {
			Class struct {
				TotalStudents int `json:"total_students"`
			} `json:"class"`
		}
		require.NoError(t, json.Unmarshal(out.Bytes(), &view))
		assert.Equal(t, 1, view.Class.TotalStudents)
	})

	t.Run("empty roster", func(t *testing.T) {
		cli, _, out := setup(ok(""), rosters.Snapshot{Roster: roster.Empty(), Notice: rosters.NoticeNotConfigured})
		require.NoError(t, cli.run(context.Background(), []string{"assistant", "stats"}))

		var view map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(out.Bytes(), &view))
		assert.Equal(t, "null", string(view["class"]))
		assert.Contains(t, string(view["notice"]), "not configured")
	})
}
