package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/classnotes/teaching-assistant/internal/application/analytics"
	"github.com/classnotes/teaching-assistant/internal/application/rosters"
	"github.com/classnotes/teaching-assistant/internal/domain/document"
)

var errHelp = errors.New("help provided")

type documentGenerator interface {
	Lesson(ctx context.Context, req document.LessonRequest) document.Result
	Report(ctx context.Context, req document.ReportRequest) document.Result
	ParentMessage(ctx context.Context, req document.ParentMessageRequest) document.Result
}

type rosterReader interface {
	Roster(ctx context.Context) rosters.Snapshot
}

type commandLine struct {
	generator documentGenerator
	rosters   rosterReader
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  lesson -subject S -topic T -age-group G -objectives O [-duration MIN] - write a lesson note")
	fmt.Fprintln(cli.out, "  report -student N -period P -performance NOTES -behavior NOTES [-subject S] [-save] - write a progress report")
	fmt.Fprintln(cli.out, "  parent -purpose reminder|feedback|appreciation|concern -child N -context C [-teacher T] - write a parent message")
	fmt.Fprintln(cli.out, "  stats [-teacher T] [-grade G] - print class analytics as JSON")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "lesson":
		fs := cli.flagSet("lesson")
		var req document.LessonRequest
		fs.StringVar(&req.Subject, "subject", "", "Subject taught")
		fs.StringVar(&req.Topic, "topic", "", "Lesson topic")
		fs.StringVar(&req.AgeGroup, "age-group", "", "Class or age group")
		fs.StringVar(&req.Objectives, "objectives", "", "Learning objectives")
		fs.IntVar(&req.Duration, "duration", document.DefaultLessonDuration, "Lesson length in minutes")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		return cli.print(cli.generator.Lesson(ctx, req))

	case "report":
		fs := cli.flagSet("report")
		var req document.ReportRequest
		fs.StringVar(&req.StudentName, "student", "", "Student name")
		fs.StringVar(&req.Period, "period", "", "Reporting period")
		fs.StringVar(&req.Subject, "subject", "", "Subject (optional)")
		fs.StringVar(&req.PerformanceNotes, "performance", "", "Performance notes")
		fs.StringVar(&req.BehaviorNotes, "behavior", "", "Behavior notes")
		fs.BoolVar(&req.SaveToRoster, "save", false, "Append the report to the roster")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		return cli.print(cli.generator.Report(ctx, req))

	case "parent":
		fs := cli.flagSet("parent")
		var req document.ParentMessageRequest
		fs.StringVar(&req.Purpose, "purpose", document.PurposeReminder, "reminder, feedback, appreciation or concern")
		fs.StringVar(&req.ChildName, "child", "", "Child's name")
		fs.StringVar(&req.Context, "context", "", "What the message is about")
		fs.StringVar(&req.TeacherName, "teacher", "", "Signer (defaults to TEACHER_NAME)")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		return cli.print(cli.generator.ParentMessage(ctx, req))

	case "stats":
		fs := cli.flagSet("stats")
		teacher := fs.String("teacher", "", "Only this teacher's records")
		grade := fs.String("grade", "", "Only this grade's records")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		return cli.stats(ctx, *teacher, *grade)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) print(res document.Result) error {
	if !res.Success {
		return errors.New(res.Error)
	}
	fmt.Fprintln(cli.out, res.Text)
	fmt.Fprintln(cli.out)
	fmt.Fprintf(cli.out, "Saved to %s\n", res.OutputPath)
	switch {
	case res.SheetSaved:
		fmt.Fprintln(cli.out, "Saved to roster")
	case res.SheetError != "":
		fmt.Fprintf(cli.out, "Not saved to roster: %s\n", res.SheetError)
	}
	return nil
}

type statsView struct {
	Class      *analytics.ClassStats      `json:"class"`
	Subjects   []analytics.SubjectStats   `json:"subjects"`
	Grades     []analytics.GradeStats     `json:"grades"`
	Teachers   []analytics.TeacherStats   `json:"teachers"`
	Top        []analytics.StudentRanking `json:"top"`
	Struggling []analytics.StudentRanking `json:"struggling"`
	Behavior   []analytics.LabelCount     `json:"behavior"`
	Notice     string                     `json:"notice,omitempty"`
}

func (cli *commandLine) stats(ctx context.Context, teacher, grade string) error {
	snap := cli.rosters.Roster(ctx)
	r := snap.Roster.FilterByTeacher(teacher).FilterByGrade(grade)

	view := statsView{
		Class:      analytics.ClassStatistics(r),
		Subjects:   analytics.SubjectPerformance(r),
		Grades:     analytics.GradePerformance(r),
		Teachers:   analytics.TeacherPerformance(r),
		Top:        analytics.TopStudents(r, 10),
		Struggling: analytics.StrugglingStudents(r, 60, 10),
		Behavior:   analytics.SortDistribution(analytics.BehaviorDistribution(r)),
		Notice:     snap.Notice,
	}

	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
