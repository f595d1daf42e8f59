// Package analytics computes aggregate statistics over a student roster.
// Every function is pure: it reads the roster, never modifies it, and
// returns an explicitly empty result when the roster lacks the data it needs.
//
// Only scores that parse as numbers enter mean, median, min and max. A row
// whose score does not parse still counts as a record.
package analytics

import (
	"math"
	"sort"
	"strings"

	"github.com/classnotes/teaching-assistant/internal/domain/roster"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLASS STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// ClassStats summarises the whole roster.
type ClassStats struct {
	// TotalStudents is the number of distinct names.
	TotalStudents int `json:"total_students"`

	// TotalRecords is the number of rows, scored or not.
	TotalRecords int `json:"total_records"`

	// Score aggregates are nil when no score parses.
	AverageScore *float64 `json:"average_score"`
	MedianScore  *float64 `json:"median_score"`
	HighestScore *float64 `json:"highest_score"`
	LowestScore  *float64 `json:"lowest_score"`

	// TotalSubjects is the number of distinct non-empty subjects.
	TotalSubjects int `json:"total_subjects"`
}

// ClassStatistics returns nil for an empty roster, meaning "no data", which
// callers must keep apart from a roster whose scores are all zero.
func ClassStatistics(r roster.Roster) *ClassStats {
	if r.IsEmpty() {
		return nil
	}

	names := make(map[string]struct{})
	subjects := make(map[string]struct{})
	var scores []float64

	for _, rec := range r.Records {
		if rec.Name != "" {
			names[rec.Name] = struct{}{}
		}
		if rec.Subject != "" {
			subjects[rec.Subject] = struct{}{}
		}
		if v, ok := rec.Score.Value(); ok {
			scores = append(scores, v)
		}
	}

	stats := &ClassStats{
		TotalStudents: len(names),
		TotalRecords:  r.Len(),
		TotalSubjects: len(subjects),
	}
	if len(scores) > 0 {
		stats.AverageScore = ptr(mean(scores))
		stats.MedianScore = ptr(median(scores))
		stats.HighestScore = ptr(maxOf(scores))
		stats.LowestScore = ptr(minOf(scores))
	}
	return stats
}

// ══════════════════════════════════════════════════════════════════════════════
// PER-GROUP AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

// SubjectStats aggregates one subject, rounded to one decimal.
type SubjectStats struct {
	Subject string   `json:"subject"`
	Average *float64 `json:"average"`
	Median  *float64 `json:"median"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`

	// StudentCount is the number of numeric scores in the subject.
	StudentCount int `json:"student_count"`
}

// SubjectPerformance groups by subject, ordered by average descending.
// Ties keep first-appearance order and subjects without scores come last.
func SubjectPerformance(r roster.Roster) []SubjectStats {
	if r.IsEmpty() || !r.Has(roster.ColumnSubject, roster.ColumnScore) {
		return []SubjectStats{}
	}

	groups := groupBy(r.Records, func(rec roster.StudentRecord) string { return rec.Subject })
	out := make([]SubjectStats, 0, len(groups))
	for _, g := range groups {
		s := SubjectStats{Subject: g.key, StudentCount: len(g.scores)}
		if len(g.scores) > 0 {
			s.Average = ptr(round1(mean(g.scores)))
			s.Median = ptr(round1(median(g.scores)))
			s.Min = ptr(round1(minOf(g.scores)))
			s.Max = ptr(round1(maxOf(g.scores)))
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool { return descending(out[i].Average, out[j].Average) })
	return out
}

// GradeStats aggregates one grade level.
type GradeStats struct {
	Grade        string   `json:"grade"`
	AverageScore *float64 `json:"average_score"`
	MedianScore  *float64 `json:"median_score"`

	// TotalRecords counts the numeric scores of the grade.
	TotalRecords   int `json:"total_records"`
	UniqueStudents int `json:"unique_students"`
}

// GradePerformance groups by grade, ordered by grade ascending (see roster.CompareGrades).
func GradePerformance(r roster.Roster) []GradeStats {
	if r.IsEmpty() || !r.Has(roster.ColumnGrade, roster.ColumnScore) {
		return []GradeStats{}
	}

	groups := groupBy(r.Records, func(rec roster.StudentRecord) string { return rec.Grade })
	out := make([]GradeStats, 0, len(groups))
	for _, g := range groups {
		s := GradeStats{
			Grade:          g.key,
			TotalRecords:   len(g.scores),
			UniqueStudents: len(g.names),
		}
		if len(g.scores) > 0 {
			s.AverageScore = ptr(round1(mean(g.scores)))
			s.MedianScore = ptr(round1(median(g.scores)))
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool { return roster.CompareGrades(out[i].Grade, out[j].Grade) < 0 })
	return out
}

// TeacherStats aggregates one teacher.
type TeacherStats struct {
	Teacher      string   `json:"teacher"`
	AverageScore *float64 `json:"average_score"`
	MedianScore  *float64 `json:"median_score"`
	StudentCount int      `json:"student_count"`
	RecordCount  int      `json:"record_count"`
}

// TeacherPerformance groups by teacher, ordered by average descending.
func TeacherPerformance(r roster.Roster) []TeacherStats {
	if r.IsEmpty() || !r.Has(roster.ColumnTeacher, roster.ColumnScore) {
		return []TeacherStats{}
	}

	groups := groupBy(r.Records, func(rec roster.StudentRecord) string { return rec.Teacher })
	out := make([]TeacherStats, 0, len(groups))
	for _, g := range groups {
		s := TeacherStats{
			Teacher:      g.key,
			StudentCount: len(g.names),
			RecordCount:  g.rows,
		}
		if len(g.scores) > 0 {
			s.AverageScore = ptr(round1(mean(g.scores)))
			s.MedianScore = ptr(round1(median(g.scores)))
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool { return descending(out[i].AverageScore, out[j].AverageScore) })
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT RANKINGS
// ══════════════════════════════════════════════════════════════════════════════

// StudentRanking is one student's average across their subject rows.
type StudentRanking struct {
	Name         string   `json:"name"`
	AverageScore *float64 `json:"average_score"`
	Grade        string   `json:"grade"`
	Subjects     int      `json:"subjects"`
}

func rankings(r roster.Roster) []StudentRanking {
	groups := groupBy(r.Records, func(rec roster.StudentRecord) string { return rec.Name })
	out := make([]StudentRanking, 0, len(groups))
	for _, g := range groups {
		s := StudentRanking{Name: g.key, Grade: g.firstGrade, Subjects: g.rows}
		if len(g.scores) > 0 {
			s.AverageScore = ptr(round1(mean(g.scores)))
		}
		out = append(out, s)
	}
	return out
}

// TopStudents returns at most n students by average descending. Ties keep
// first-appearance order; students without any score come last.
func TopStudents(r roster.Roster, n int) []StudentRanking {
	if n <= 0 || r.IsEmpty() || !r.Has(roster.ColumnName, roster.ColumnScore) {
		return []StudentRanking{}
	}

	out := rankings(r)
	sort.SliceStable(out, func(i, j int) bool { return descending(out[i].AverageScore, out[j].AverageScore) })
	return truncate(out, n)
}

// StrugglingStudents returns at most n students whose average is strictly
// below threshold, lowest first. Students without any score are never included.
func StrugglingStudents(r roster.Roster, threshold float64, n int) []StudentRanking {
	if n <= 0 || r.IsEmpty() || !r.Has(roster.ColumnName, roster.ColumnScore) {
		return []StudentRanking{}
	}

	all := rankings(r)
	out := make([]StudentRanking, 0, len(all))
	for _, s := range all {
		if s.AverageScore != nil && *s.AverageScore < threshold {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].AverageScore < *out[j].AverageScore })
	return truncate(out, n)
}

// ══════════════════════════════════════════════════════════════════════════════
// BEHAVIOR
// ══════════════════════════════════════════════════════════════════════════════

// BehaviorDistribution counts records per behavior label. Blank labels are skipped.
func BehaviorDistribution(r roster.Roster) map[string]int {
	out := make(map[string]int)
	if r.IsEmpty() || !r.Has(roster.ColumnBehavior) {
		return out
	}
	for _, rec := range r.Records {
		label := strings.TrimSpace(rec.Behavior)
		if label == "" {
			continue
		}
		out[label]++
	}
	return out
}

// LabelCount is one entry of a sorted distribution.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// SortDistribution orders a distribution by count descending, then label.
func SortDistribution(dist map[string]int) []LabelCount {
	out := make([]LabelCount, 0, len(dist))
	for label, count := range dist {
		out = append(out, LabelCount{Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT SUMMARIES
// ══════════════════════════════════════════════════════════════════════════════

// NoBehavior is reported when a student has no behavior label.
const NoBehavior = "N/A"

// StudentSummary is the one-line view of a student used by roster listings.
type StudentSummary struct {
	Name         string   `json:"name"`
	AverageScore *float64 `json:"average_score"`

	// Subjects lists the first three distinct subjects, with "..." when there are more.
	Subjects string `json:"subjects"`

	// OverallBehavior is the most frequent label; ties go to the
	// lexically smallest label.
	OverallBehavior string `json:"overall_behavior"`
}

// StudentSummaries returns one summary per student in first-appearance order.
func StudentSummaries(r roster.Roster) []StudentSummary {
	if r.IsEmpty() || !r.Has(roster.ColumnName, roster.ColumnScore) {
		return []StudentSummary{}
	}

	groups := groupBy(r.Records, func(rec roster.StudentRecord) string { return rec.Name })
	out := make([]StudentSummary, 0, len(groups))
	for _, g := range groups {
		s := StudentSummary{
			Name:            g.key,
			Subjects:        joinFirst(g.subjects, 3),
			OverallBehavior: mode(g.behaviors),
		}
		if len(g.scores) > 0 {
			s.AverageScore = ptr(round1(mean(g.scores)))
		}
		out = append(out, s)
	}
	return out
}

// StudentAverage returns the average numeric score of the given rows.
func StudentAverage(records []roster.StudentRecord) *float64 {
	var scores []float64
	for _, rec := range records {
		if v, ok := rec.Score.Value(); ok {
			scores = append(scores, v)
		}
	}
	if len(scores) == 0 {
		return nil
	}
	return ptr(round1(mean(scores)))
}

func joinFirst(items []string, n int) string {
	if len(items) <= n {
		return strings.Join(items, ", ")
	}
	return strings.Join(items[:n], ", ") + "..."
}

func mode(labels []string) string {
	if len(labels) == 0 {
		return NoBehavior
	}
	counts := make(map[string]int, len(labels))
	for _, l := range labels {
		counts[l]++
	}
	best, bestCount := "", 0
	for l, c := range counts {
		if c > bestCount || (c == bestCount && l < best) {
			best, bestCount = l, c
		}
	}
	return best
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type group struct {
	key        string
	rows       int
	scores     []float64
	names      map[string]struct{}
	firstGrade string
	subjects   []string
	behaviors  []string
}

// groupBy groups records by a non-empty key, preserving first appearance.
func groupBy(records []roster.StudentRecord, key func(roster.StudentRecord) string) []*group {
	index := make(map[string]*group)
	var order []*group

	for _, rec := range records {
		k := key(rec)
		if k == "" {
			continue
		}
		g, ok := index[k]
		if !ok {
			g = &group{key: k, names: make(map[string]struct{}), firstGrade: rec.Grade}
			index[k] = g
			order = append(order, g)
		}
		g.rows++
		if v, ok := rec.Score.Value(); ok {
			g.scores = append(g.scores, v)
		}
		if rec.Name != "" {
			g.names[rec.Name] = struct{}{}
		}
		if g.firstGrade == "" {
			g.firstGrade = rec.Grade
		}
		if rec.Subject != "" && !contains(g.subjects, rec.Subject) {
			g.subjects = append(g.subjects, rec.Subject)
		}
		if b := strings.TrimSpace(rec.Behavior); b != "" {
			g.behaviors = append(g.behaviors, b)
		}
	}
	return order
}

func contains(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}

// descending orders present values high to low and absent values last.
func descending(a, b *float64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	}
	return *a > *b
}

func truncate[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func minOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return m
}

func maxOf(xs []float64) float64 {
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}

func ptr(v float64) *float64 {
	return &v
}
