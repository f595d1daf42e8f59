// Package roster holds the student roster model: one record per
// (student, subject) row, read from a spreadsheet-like store.
package roster

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// Score is a score cell. A cell that does not parse as a number is absent:
// it is excluded from numeric aggregates, never treated as zero.
type Score struct {
	value float64
	ok    bool
	Raw   string
}

// ParseScore parses a raw cell. Surrounding whitespace is ignored; NaN and
// infinities are treated as absent.
func ParseScore(raw string) Score {
	s := Score{Raw: raw}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return s
	}
	s.value, s.ok = v, true
	return s
}

// NumericScore returns a present score.
func NumericScore(v float64) Score {
	return Score{value: v, ok: true, Raw: strconv.FormatFloat(v, 'f', -1, 64)}
}

// Value returns the numeric value and whether it is present.
func (s Score) Value() (float64, bool) {
	return s.value, s.ok
}

// IsNumeric reports whether the score parsed.
func (s Score) IsNumeric() bool {
	return s.ok
}

// String returns the raw cell text.
func (s Score) String() string {
	return s.Raw
}

// ══════════════════════════════════════════════════════════════════════════════
// COLUMNS
// ══════════════════════════════════════════════════════════════════════════════

// Column is a roster header.
type Column string

const (
	ColumnName       Column = "Name"
	ColumnSubject    Column = "Subject"
	ColumnScore      Column = "Score"
	ColumnGrade      Column = "Grade"
	ColumnTeacher    Column = "Teacher"
	ColumnBehavior   Column = "Behavior"
	ColumnNotes      Column = "Notes"
	ColumnAttendance Column = "Attendance"
)

// AllColumns lists the known headers in their canonical order.
var AllColumns = []Column{
	ColumnName, ColumnSubject, ColumnScore, ColumnGrade,
	ColumnTeacher, ColumnBehavior, ColumnNotes, ColumnAttendance,
}

// Columns is the set of headers the source actually had. It distinguishes a
// missing column from a column that is present but blank.
type Columns map[Column]bool

// NewColumns builds a set from the given headers.
func NewColumns(cols ...Column) Columns {
	c := make(Columns, len(cols))
	for _, col := range cols {
		c[col] = true
	}
	return c
}

// Has reports whether every given column is present.
func (c Columns) Has(cols ...Column) bool {
	for _, col := range cols {
		if !c[col] {
			return false
		}
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// StudentRecord is one roster row. Empty strings mean unknown.
type StudentRecord struct {
	Name       string `json:"name"`
	Subject    string `json:"subject"`
	Score      Score  `json:"-"`
	Grade      string `json:"grade"`
	Teacher    string `json:"teacher"`
	Behavior   string `json:"behavior"`
	Notes      string `json:"notes"`
	Attendance string `json:"attendance,omitempty"`
}

// Roster is an ordered list of records plus the columns the source had.
type Roster struct {
	Records []StudentRecord
	Columns Columns
}

// New creates a Roster. When cols is nil the columns are inferred: a column
// is present if at least one record has a value in it.
func New(records []StudentRecord, cols Columns) Roster {
	if cols == nil {
		cols = inferColumns(records)
	}
	return Roster{Records: records, Columns: cols}
}

func inferColumns(records []StudentRecord) Columns {
	cols := Columns{}
	for _, rec := range records {
		cols[ColumnName] = cols[ColumnName] || rec.Name != ""
		cols[ColumnSubject] = cols[ColumnSubject] || rec.Subject != ""
		cols[ColumnScore] = cols[ColumnScore] || rec.Score.Raw != ""
		cols[ColumnGrade] = cols[ColumnGrade] || rec.Grade != ""
		cols[ColumnTeacher] = cols[ColumnTeacher] || rec.Teacher != ""
		cols[ColumnBehavior] = cols[ColumnBehavior] || rec.Behavior != ""
		cols[ColumnNotes] = cols[ColumnNotes] || rec.Notes != ""
		cols[ColumnAttendance] = cols[ColumnAttendance] || rec.Attendance != ""
	}
	for c, ok := range cols {
		if !ok {
			delete(cols, c)
		}
	}
	return cols
}

// Empty returns a roster with no rows and no columns.
func Empty() Roster {
	return Roster{Columns: Columns{}}
}

// Len returns the number of rows.
func (r Roster) Len() int {
	return len(r.Records)
}

// IsEmpty reports whether the roster has no rows.
func (r Roster) IsEmpty() bool {
	return len(r.Records) == 0
}

// Has reports whether the roster's source had all given columns.
func (r Roster) Has(cols ...Column) bool {
	return r.Columns.Has(cols...)
}

// FromRows maps a header row and data rows to records. Header matching is
// case-insensitive and ignores surrounding whitespace; unknown headers are
// ignored. Rows shorter than the header are padded with blanks and fully
// blank rows are skipped.
func FromRows(header []string, rows [][]string) ([]StudentRecord, Columns) {
	index := make(map[Column]int)
	cols := Columns{}
	for i, h := range header {
		h = strings.TrimSpace(h)
		for _, known := range AllColumns {
			if strings.EqualFold(h, string(known)) {
				if _, dup := index[known]; !dup {
					index[known] = i
					cols[known] = true
				}
			}
		}
	}

	records := make([]StudentRecord, 0, len(rows))
	for _, row := range rows {
		if isBlankRow(row) {
			continue
		}
		cell := func(c Column) string {
			i, ok := index[c]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		records = append(records, StudentRecord{
			Name:       cell(ColumnName),
			Subject:    cell(ColumnSubject),
			Score:      ParseScore(cell(ColumnScore)),
			Grade:      cell(ColumnGrade),
			Teacher:    cell(ColumnTeacher),
			Behavior:   cell(ColumnBehavior),
			Notes:      cell(ColumnNotes),
			Attendance: cell(ColumnAttendance),
		})
	}
	return records, cols
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// FILTERS AND LOOKUPS
// ══════════════════════════════════════════════════════════════════════════════

// Filter returns the rows for which keep is true. Columns are preserved.
func (r Roster) Filter(keep func(StudentRecord) bool) Roster {
	out := make([]StudentRecord, 0, len(r.Records))
	for _, rec := range r.Records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return Roster{Records: out, Columns: r.Columns}
}

// FilterByTeacher keeps rows taught by teacher. An empty teacher keeps everything.
func (r Roster) FilterByTeacher(teacher string) Roster {
	if teacher == "" {
		return r
	}
	return r.Filter(func(rec StudentRecord) bool { return rec.Teacher == teacher })
}

// FilterByGrade keeps rows of the given grade. An empty grade keeps everything.
func (r Roster) FilterByGrade(grade string) Roster {
	if grade == "" {
		return r
	}
	return r.Filter(func(rec StudentRecord) bool { return rec.Grade == grade })
}

// Teachers returns the distinct non-empty teachers, sorted.
func (r Roster) Teachers() []string {
	return r.distinctSorted(func(rec StudentRecord) string { return rec.Teacher }, lessText)
}

// Grades returns the distinct non-empty grades, ordered with CompareGrades.
func (r Roster) Grades() []string {
	return r.distinctSorted(func(rec StudentRecord) string { return rec.Grade }, func(a, b string) bool {
		return CompareGrades(a, b) < 0
	})
}

// StudentNames returns the distinct non-empty names, sorted.
func (r Roster) StudentNames() []string {
	return r.distinctSorted(func(rec StudentRecord) string { return rec.Name }, lessText)
}

// RecordsFor returns the rows of one student, matching the name case-insensitively.
func (r Roster) RecordsFor(name string) []StudentRecord {
	name = strings.TrimSpace(name)
	var out []StudentRecord
	for _, rec := range r.Records {
		if name != "" && strings.EqualFold(rec.Name, name) {
			out = append(out, rec)
		}
	}
	return out
}

// ReportNotes builds the pre-filled notes of a progress report for one
// student: one "- <subject>: <text>" line per row that has text.
func (r Roster) ReportNotes(name string) (performance, behavior string) {
	var perf, beh []string
	for _, rec := range r.RecordsFor(name) {
		subject := rec.Subject
		if subject == "" {
			subject = "General"
		}
		if rec.Notes != "" {
			perf = append(perf, "- "+subject+": "+rec.Notes)
		}
		if rec.Behavior != "" {
			beh = append(beh, "- "+subject+": "+rec.Behavior)
		}
	}
	return strings.Join(perf, "\n"), strings.Join(beh, "\n")
}

func (r Roster) distinctSorted(key func(StudentRecord) string, less func(a, b string) bool) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, rec := range r.Records {
		k := key(rec)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func lessText(a, b string) bool { return a < b }

// CompareGrades orders grade labels: numerically when both parse as numbers,
// lexically otherwise. Numeric grades sort before non-numeric ones.
func CompareGrades(a, b string) int {
	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return strings.Compare(a, b)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}
