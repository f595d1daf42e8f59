package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classnotes/teaching-assistant/internal/domain/document"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
)

// fakeDB records Exec calls and serves Query from canned rows.
type fakeDB struct {
	execSQL  string
	execArgs []any
	execErr  error

	queryArgs []any
	rows      [][]any
	queryErr  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL, f.execArgs = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeDB) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	f.queryArgs = args
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeRows{rows: f.rows, pos: -1}, nil
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.pos], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *uuid.UUID:
			*p = row[i].(uuid.UUID)
		case *string:
			*p = row[i].(string)
		case *[]byte:
			*p = row[i].([]byte)
		case *int:
			*p = row[i].(int)
		case *time.Time:
			*p = row[i].(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

var created = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

func TestDocumentRepository_Record(t *testing.T) {
	db := &fakeDB{}
	repo := NewDocumentRepository(db)
	id := uuid.New()

	err := repo.Record(context.Background(), document.Record{
		ID:         id,
		Type:       document.TypeReport,
		Slug:       "report_ann_term-1",
		OutputPath: "data/output/reports/report_ann_term-1_20250901_080000.txt",
		Metadata:   map[string]string{"student_name": "Ann"},
		CharCount:  42,
		CreatedAt:  created,
	})

	require.NoError(t, err)
	assert.Contains(t, db.execSQL, "INSERT INTO documents")
	require.Len(t, db.execArgs, 7)
	assert.Equal(t, id, db.execArgs[0])
	assert.Equal(t, "report", db.execArgs[1])
	assert.JSONEq(t, `{"student_name":"Ann"}`, string(db.execArgs[4].([]byte)))
	assert.Equal(t, 42, db.execArgs[5])
}

func TestDocumentRepository_RecordNilMetadata(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewDocumentRepository(db).Record(context.Background(), document.Record{ID: uuid.New(), Type: document.TypeLesson}))
	assert.Equal(t, "{}", string(db.execArgs[4].([]byte)))
}

func TestDocumentRepository_RecordFailure(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection refused")}

	err := NewDocumentRepository(db).Record(context.Background(), document.Record{ID: uuid.New(), Type: document.TypeLesson})

	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
}

func TestDocumentRepository_Recent(t *testing.T) {
	id1, id2 := uuid.New(), uuid.New()
	meta, _ := json.Marshal(map[string]string{"subject": "Math"})
	db := &fakeDB{rows: [][]any{
		{id1, "lesson", "lesson_math_fractions", "a.txt", meta, 11, created.Add(time.Minute)},
		{id2, "report", "report_ann", "b.txt", []byte(nil), 5, created},
	}}

	recs, err := NewDocumentRepository(db).Recent(context.Background(), "", 0)

	require.NoError(t, err)
	assert.Equal(t, []any{"", MaxRecent}, db.queryArgs)
	require.Len(t, recs, 2)
	assert.Equal(t, id1, recs[0].ID)
	assert.Equal(t, document.TypeLesson, recs[0].Type)
	assert.Equal(t, "Math", recs[0].Metadata["subject"])
	assert.Equal(t, 11, recs[0].CharCount)
	assert.Equal(t, document.TypeReport, recs[1].Type)
	assert.Nil(t, recs[1].Metadata)
}

func TestDocumentRepository_RecentFiltersByType(t *testing.T) {
	db := &fakeDB{}

	recs, err := NewDocumentRepository(db).Recent(context.Background(), document.TypeReport, 10)

	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, []any{"report", 10}, db.queryArgs)
}

func TestDocumentRepository_RecentQueryFailure(t *testing.T) {
	db := &fakeDB{queryErr: errors.New("timeout")}

	_, err := NewDocumentRepository(db).Recent(context.Background(), "", 5)

	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
}

func TestGetMigrations_Ordered(t *testing.T) {
	migs := GetMigrations()
	require.NotEmpty(t, migs)
	for i, m := range migs {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.UpSQL)
	}
	assert.Contains(t, migs[0].UpSQL, "CREATE TABLE IF NOT EXISTS documents")
}
