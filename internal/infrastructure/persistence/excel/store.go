// Package excel reads the roster from a local .xlsx workbook and appends
// generated reports to it. Each table is a worksheet whose first row is
// the header.
package excel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/classnotes/teaching-assistant/internal/application/rosters"
	"github.com/classnotes/teaching-assistant/internal/domain/roster"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
)

// Config contains configuration for the workbook store.
type Config struct {
	// Path of the workbook.
	Path string

	// Headers written to a table the first time a row is appended to it.
	Headers map[string][]string
}

// DefaultConfig returns the headers of the Reports table.
func DefaultConfig(path string) Config {
	return Config{
		Path: path,
		Headers: map[string][]string{
			"Reports": {"Student", "Report", "Date"},
		},
	}
}

// Store implements rosters.Store on a workbook file. Access to the file is
// serialized within the process.
type Store struct {
	mu     sync.Mutex
	config Config
}

// NewStore creates a store. The workbook is opened on every call, so
// edits made in a spreadsheet program show up on the next read.
func NewStore(config Config) *Store {
	return &Store{config: config}
}

// ReadAll reads every row of the worksheet named table.
func (s *Store) ReadAll(_ context.Context, table string) ([]roster.StudentRecord, roster.Columns, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.config.Path)
	if err != nil {
		return nil, nil, unavailable("ReadAll", "cannot open workbook", err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(table); err != nil || idx < 0 {
		return nil, nil, unavailable("ReadAll", fmt.Sprintf("worksheet %q not found", table), err)
	}

	rows, err := f.GetRows(table)
	if err != nil {
		return nil, nil, unavailable("ReadAll", fmt.Sprintf("cannot read worksheet %q", table), err)
	}
	if len(rows) == 0 {
		return nil, roster.Columns{}, nil
	}

	records, cols := roster.FromRows(rows[0], rows[1:])
	return records, cols, nil
}

// AppendRow appends values below the last row of table, creating the
// workbook and the worksheet when they do not exist.
func (s *Store) AppendRow(_ context.Context, table string, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, created, err := s.open()
	if err != nil {
		return unavailable("AppendRow", "cannot open workbook", err)
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(table)
	if err != nil {
		return unavailable("AppendRow", "cannot inspect workbook", err)
	}
	if idx < 0 {
		if created && f.GetSheetName(0) == "Sheet1" {
			if err := f.SetSheetName("Sheet1", table); err != nil {
				return unavailable("AppendRow", "cannot name worksheet", err)
			}
		} else if _, err := f.NewSheet(table); err != nil {
			return unavailable("AppendRow", "cannot add worksheet", err)
		}
	}

	rows, err := f.GetRows(table)
	if err != nil {
		return unavailable("AppendRow", "cannot read worksheet", err)
	}
	next := len(rows) + 1

	if len(rows) == 0 {
		if header, ok := s.config.Headers[table]; ok {
			if err := setRow(f, table, next, header); err != nil {
				return unavailable("AppendRow", "cannot write header", err)
			}
			next++
		}
	}

	if err := setRow(f, table, next, values); err != nil {
		return unavailable("AppendRow", "cannot write row", err)
	}
	if err := f.SaveAs(s.config.Path); err != nil {
		return unavailable("AppendRow", "cannot save workbook", err)
	}
	return nil
}

func (s *Store) open() (*excelize.File, bool, error) {
	f, err := excelize.OpenFile(s.config.Path)
	if err == nil {
		return f, false, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return excelize.NewFile(), true, nil
	}
	if _, statErr := os.Stat(s.config.Path); errors.Is(statErr, fs.ErrNotExist) {
		return excelize.NewFile(), true, nil
	}
	return nil, false, err
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return f.SetSheetRow(sheet, cell, &vals)
}

func unavailable(op, msg string, err error) error {
	if err == nil {
		return shared.NewDomainError("excel", op, shared.ErrStoreUnavailable, msg)
	}
	return shared.WrapError("excel", op, shared.ErrStoreUnavailable, msg, err)
}

var _ rosters.Store = (*Store)(nil)
