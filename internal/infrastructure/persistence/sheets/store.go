// Package sheets reads the roster from a Google spreadsheet and appends
// generated reports to it. Each table is a worksheet whose first row is
// the header.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/classnotes/teaching-assistant/internal/application/rosters"
	"github.com/classnotes/teaching-assistant/internal/domain/roster"
	"github.com/classnotes/teaching-assistant/internal/domain/shared"
)

// Config contains configuration for the spreadsheet store.
type Config struct {
	// CredentialsFile is the service-account JSON key.
	CredentialsFile string

	// SpreadsheetID identifies the roster spreadsheet.
	SpreadsheetID string

	// ValueInputOption controls how appended values are parsed.
	ValueInputOption string
}

// Store implements rosters.Store on the Sheets API.
type Store struct {
	service *gsheets.Service
	config  Config
}

// NewStore authenticates with the service account and returns a store.
// Extra client options are appended after the credentials; tests use them
// to point the client at a fake endpoint.
func NewStore(ctx context.Context, config Config, opts ...option.ClientOption) (*Store, error) {
	if config.SpreadsheetID == "" {
		return nil, shared.NewDomainError("sheets", "NewStore", shared.ErrConfiguration, "GOOGLE_SHEET_ID is not set")
	}
	if config.ValueInputOption == "" {
		config.ValueInputOption = "USER_ENTERED"
	}

	var all []option.ClientOption
	if config.CredentialsFile != "" {
		all = append(all, option.WithCredentialsFile(config.CredentialsFile))
	}
	all = append(all, option.WithScopes(gsheets.SpreadsheetsScope))
	all = append(all, opts...)

	service, err := gsheets.NewService(ctx, all...)
	if err != nil {
		return nil, shared.WrapError("sheets", "NewStore", shared.ErrConfiguration,
			"cannot authenticate with Google Sheets", err)
	}
	return &Store{service: service, config: config}, nil
}

// ReadAll reads every row of the worksheet named table.
func (s *Store) ReadAll(ctx context.Context, table string) ([]roster.StudentRecord, roster.Columns, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.config.SpreadsheetID, quoteSheet(table)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, nil, storeError("ReadAll", table, err)
	}
	if len(resp.Values) == 0 {
		return nil, roster.Columns{}, nil
	}

	rows := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		rows[i] = make([]string, len(row))
		for j, cell := range row {
			rows[i][j] = cellString(cell)
		}
	}

	records, cols := roster.FromRows(rows[0], rows[1:])
	return records, cols, nil
}

// AppendRow appends values after the last row of table.
func (s *Store) AppendRow(ctx context.Context, table string, values []string) error {
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}

	_, err := s.service.Spreadsheets.Values.Append(s.config.SpreadsheetID, quoteSheet(table), &gsheets.ValueRange{
		Values: [][]any{row},
	}).
		ValueInputOption(s.config.ValueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return storeError("AppendRow", table, err)
	}
	return nil
}

// quoteSheet turns a worksheet name into an A1 range covering the sheet.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func cellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	default:
		return fmt.Sprint(c)
	}
}

func storeError(op, table string, err error) error {
	msg := fmt.Sprintf("cannot access worksheet %q", table)

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case 401, 403:
			msg = "Google Sheets rejected the service account; check GOOGLE_SHEETS_CREDENTIALS and sharing"
		case 404:
			msg = "spreadsheet not found; check GOOGLE_SHEET_ID"
		case 400:
			msg = fmt.Sprintf("worksheet %q not found", table)
		}
	}
	return shared.WrapError("sheets", op, shared.ErrStoreUnavailable, msg, err)
}

var _ rosters.Store = (*Store)(nil)
