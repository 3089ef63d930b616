// Package importer reads test cases from Excel workbooks.
package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/husmancristian/qafastweb/pkg/models"

	"github.com/xuri/excelize/v2"
)

// Column headers, matched case-insensitively after trimming.
const (
	ColModule      = "module_name"
	ColCase        = "case_name"
	ColDescription = "description"
	ColInputData   = "input_data"
	ColExpected    = "expected_result"
	ColActive      = "active"
)

// MaxNameLength is the longest case name storage accepts, in characters.
const MaxNameLength = 255

var requiredColumns = []string{ColModule, ColCase, ColInputData, ColExpected}

var (
	// ErrInvalidWorkbook wraps every error caused by the uploaded file itself.
	ErrInvalidWorkbook = errors.New("invalid workbook")
	ErrUnsupportedFile = fmt.Errorf("%w: file must be an Excel workbook (.xlsx or .xls)", ErrInvalidWorkbook)
	ErrNoActiveCases   = fmt.Errorf("%w: no active test cases found", ErrInvalidWorkbook)
)

var activeValues = map[string]bool{
	"VERDADERO": true, "TRUE": true, "1": true, "YES": true,
	"SI": true, "SÍ": true, "ACTIVO": true,
}

// MissingColumnsError lists required headers absent from the first sheet.
type MissingColumnsError struct {
	Missing []string
	Found   []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s. Columns found: %s",
		strings.Join(e.Missing, ", "), strings.Join(e.Found, ", "))
}

func (e *MissingColumnsError) Unwrap() error { return ErrInvalidWorkbook }

// Details returns one entry per missing column.
func (e *MissingColumnsError) Details() []string {
	details := make([]string, 0, len(e.Missing))
	for _, col := range e.Missing {
		details = append(details, "missing column: "+col)
	}
	return details
}

// InvalidRowsError lists rows that cannot be stored as they are. The
// whole workbook is rejected so a batch is never partially imported.
type InvalidRowsError struct {
	Problems []string
}

func (e *InvalidRowsError) Error() string {
	return fmt.Sprintf("%d invalid rows: %s", len(e.Problems), strings.Join(e.Problems, "; "))
}

func (e *InvalidRowsError) Unwrap() error { return ErrInvalidWorkbook }

func (e *InvalidRowsError) Details() []string { return e.Problems }

// CheckFilename rejects uploads that are not named like a workbook.
func CheckFilename(name string) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xls":
		return nil
	}
	return ErrUnsupportedFile
}

// ReadCases parses the first sheet of the workbook in r. Blank rows and
// rows marked inactive are skipped. The returned cases are not persisted.
func ReadCases(r io.Reader) ([]models.TestCase, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidWorkbook)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sheet %q: %v", ErrInvalidWorkbook, sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", ErrInvalidWorkbook, sheets[0])
	}

	index := make(map[string]int, len(rows[0]))
	found := make([]string, 0, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		index[h] = i
		found = append(found, h)
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing, Found: found}
	}

	cell := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var cases []models.TestCase
	var problems []string
	for i, row := range rows[1:] {
		name := cell(row, ColCase)
		input := cell(row, ColInputData)
		if name == "" || input == "" {
			continue
		}
		if active := cell(row, ColActive); active != "" && !activeValues[strings.ToUpper(active)] {
			continue
		}

		if module := cell(row, ColModule); module != "" {
			name = module + " - " + name
		}
		if n := utf8.RuneCountInString(name); n > MaxNameLength {
			// Sheet rows are 1-based and the header takes the first.
			problems = append(problems, fmt.Sprintf("row %d: name has %d characters, maximum is %d", i+2, n, MaxNameLength))
			continue
		}
		cases = append(cases, models.TestCase{
			Name:           name,
			Description:    cell(row, ColDescription),
			Steps:          input,
			ExpectedResult: cell(row, ColExpected),
			URL:            urlFromInput(input),
		})
	}

	if len(problems) > 0 {
		return nil, &InvalidRowsError{Problems: problems}
	}
	if len(cases) == 0 {
		return nil, ErrNoActiveCases
	}
	return cases, nil
}

// urlFromInput returns the "url" field of JSON input data. Single-quoted
// pseudo-JSON is accepted.
func urlFromInput(input string) string {
	if !strings.Contains(input, `"url"`) && !strings.Contains(input, `'url'`) {
		return ""
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(strings.ReplaceAll(input, "'", `"`)), &data); err != nil {
		return ""
	}
	u, _ := data["url"].(string)
	return u
}
