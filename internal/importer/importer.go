// Package importer parses QA item workbooks (.xlsx) for bulk import.
// Parsing is strict: any bad row fails the whole workbook, so an
// import is always all-or-nothing.
package importer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"fieldqa/api/internal/qa"
)

// Row is one parsed workbook line. Line is the 1-based spreadsheet row
// for error reporting.
type Row struct {
	Line        int
	Title       string
	Description string
	Category    string
	Discipline  qa.Discipline
	Severity    qa.Severity
	DueDate     *time.Time
}

// RowError describes why a single row was rejected.
type RowError struct {
	Line   int
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

var requiredHeaders = []string{"title", "discipline", "severity"}

// ParseWorkbook reads the first sheet. The header row names the
// columns; title, discipline, and severity are required, the rest
// optional. Returns every row error at once so the caller can report
// the full list.
func ParseWorkbook(r io.Reader) ([]Row, []RowError, error) {
	workbook, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := workbook.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("workbook has no data rows")
	}

	columns := make(map[string]int)
	for i, header := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(header))] = i
	}
	for _, required := range requiredHeaders {
		if _, ok := columns[required]; !ok {
			return nil, nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var parsed []Row
	var rowErrors []RowError
	for i, cells := range rows[1:] {
		line := i + 2
		cell := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(cells) {
				return ""
			}
			return strings.TrimSpace(cells[idx])
		}

		if isBlankRow(cells) {
			continue
		}

		row := Row{
			Line:        line,
			Title:       cell("title"),
			Description: cell("description"),
			Category:    cell("category"),
		}
		if row.Title == "" {
			rowErrors = append(rowErrors, RowError{Line: line, Reason: "title is required"})
			continue
		}

		discipline, err := qa.ParseDiscipline(strings.ToLower(cell("discipline")))
		if err != nil {
			rowErrors = append(rowErrors, RowError{Line: line, Reason: err.Error()})
			continue
		}
		row.Discipline = discipline

		severity, err := qa.ParseSeverity(strings.ToLower(cell("severity")))
		if err != nil {
			rowErrors = append(rowErrors, RowError{Line: line, Reason: err.Error()})
			continue
		}
		row.Severity = severity

		if raw := cell("due_date"); raw != "" {
			due, err := parseDate(raw)
			if err != nil {
				rowErrors = append(rowErrors, RowError{Line: line, Reason: fmt.Sprintf("bad due_date %q", raw)})
				continue
			}
			row.DueDate = &due
		}

		parsed = append(parsed, row)
	}

	if len(parsed) == 0 && len(rowErrors) == 0 {
		return nil, nil, fmt.Errorf("workbook has no data rows")
	}
	return parsed, rowErrors, nil
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// parseDate accepts ISO dates plus the formats spreadsheets commonly
// emit for date cells.
func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "01-02-06", "1/2/2006", "01/02/2006", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}
