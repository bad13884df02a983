package importer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"fieldqa/api/internal/qa"
)

func buildWorkbook(t *testing.T, rows [][]string) *bytes.Reader {
	t.Helper()
	workbook := excelize.NewFile()
	sheet := workbook.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := workbook.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := workbook.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestParseWorkbook(t *testing.T) {
	reader := buildWorkbook(t, [][]string{
		{"title", "description", "category", "discipline", "severity", "due_date"},
		{"Exposed wiring", "Junction box open", "safety", "electrical", "high", "2026-06-01"},
		{"Pipe misaligned", "", "install", "plumbing", "low", ""},
	})

	rows, rowErrors, err := ParseWorkbook(reader)
	if err != nil {
		t.Fatalf("ParseWorkbook: %v", err)
	}
	if len(rowErrors) != 0 {
		t.Fatalf("expected no row errors, got %v", rowErrors)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.Line != 2 || first.Title != "Exposed wiring" || first.Discipline != qa.DisciplineElectrical || first.Severity != qa.SeverityHigh {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if first.DueDate == nil || first.DueDate.Format("2006-01-02") != "2026-06-01" {
		t.Fatalf("due date not parsed: %v", first.DueDate)
	}
	if rows[1].DueDate != nil {
		t.Fatalf("blank due date must stay nil")
	}
}

func TestParseWorkbookCollectsRowErrors(t *testing.T) {
	reader := buildWorkbook(t, [][]string{
		{"title", "discipline", "severity"},
		{"Good row", "civil", "medium"},
		{"Bad severity", "civil", "urgent"},
		{"Bad discipline", "structural", "low"},
		{"", "civil", "low"},
	})

	rows, rowErrors, err := ParseWorkbook(reader)
	if err != nil {
		t.Fatalf("ParseWorkbook: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 good row, got %d", len(rows))
	}
	if len(rowErrors) != 3 {
		t.Fatalf("expected 3 row errors, got %v", rowErrors)
	}
	if rowErrors[0].Line != 3 || !strings.Contains(rowErrors[0].Reason, "urgent") {
		t.Fatalf("unexpected first row error: %+v", rowErrors[0])
	}
}

func TestParseWorkbookSkipsBlankRows(t *testing.T) {
	reader := buildWorkbook(t, [][]string{
		{"title", "discipline", "severity"},
		{"Row one", "civil", "medium"},
		{"", "", ""},
		{"Row two", "mechanical", "critical"},
	})

	rows, rowErrors, err := ParseWorkbook(reader)
	if err != nil {
		t.Fatalf("ParseWorkbook: %v", err)
	}
	if len(rowErrors) != 0 {
		t.Fatalf("blank rows are skipped, not errors: %v", rowErrors)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestParseWorkbookRequiresHeaders(t *testing.T) {
	reader := buildWorkbook(t, [][]string{
		{"name", "importance"},
		{"Missing columns", "high"},
	})
	if _, _, err := ParseWorkbook(reader); err == nil {
		t.Fatalf("expected a missing-column error")
	}
}

func TestParseWorkbookRejectsGarbage(t *testing.T) {
	if _, _, err := ParseWorkbook(strings.NewReader("not an xlsx file")); err == nil {
		t.Fatalf("expected an open error")
	}
}
