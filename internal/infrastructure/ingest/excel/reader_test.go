package excel

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeTestWorkbook(t *testing.T) string {
	t.Helper()
	file := excelize.NewFile()
	sheet := file.GetSheetName(0)

	rows := [][]string{
		{"연령", "진단명", "수술연월일", "비고"},
		{"55", "유방암", "2020-03-15", ""},
		{"", "", "", ""},
		{"61", "유방암", "2021-07-02", "재발"},
	}
	for i, row := range rows {
		for j, cell := range row {
			name, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				t.Fatalf("cell name: %v", err)
			}
			if err := file.SetCellValue(sheet, name, cell); err != nil {
				t.Fatalf("set cell: %v", err)
			}
		}
	}

	path := filepath.Join(t.TempDir(), "crf.xlsx")
	if err := file.SaveAs(path); err != nil {
		t.Fatalf("save workbook: %v", err)
	}
	return path
}

func TestReadWorkbookRendersLabelValueRows(t *testing.T) {
	path := writeTestWorkbook(t)

	docs, err := ReadWorkbook(path, "01")
	if err != nil {
		t.Fatalf("ReadWorkbook: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("documents = %d, want 2 (blank row skipped)", len(docs))
	}

	first := docs[0]
	for _, want := range []string{"연령: 55", "진단명: 유방암", "수술연월일: 2020-03-15"} {
		if !strings.Contains(first.Text, want) {
			t.Errorf("document missing %q:\n%s", want, first.Text)
		}
	}
	if strings.Contains(first.Text, "비고") {
		t.Errorf("empty cell rendered: %s", first.Text)
	}

	if first.Metadata.Get("record_id") != "BC_01_0001" {
		t.Errorf("record_id = %q", first.Metadata.Get("record_id"))
	}
	if first.Metadata.Get("hospital") != "01" {
		t.Errorf("hospital = %q", first.Metadata.Get("hospital"))
	}
	if first.Metadata.Get("row_index") != "2" {
		t.Errorf("row_index = %q", first.Metadata.Get("row_index"))
	}
	if first.Metadata.Get("수술연월일") != "2020-03-15" {
		t.Errorf("surgery date = %q", first.Metadata.Get("수술연월일"))
	}

	second := docs[1]
	if second.Metadata.Get("record_id") != "BC_01_0002" {
		t.Errorf("second record_id = %q", second.Metadata.Get("record_id"))
	}
	if !strings.Contains(second.Text, "비고: 재발") {
		t.Errorf("second document = %s", second.Text)
	}
	if second.Metadata.Get("row_index") != "4" {
		t.Errorf("second row_index = %q", second.Metadata.Get("row_index"))
	}
}

func TestReadWorkbookMissingFile(t *testing.T) {
	if _, err := ReadWorkbook(filepath.Join(t.TempDir(), "none.xlsx"), "01"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
