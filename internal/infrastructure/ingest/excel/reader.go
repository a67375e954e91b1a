package excel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/jks-lab/ragchat/internal/core/domain"
)

// ReadWorkbook renders every data row of a CRF workbook as one "label:
// value" document per row, the shape the retrieval layer and the field
// extractor expect. The first row of each sheet holds the labels.
func ReadWorkbook(path, hospitalCode string) ([]domain.Document, error) {
	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer file.Close()

	var out []domain.Document
	serial := 0
	for _, sheet := range file.GetSheetList() {
		rows, err := file.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) < 2 {
			continue
		}

		headers := rows[0]
		for rowIdx, row := range rows[1:] {
			doc, meta := renderRow(headers, row)
			if doc == "" {
				continue
			}
			serial++
			recordID := fmt.Sprintf("BC_%s_%04d", hospitalCode, serial)
			meta["record_id"] = recordID
			meta["hospital"] = hospitalCode
			meta["sheet"] = sheet
			meta["row_index"] = strconv.Itoa(rowIdx + 2)

			out = append(out, domain.Document{
				ID:       fmt.Sprintf("%s_%s_%d", recordID, sheet, rowIdx+2),
				Text:     doc,
				Metadata: meta,
			})
		}
	}
	return out, nil
}

// renderRow joins non-empty cells into "label: value" lines. Dates and
// identifiers that the metadata layer filters on are mirrored into the
// metadata map.
func renderRow(headers, row []string) (string, domain.Metadata) {
	var b strings.Builder
	meta := domain.Metadata{}
	empty := true
	for i, header := range headers {
		header = strings.TrimSpace(header)
		if header == "" || i >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[i])
		if value == "" {
			continue
		}
		empty = false
		fmt.Fprintf(&b, "%s: %s\n", header, value)
		if header == "수술연월일" || strings.EqualFold(header, "surgery_date") {
			meta["수술연월일"] = value
		}
	}
	if empty {
		return "", nil
	}
	return strings.TrimRight(b.String(), "\n"), meta
}
