package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// XLSXExporter renders documents as workbooks with one sheet per section.
type XLSXExporter struct{}

// NewXLSXExporter constructs an Excel exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Render writes each section to its own sheet: a merged title row, a styled
// header row, then the data rows.
func (e *XLSXExporter) Render(doc Document) ([]byte, error) {
	if len(doc.Sections) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one section")
	}
	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9D9D9"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("xlsx header style: %w", err)
	}

	used := map[string]int{}
	for i, section := range doc.Sections {
		headers := section.Data.Headers
		if len(headers) == 0 {
			return nil, fmt.Errorf("xlsx section %q has no headers", section.Title)
		}
		sheet := sheetName(section.Title, i, used)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return nil, fmt.Errorf("xlsx sheet %q: %w", sheet, err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return nil, fmt.Errorf("xlsx sheet %q: %w", sheet, err)
		}

		last, _ := excelize.ColumnNumberToName(len(headers))
		title := strings.TrimSpace(doc.Title + " " + section.Title)
		if err := f.SetCellValue(sheet, "A1", title); err != nil {
			return nil, err
		}
		if len(headers) > 1 {
			if err := f.MergeCell(sheet, "A1", last+"1"); err != nil {
				return nil, err
			}
		}
		_ = f.SetColWidth(sheet, "A", "A", 8)
		if len(headers) > 1 {
			second, _ := excelize.ColumnNumberToName(2)
			_ = f.SetColWidth(sheet, second, last, 24)
		}

		for col, header := range headers {
			cell, _ := excelize.CoordinatesToCellName(col+1, 2)
			if err := f.SetCellValue(sheet, cell, header); err != nil {
				return nil, err
			}
		}
		if err := f.SetCellStyle(sheet, "A1", last+"2", headerStyle); err != nil {
			return nil, err
		}

		for r, row := range section.Data.Rows {
			for col, header := range headers {
				cell, _ := excelize.CoordinatesToCellName(col+1, r+3)
				if err := f.SetCellValue(sheet, cell, row[header]); err != nil {
					return nil, err
				}
			}
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetName derives a unique, Excel-safe sheet name from a section title.
func sheetName(title string, index int, used map[string]int) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '-'
		}
		return r
	}, strings.TrimSpace(title))
	name = strings.Trim(name, "'")
	if name == "" {
		name = fmt.Sprintf("Section %d", index+1)
	}
	if runes := []rune(name); len(runes) > maxSheetName {
		name = string(runes[:maxSheetName])
	}
	key := strings.ToLower(name)
	if n := used[key]; n > 0 {
		suffix := fmt.Sprintf(" (%d)", n+1)
		runes := []rune(name)
		if len(runes)+len(suffix) > maxSheetName {
			runes = runes[:maxSheetName-len(suffix)]
		}
		name = string(runes) + suffix
	}
	used[key]++
	return name
}
