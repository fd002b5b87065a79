package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// SectionColumn is prepended to every row when a document has several sections.
const SectionColumn = "section"

// CSVExporter renders documents into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render writes every section into one CSV table. Sections must share headers;
// the section title becomes the first column.
func (e *CSVExporter) Render(doc Document) ([]byte, error) {
	if len(doc.Sections) == 0 || len(doc.Sections[0].Data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	headers := doc.Sections[0].Data.Headers
	for _, s := range doc.Sections[1:] {
		if !sameHeaders(headers, s.Data.Headers) {
			return nil, fmt.Errorf("csv section %q has different headers", s.Title)
		}
	}

	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(append([]string{SectionColumn}, headers...)); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, section := range doc.Sections {
		for _, row := range section.Data.Rows {
			record := make([]string, 0, len(headers)+1)
			record = append(record, section.Title)
			for _, header := range headers {
				record = append(record, row[header])
			}
			if err := writer.Write(record); err != nil {
				return nil, fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func sameHeaders(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
