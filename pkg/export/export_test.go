package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func weekDocument() Document {
	data := func(first string) Dataset {
		return Dataset{
			Headers: []string{"Period", "Monday"},
			Rows:    []map[string]string{{"Period": "1", "Monday": first}},
		}
	}
	return Document{
		Title: "Timetables",
		Sections: []Section{
			{Title: "7A", Data: data("Mathematics - Alice")},
			{Title: "7B", Data: data("Free")},
		},
	}
}

func TestCSVExporterRendersSections(t *testing.T) {
	out, err := NewCSVExporter().Render(weekDocument())
	require.NoError(t, err)
	assert.Equal(t, "section,Period,Monday\n7A,1,Mathematics - Alice\n7B,1,Free\n", string(out))
}

func TestCSVExporterRejectsMismatchedHeaders(t *testing.T) {
	doc := weekDocument()
	doc.Sections[1].Data.Headers = []string{"Period"}
	_, err := NewCSVExporter().Render(doc)
	assert.Error(t, err)

	_, err = NewCSVExporter().Render(Document{})
	assert.Error(t, err)
}

func TestPDFExporterRendersPages(t *testing.T) {
	doc := weekDocument()
	doc.Sections[0].Data.Rows[0]["Monday"] = "A subject name far too long to fit inside one narrow table cell of the page"
	out, err := NewPDFExporter().Render(doc)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = NewPDFExporter().Render(Document{Sections: []Section{{Title: "x"}}})
	assert.Error(t, err)
}

func TestXLSXExporterWritesSheetPerSection(t *testing.T) {
	out, err := NewXLSXExporter().Render(weekDocument())
	require.NoError(t, err)

	book, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer book.Close()

	assert.Equal(t, []string{"7A", "7B"}, book.GetSheetList())
	title, err := book.GetCellValue("7A", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Timetables 7A", title)
	header, err := book.GetCellValue("7A", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Monday", header)
	lesson, err := book.GetCellValue("7A", "B3")
	require.NoError(t, err)
	assert.Equal(t, "Mathematics - Alice", lesson)

	_, err = NewXLSXExporter().Render(Document{})
	assert.Error(t, err)
}

func TestSheetNameSanitises(t *testing.T) {
	used := map[string]int{}
	assert.Equal(t, "10-IPA", sheetName("10/IPA", 0, used))
	assert.Equal(t, "10-IPA (2)", sheetName("10:IPA", 1, used))
	assert.Equal(t, "Section 3", sheetName("  ", 2, used))
	assert.Len(t, []rune(sheetName(strings.Repeat("x", 40), 3, used)), maxSheetName)
}

func TestICSExporterRendersEvents(t *testing.T) {
	start := time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC)
	events := []CalendarEvent{
		{UID: "7a-1-1@sma", Summary: "Mathematics", Description: "Alice", Location: "7 A", Start: start, End: start.Add(45 * time.Minute)},
		{UID: "7a-1-2@sma", Summary: "English", Start: start.Add(45 * time.Minute), End: start.Add(90 * time.Minute)},
	}
	out, err := NewICSExporter().Render("Timetable 7 A", events, start)
	require.NoError(t, err)

	cal, err := ics.ParseCalendar(bytes.NewReader(out))
	require.NoError(t, err)
	parsed := cal.Events()
	require.Len(t, parsed, 2)
	assert.Equal(t, "7a-1-1@sma", parsed[0].Id())
	assert.Equal(t, "Mathematics", parsed[0].GetProperty(ics.ComponentPropertySummary).Value)
	got, err := parsed[1].GetStartAt()
	require.NoError(t, err)
	assert.True(t, got.Equal(events[1].Start))

	_, err = NewICSExporter().Render("x", nil, start)
	assert.Error(t, err)
	_, err = NewICSExporter().Render("x", []CalendarEvent{events[0], events[0]}, start)
	assert.ErrorContains(t, err, "repeated")
	_, err = NewICSExporter().Render("x", []CalendarEvent{{UID: "u", Start: start, End: start}}, start)
	assert.ErrorContains(t, err, "ends before")
}
