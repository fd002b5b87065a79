package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/engine"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
	"github.com/noah-isme/sma-timetable/pkg/export"
)

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

var exportContentTypes = map[string]string{
	"csv":  "text/csv",
	"pdf":  "application/pdf",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ics":  "text/calendar; charset=utf-8",
}

// Export renders the school's stored timetables as CSV (default), PDF, XLSX
// or an iCalendar feed of the lessons.
func (s *TimetableService) Export(ctx context.Context, schoolID string, query dto.ExportQuery) (*ExportFile, error) {
	query.Format = strings.ToLower(strings.TrimSpace(query.Format))
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv, pdf, xlsx or ics; weekStart must be YYYY-MM-DD")
	}
	stored, _, err := s.List(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no stored timetables for school")
	}

	records := make([]engine.TimetableRecord, len(stored))
	for i, item := range stored {
		records[i] = item.Timetable
	}
	format := query.Format
	if format == "" {
		format = "csv"
	}

	var body []byte
	switch format {
	case "ics":
		body, err = s.renderCalendar(schoolID, records, query)
	case "pdf":
		body, err = s.pdf.Render(TimetableDocument("Timetables "+schoolID, records))
	case "xlsx":
		body, err = s.xlsx.Render(TimetableDocument("Timetables "+schoolID, records))
	default:
		body, err = s.csv.Render(TimetableDocument("Timetables "+schoolID, records))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("timetables-%s.%s", schoolID, format),
		ContentType: exportContentTypes[format],
		Body:        body,
	}, nil
}

func (s *TimetableService) renderCalendar(schoolID string, records []engine.TimetableRecord, query dto.ExportQuery) ([]byte, error) {
	cal := s.cfg.Calendar
	var anchor time.Time
	if query.WeekStart != "" {
		parsed, err := time.ParseInLocation("2006-01-02", query.WeekStart, cal.Location)
		if err != nil {
			return nil, err
		}
		anchor = parsed
	} else {
		now := s.clock().In(cal.Location)
		anchor = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, cal.Location)
	}
	monday := startOfWeek(anchor)
	weeks := query.Weeks
	if weeks <= 0 {
		weeks = 1
	}
	return s.ics.Render("Timetables "+schoolID, CalendarEvents(schoolID, records, monday, weeks, cal), s.clock())
}

// CalendarEvents expands every taught lesson into one event per week starting
// at monday. Free periods produce no event.
func CalendarEvents(schoolID string, records []engine.TimetableRecord, monday time.Time, weeks int, cal CalendarConfig) []export.CalendarEvent {
	var events []export.CalendarEvent
	for week := 0; week < weeks; week++ {
		for _, record := range records {
			location := streamTitle(record)
			for d, day := range record.Days {
				date := monday.AddDate(0, 0, 7*week+d)
				for _, lesson := range day.Lessons {
					if lesson.Free {
						continue
					}
					start := date.Add(cal.DayStart + time.Duration(lesson.Period-1)*cal.PeriodLength)
					summary := lesson.Subject
					if summary == "" {
						summary = lesson.SubjectID
					}
					var description string
					if lesson.Teacher != "" {
						description = "Teacher: " + lesson.Teacher
					}
					events = append(events, export.CalendarEvent{
						UID:         fmt.Sprintf("%s-%s-%s-p%d@sma-timetable", schoolID, record.StreamID, date.Format("20060102"), lesson.Period),
						Summary:     summary,
						Description: description,
						Location:    location,
						Start:       start,
						End:         start.Add(cal.PeriodLength),
					})
				}
			}
		}
	}
	return events
}

func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

// TimetableDocument lays records out for the exporters: one section per
// stream with a row per period and a column per day.
func TimetableDocument(title string, records []engine.TimetableRecord) export.Document {
	doc := export.Document{Title: title}
	for _, record := range records {
		headers := []string{"Period"}
		periods := 0
		for _, day := range record.Days {
			headers = append(headers, day.Day)
			if len(day.Lessons) > periods {
				periods = len(day.Lessons)
			}
		}
		rows := make([]map[string]string, periods)
		for p := range rows {
			rows[p] = map[string]string{"Period": strconv.Itoa(p + 1)}
		}
		for _, day := range record.Days {
			for p, lesson := range day.Lessons {
				rows[p][day.Day] = lesson.Label
			}
		}

		doc.Sections = append(doc.Sections, export.Section{
			Title: streamTitle(record),
			Data:  export.Dataset{Headers: headers, Rows: rows},
		})
	}
	return doc
}

func streamTitle(record engine.TimetableRecord) string {
	if record.Grade != "" || record.StreamName != "" {
		return strings.TrimSpace(record.Grade + " " + record.StreamName)
	}
	return record.StreamID
}
