package engine

import "fmt"

// FreeLabel marks a period with no lesson.
const FreeLabel = "Free"

// GeneratedBy tags records produced by this engine.
const GeneratedBy = "engine"

// Lesson is one period of a day plan.
type Lesson struct {
	Period    int    `json:"period"`
	SubjectID string `json:"subjectId,omitempty"`
	Subject   string `json:"subject,omitempty"`
	TeacherID string `json:"teacherId,omitempty"`
	Teacher   string `json:"teacher,omitempty"`
	Free      bool   `json:"free,omitempty"`
	Label     string `json:"label"`
}

// DayPlan is the ordered lesson sequence of one day.
type DayPlan struct {
	Day     string   `json:"day"`
	Lessons []Lesson `json:"lessons"`
}

// TimetableRecord is the persistence shape of one stream's timetable.
type TimetableRecord struct {
	StreamID     string    `json:"streamId"`
	StreamName   string    `json:"streamName,omitempty"`
	Grade        string    `json:"grade,omitempty"`
	TemplateType string    `json:"templateType"`
	GeneratedBy  string    `json:"generatedBy"`
	Score        float64   `json:"score"`
	Days         []DayPlan `json:"days"`
}

// Legacy renders the record as day name -> "Subject - Teacher" labels.
func (r TimetableRecord) Legacy() map[string][]string {
	out := make(map[string][]string, len(r.Days))
	for _, day := range r.Days {
		labels := make([]string, len(day.Lessons))
		for i, lesson := range day.Lessons {
			labels[i] = lesson.Label
		}
		out[day.Day] = labels
	}
	return out
}

// Format maps a validated timetable set into one record per stream, in the
// set's stream order. Scores are the stream's share of the soft penalty.
func Format(m *Model, grid Grid, set *TimetableSet, scores map[string]float64) []TimetableRecord {
	records := make([]TimetableRecord, 0, len(set.Timetables))
	for _, tt := range set.Timetables {
		st, ok := m.StreamIndex(tt.StreamID)
		if !ok {
			continue
		}
		stream := m.Streams[st]
		rec := TimetableRecord{
			StreamID:     stream.ID,
			StreamName:   stream.Name,
			Grade:        stream.Grade,
			TemplateType: m.School.TimetableTemplate,
			GeneratedBy:  GeneratedBy,
			Score:        scores[stream.ID],
		}

		byPosition := make(map[[2]int]Assignment, len(tt.Assignments))
		for _, a := range tt.Assignments {
			byPosition[[2]int{a.Day, a.Period}] = a
		}
		for d, dayName := range grid.Days {
			plan := DayPlan{Day: dayName, Lessons: make([]Lesson, 0, stream.PeriodsPerDay)}
			for p := 1; p <= stream.PeriodsPerDay; p++ {
				a, ok := byPosition[[2]int{d + 1, p}]
				if !ok {
					plan.Lessons = append(plan.Lessons, Lesson{Period: p, Free: true, Label: FreeLabel})
					continue
				}
				lesson := Lesson{Period: p, SubjectID: a.SubjectID, TeacherID: a.TeacherID}
				if idx, ok := m.SubjectIndex(a.SubjectID); ok {
					lesson.Subject = m.Subjects[idx].Name
				}
				if idx, ok := m.TeacherIndex(a.TeacherID); ok {
					lesson.Teacher = m.Teachers[idx].Name
				}
				lesson.Label = fmt.Sprintf("%s - %s", lesson.Subject, lesson.Teacher)
				plan.Lessons = append(plan.Lessons, lesson)
			}
			rec.Days = append(rec.Days, plan)
		}
		records = append(records, rec)
	}
	return records
}
