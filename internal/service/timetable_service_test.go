package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/models"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

// --- Fixtures ---

type schoolDataStub struct {
	school      *models.School
	subjects    []models.Subject
	teachers    []models.Teacher
	links       []models.TeacherSubject
	streams     []models.Stream
	demand      []models.StreamSubject
	constraints []models.Constraint
	err         error
}

func (s *schoolDataStub) FindSchool(ctx context.Context, id string) (*models.School, error) {
	if s.school == nil || s.school.ID != id {
		return nil, fmt.Errorf("find school: %w", sql.ErrNoRows)
	}
	return s.school, nil
}

func (s *schoolDataStub) FindTeacher(ctx context.Context, schoolID, teacherID string) (*models.Teacher, error) {
	if s.school != nil && s.school.ID == schoolID {
		for i := range s.teachers {
			if s.teachers[i].ID == teacherID {
				return &s.teachers[i], nil
			}
		}
	}
	return nil, fmt.Errorf("find teacher: %w", sql.ErrNoRows)
}

func (s *schoolDataStub) ListSubjects(ctx context.Context, schoolID string) ([]models.Subject, error) {
	return s.subjects, s.err
}

func (s *schoolDataStub) ListTeachers(ctx context.Context, schoolID string) ([]models.Teacher, error) {
	return s.teachers, nil
}

func (s *schoolDataStub) ListTeacherSubjects(ctx context.Context, schoolID string) ([]models.TeacherSubject, error) {
	return s.links, nil
}

func (s *schoolDataStub) ListStreams(ctx context.Context, schoolID string) ([]models.Stream, error) {
	return s.streams, nil
}

func (s *schoolDataStub) ListStreamSubjects(ctx context.Context, schoolID string) ([]models.StreamSubject, error) {
	return s.demand, nil
}

func (s *schoolDataStub) ListConstraints(ctx context.Context, schoolID string) ([]models.Constraint, error) {
	return s.constraints, nil
}

type preferenceStub struct {
	prefs []models.TeacherPreference
}

func (p *preferenceStub) ListBySchool(ctx context.Context, schoolID string) ([]models.TeacherPreference, error) {
	return p.prefs, nil
}

type timetableStoreStub struct {
	saved []models.Timetable
	err   error
}

func (s *timetableStoreStub) Replace(ctx context.Context, exec sqlx.ExtContext, rows []models.Timetable) error {
	if s.err != nil {
		return s.err
	}
	for i := range rows {
		rows[i].ID = fmt.Sprintf("tt-%s", rows[i].StreamID)
		rows[i].UpdatedAt = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	}
	byStream := map[string]int{}
	for i, row := range s.saved {
		byStream[row.StreamID] = i
	}
	for _, row := range rows {
		if i, ok := byStream[row.StreamID]; ok {
			s.saved[i] = row
			continue
		}
		s.saved = append(s.saved, row)
	}
	return nil
}

func (s *timetableStoreStub) ListBySchool(ctx context.Context, schoolID string) ([]models.Timetable, error) {
	var out []models.Timetable
	for _, row := range s.saved {
		if row.SchoolID == schoolID {
			out = append(out, row)
		}
	}
	return out, nil
}

type timetableTxProvider struct {
	db *sqlx.DB
}

func (t *timetableTxProvider) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return t.db.BeginTxx(ctx, opts)
}

func newTimetableTxMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &timetableTxProvider{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func smallSchoolData() *schoolDataStub {
	return &schoolDataStub{
		school: &models.School{ID: "school-1", Name: "SMA 1", SchoolType: "primary", TimetableTemplate: "classic"},
		subjects: []models.Subject{
			{ID: "math", Name: "Mathematics", Difficulty: 8},
			{ID: "eng", Name: "English", Difficulty: 4},
			{ID: "art", Name: "Art"},
		},
		teachers: []models.Teacher{
			{ID: "alice", FullName: "Alice", Active: true},
			{ID: "bob", FullName: "Bob", Active: true},
		},
		links: []models.TeacherSubject{
			{TeacherID: "alice", SubjectID: "math"},
			{TeacherID: "bob", SubjectID: "eng"},
			{TeacherID: "bob", SubjectID: "art"},
		},
		streams: []models.Stream{
			{ID: "7a", Grade: "7", Name: "A"},
			{ID: "7b", Grade: "7", Name: "B"},
		},
		demand: []models.StreamSubject{
			{StreamID: "7a", SubjectID: "math", WeeklyLessons: 4},
			{StreamID: "7a", SubjectID: "eng", WeeklyLessons: 3},
			{StreamID: "7a", SubjectID: "art", WeeklyLessons: 2},
			{StreamID: "7b", SubjectID: "math", WeeklyLessons: 4},
			{StreamID: "7b", SubjectID: "eng", WeeklyLessons: 3},
			{StreamID: "7b", SubjectID: "art", WeeklyLessons: 2},
		},
		constraints: []models.Constraint{
			{ID: "c-alice-fri", Level: "hard", Rule: types.JSONText(`{"category":"teacher-unavailable","teacher":"alice","day":"Friday"}`)},
		},
	}
}

type timetableFixture struct {
	svc   *TimetableService
	data  *schoolDataStub
	store *timetableStoreStub
	mock  sqlmock.Sqlmock
}

func newTimetableFixture(t *testing.T) *timetableFixture {
	t.Helper()
	tx, mock := newTimetableTxMock(t)
	data := smallSchoolData()
	store := &timetableStoreStub{}
	svc := NewTimetableService(data, &preferenceStub{}, store, tx, nil, NewMetricsService(), nil, zap.NewNop(), TimetableServiceConfig{
		Engine:      engine.Options{TimeBudget: -1},
		ProposalTTL: 10 * time.Minute,
	})
	return &timetableFixture{svc: svc, data: data, store: store, mock: mock}
}

func boolPtr(v bool) *bool { return &v }

// --- Tests ---

func TestTimetableServiceGeneratePreviewThenSave(t *testing.T) {
	fx := newTimetableFixture(t)
	ctx := context.Background()

	resp, err := fx.svc.Generate(ctx, "school-1", dto.GenerateTimetableRequest{})
	require.NoError(t, err)
	assert.Equal(t, "preview", resp.Mode)
	require.Len(t, resp.Records, 2)
	assert.Equal(t, "7a", resp.Records[0].StreamID)
	assert.Equal(t, "classic", resp.Records[0].TemplateType)
	assert.Empty(t, fx.store.saved)

	for _, rec := range resp.Records {
		friday := rec.Days[4]
		require.Equal(t, "Friday", friday.Day)
		for _, lesson := range friday.Lessons {
			assert.NotEqual(t, "alice", lesson.TeacherID)
		}
	}

	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
	saved, err := fx.svc.Save(ctx, "school-1", resp.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, []string{"tt-7a", "tt-7b"}, saved.TimetableIDs)
	require.Len(t, fx.store.saved, 2)
	assert.Equal(t, "engine", fx.store.saved[0].GeneratedBy)
	assert.NoError(t, fx.mock.ExpectationsWereMet())

	_, err = fx.svc.Save(ctx, "school-1", resp.ProposalID)
	assert.Equal(t, appErrors.ErrProposalExpired.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceGeneratePersistsWhenNotDryRun(t *testing.T) {
	fx := newTimetableFixture(t)
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()

	resp, err := fx.svc.Generate(context.Background(), "school-1", dto.GenerateTimetableRequest{DryRun: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, "saved", resp.Mode)
	assert.Len(t, resp.TimetableIDs, 2)
	assert.Len(t, fx.store.saved, 2)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestTimetableServiceSaveRollsBackOnStoreError(t *testing.T) {
	fx := newTimetableFixture(t)
	fx.store.err = errors.New("disk full")
	resp, err := fx.svc.Generate(context.Background(), "school-1", dto.GenerateTimetableRequest{})
	require.NoError(t, err)

	fx.mock.ExpectBegin()
	fx.mock.ExpectRollback()
	_, err = fx.svc.Save(context.Background(), "school-1", resp.ProposalID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.NoError(t, fx.mock.ExpectationsWereMet())
}

func TestTimetableServiceSaveRejectsOtherSchool(t *testing.T) {
	fx := newTimetableFixture(t)
	resp, err := fx.svc.Generate(context.Background(), "school-1", dto.GenerateTimetableRequest{})
	require.NoError(t, err)

	_, err = fx.svc.Save(context.Background(), "school-2", resp.ProposalID)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceProposalExpires(t *testing.T) {
	fx := newTimetableFixture(t)
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	fx.svc.now = func() time.Time { return now }

	resp, err := fx.svc.Generate(context.Background(), "school-1", dto.GenerateTimetableRequest{})
	require.NoError(t, err)
	assert.Equal(t, now.Add(10*time.Minute), resp.ExpiresAt)

	now = now.Add(11 * time.Minute)
	_, err = fx.svc.Save(context.Background(), "school-1", resp.ProposalID)
	assert.Equal(t, appErrors.ErrProposalExpired.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceGenerateErrors(t *testing.T) {
	cases := []struct {
		name     string
		school   string
		mutate   func(d *schoolDataStub)
		req      dto.GenerateTimetableRequest
		wantCode string
		wantKind engine.ErrorKind
	}{
		{
			name:     "unknown school",
			school:   "missing",
			wantCode: appErrors.ErrNotFound.Code,
		},
		{
			name:   "infeasible demand",
			school: "school-1",
			mutate: func(d *schoolDataStub) {
				d.demand[0].WeeklyLessons = 40
			},
			wantCode: appErrors.ErrInfeasible.Code,
			wantKind: engine.KindInfeasible,
		},
		{
			name:   "unsupported constraint category",
			school: "school-1",
			mutate: func(d *schoolDataStub) {
				d.constraints = append(d.constraints, models.Constraint{ID: "c-x", Rule: types.JSONText(`{"category":"no-rain"}`)})
			},
			wantCode: appErrors.ErrUnsupportedConstraint.Code,
			wantKind: engine.KindUnsupportedConstraint,
		},
		{
			name:   "malformed rule json",
			school: "school-1",
			mutate: func(d *schoolDataStub) {
				d.constraints[0].Rule = types.JSONText(`{"category":`)
			},
			wantCode: appErrors.ErrUnsupportedConstraint.Code,
			wantKind: engine.KindUnsupportedConstraint,
		},
		{
			name:   "unqualified subject",
			school: "school-1",
			mutate: func(d *schoolDataStub) {
				d.links = d.links[:2]
			},
			wantCode: appErrors.ErrValidation.Code,
			wantKind: engine.KindStructural,
		},
		{
			name:     "request out of range",
			school:   "school-1",
			req:      dto.GenerateTimetableRequest{MaxSteps: func() *int { v := 0; return &v }()},
			wantCode: appErrors.ErrValidation.Code,
		},
		{
			name:     "budget exhausted",
			school:   "school-1",
			req:      dto.GenerateTimetableRequest{MaxSteps: func() *int { v := 3; return &v }()},
			wantCode: appErrors.ErrBudgetExceeded.Code,
			wantKind: engine.KindBudgetExceeded,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newTimetableFixture(t)
			if tc.mutate != nil {
				tc.mutate(fx.data)
			}
			_, err := fx.svc.Generate(context.Background(), tc.school, tc.req)
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, tc.wantCode, appErr.Code)
			if tc.wantKind != "" {
				details, ok := appErr.Details.(schedulingDetails)
				require.True(t, ok)
				assert.Equal(t, tc.wantKind, details.Kind)
			}
		})
	}
}

func TestTimetableServiceGenerateIsReproducible(t *testing.T) {
	fx := newTimetableFixture(t)
	seed := int64(11)
	first, err := fx.svc.Generate(context.Background(), "school-1", dto.GenerateTimetableRequest{Seed: &seed})
	require.NoError(t, err)
	second, err := fx.svc.Generate(context.Background(), "school-1", dto.GenerateTimetableRequest{Seed: &seed})
	require.NoError(t, err)

	assert.NotEqual(t, first.ProposalID, second.ProposalID)
	assert.Equal(t, first.Records, second.Records)
}

func TestTimetableServiceAppliesTeacherPreferences(t *testing.T) {
	fx := newTimetableFixture(t)
	fx.svc.prefs = &preferenceStub{prefs: []models.TeacherPreference{
		{TeacherID: "bob", MaxLoadPerDay: 3, Unavailable: types.JSONText(`[{"day":"Monday"}]`)},
	}}

	in, err := fx.svc.LoadInput(context.Background(), "school-1")
	require.NoError(t, err)
	ids := make([]string, 0, len(in.Constraints))
	for _, c := range in.Constraints {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"c-alice-fri", "pref:bob:max-daily", "pref:bob:unavailable:1"}, ids)

	resp, err := fx.svc.Generate(context.Background(), "school-1", dto.GenerateTimetableRequest{})
	require.NoError(t, err)
	for _, rec := range resp.Records {
		for _, lesson := range rec.Days[0].Lessons {
			assert.NotEqual(t, "bob", lesson.TeacherID, "bob is unavailable on Monday")
		}
	}
}

func TestTimetableServiceListAndExport(t *testing.T) {
	fx := newTimetableFixture(t)
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
	_, err := fx.svc.Generate(context.Background(), "school-1", dto.GenerateTimetableRequest{DryRun: boolPtr(false)})
	require.NoError(t, err)

	stored, hit, err := fx.svc.List(context.Background(), "school-1")
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, stored, 2)
	assert.Equal(t, "tt-7a", stored[0].ID)
	assert.Len(t, stored[0].Legacy, 5)
	assert.Len(t, stored[0].Legacy["Monday"], 6)

	csvFile, err := fx.svc.Export(context.Background(), "school-1", dto.ExportQuery{})
	require.NoError(t, err)
	assert.Equal(t, "text/csv", csvFile.ContentType)
	assert.Equal(t, "timetables-school-1.csv", csvFile.Filename)
	lines := strings.Split(strings.TrimSpace(string(csvFile.Body)), "\n")
	assert.Equal(t, "section,Period,Monday,Tuesday,Wednesday,Thursday,Friday", lines[0])
	assert.Len(t, lines, 1+2*6)
	assert.True(t, strings.HasPrefix(lines[1], "7 A,1,"))

	pdfFile, err := fx.svc.Export(context.Background(), "school-1", dto.ExportQuery{Format: "PDF"})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdfFile.ContentType)
	assert.True(t, bytes.HasPrefix(pdfFile.Body, []byte("%PDF")))

	xlsxFile, err := fx.svc.Export(context.Background(), "school-1", dto.ExportQuery{Format: "xlsx"})
	require.NoError(t, err)
	assert.Equal(t, "timetables-school-1.xlsx", xlsxFile.Filename)
	assert.True(t, bytes.HasPrefix(xlsxFile.Body, []byte("PK")))

	_, err = fx.svc.Export(context.Background(), "school-1", dto.ExportQuery{Format: "docx"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	_, err = fx.svc.Export(context.Background(), "school-1", dto.ExportQuery{Format: "ics", WeekStart: "05/01/2026"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = fx.svc.Export(context.Background(), "school-2", dto.ExportQuery{})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceCalendarExport(t *testing.T) {
	fx := newTimetableFixture(t)
	fx.svc.now = func() time.Time { return time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC) }
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
	_, err := fx.svc.Generate(context.Background(), "school-1", dto.GenerateTimetableRequest{DryRun: boolPtr(false)})
	require.NoError(t, err)

	file, err := fx.svc.Export(context.Background(), "school-1", dto.ExportQuery{Format: "ics", Weeks: 2})
	require.NoError(t, err)
	assert.Equal(t, "text/calendar; charset=utf-8", file.ContentType)
	body := string(file.Body)
	assert.True(t, strings.HasPrefix(body, "BEGIN:VCALENDAR"))
	assert.Equal(t, 2*(9+9), strings.Count(body, "BEGIN:VEVENT"))
	assert.NotContains(t, body, "20260102", "anchored on the Monday of the current week")
	assert.Contains(t, body, "@sma-timetable")
}

func TestCalendarEventsPlacesPeriodsOnTheClock(t *testing.T) {
	records := []engine.TimetableRecord{{
		StreamID: "7a", Grade: "7", StreamName: "A",
		Days: []engine.DayPlan{
			{Day: "Monday", Lessons: []engine.Lesson{
				{Period: 1, Free: true, Label: engine.FreeLabel},
				{Period: 2, SubjectID: "math", Subject: "Mathematics", TeacherID: "alice", Teacher: "Alice"},
			}},
			{Day: "Tuesday", Lessons: []engine.Lesson{
				{Period: 1, SubjectID: "eng", TeacherID: "bob"},
			}},
		},
	}}
	monday := startOfWeek(time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC))
	require.Equal(t, time.Monday, monday.Weekday())

	events := CalendarEvents("school-1", records, monday, 1, CalendarConfig{DayStart: 7 * time.Hour, PeriodLength: 40 * time.Minute, Location: time.UTC})
	require.Len(t, events, 2)
	assert.Equal(t, time.Date(2026, 1, 5, 7, 40, 0, 0, time.UTC), events[0].Start)
	assert.Equal(t, time.Date(2026, 1, 5, 8, 20, 0, 0, time.UTC), events[0].End)
	assert.Equal(t, "Mathematics", events[0].Summary)
	assert.Equal(t, "Teacher: Alice", events[0].Description)
	assert.Equal(t, "7 A", events[0].Location)
	assert.Equal(t, "eng", events[1].Summary)
	assert.Equal(t, "school-1-7a-20260106-p1@sma-timetable", events[1].UID)
}

func TestMapEngineErrorHidesValidationDefects(t *testing.T) {
	err := mapEngineError(&engine.SchedulingError{
		Kind:    engine.KindValidationDefect,
		Message: "generated timetable failed validation with 2 defects",
		Defects: []engine.Defect{{Invariant: "x"}, {Invariant: "y"}},
	})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErr.Code)
	assert.Equal(t, "generated timetable failed internal validation", appErr.Message)
	assert.Equal(t, 2, appErr.Details.(schedulingDetails).Defects)
	assert.True(t, engine.IsKind(err, engine.KindValidationDefect))

	plain := appErrors.FromError(mapEngineError(errors.New("boom")))
	assert.Equal(t, appErrors.ErrInternal.Code, plain.Code)
	assert.Equal(t, "error", outcomeOf(errors.New("boom")))
	assert.Equal(t, "infeasible", outcomeOf(&engine.SchedulingError{Kind: engine.KindInfeasible}))
}
