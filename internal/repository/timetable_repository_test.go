package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/models"
)

func TestTimetableRepositoryReplaceInTransaction(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectBegin()
	for _, stream := range []string{"10a", "10b"} {
		mock.ExpectExec("DELETE FROM timetables WHERE school_id = \\$1 AND stream_id = \\$2").
			WithArgs("school-1", stream).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO timetables").
			WithArgs(sqlmock.AnyArg(), "school-1", stream, sqlmock.AnyArg(), "engine", "classic", 1.5, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectExec("DELETE FROM timetables WHERE school_id = \\$1\\s+AND stream_id NOT IN \\(SELECT id FROM streams WHERE school_id = \\$1\\)").
		WithArgs("school-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rows := []models.Timetable{
		{SchoolID: "school-1", StreamID: "10a", TimetableData: types.JSONText(`{}`), GeneratedBy: "engine", TemplateType: "classic", Score: 1.5},
		{SchoolID: "school-1", StreamID: "10b", TimetableData: types.JSONText(`{}`), GeneratedBy: "engine", TemplateType: "classic", Score: 1.5},
	}
	tx, err := db.Beginx()
	require.NoError(t, err)
	require.NoError(t, repo.Replace(context.Background(), tx, rows))
	require.NoError(t, tx.Commit())

	assert.NotEmpty(t, rows[0].ID)
	assert.NotEqual(t, rows[0].ID, rows[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryReplaceStopsOnError(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectExec("DELETE FROM timetables").WillReturnError(errors.New("connection reset"))

	err := repo.Replace(context.Background(), nil, []models.Timetable{{SchoolID: "school-1", StreamID: "10a", TimetableData: types.JSONText(`{}`)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream 10a")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryReplaceReportsPruneFailure(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM timetables WHERE school_id = \\$1 AND stream_id = \\$2").
		WithArgs("school-1", "10a").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO timetables").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("stream_id NOT IN").
		WithArgs("school-1").
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	tx, err := db.Beginx()
	require.NoError(t, err)
	err = repo.Replace(context.Background(), tx, []models.Timetable{{SchoolID: "school-1", StreamID: "10a", TimetableData: types.JSONText(`{}`)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "removed streams in school school-1")
	require.NoError(t, tx.Rollback())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableRepositoryListBySchool(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewTimetableRepository(db)

	now := time.Now()
	mock.ExpectQuery("FROM timetables WHERE school_id = \\$1 ORDER BY stream_id ASC").
		WithArgs("school-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "school_id", "stream_id", "timetable_data", "generated_by", "template_type", "score", "created_at", "updated_at"}).
			AddRow("tt-1", "school-1", "10a", `{"streamId":"10a"}`, "engine", "classic", 0.5, now, now))

	rows, err := repo.ListBySchool(context.Background(), "school-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "tt-1", rows[0].ID)
	assert.JSONEq(t, `{"streamId":"10a"}`, string(rows[0].TimetableData))
	assert.NoError(t, mock.ExpectationsWereMet())
}
