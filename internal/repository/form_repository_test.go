package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/forms-api/internal/models"
)

func newFormRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestFormRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO forms")).
		WithArgs(sqlmock.AnyArg(), "Pump inspection", nil, true, nil, "user-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	form := &models.Form{Name: "Pump inspection", IsActive: true, CreatedBy: "user-1"}
	require.NoError(t, repo.Create(context.Background(), form))
	require.NotEmpty(t, form.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFormRepositoryPublish(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM forms WHERE id = $1 AND deleted_at IS NULL FOR UPDATE")).
		WithArgs("form-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("form-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM form_tasks WHERE form_id = $1 AND form_version_id IS NULL")).
		WithArgs("form-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version_number), 0) + 1 FROM form_versions WHERE form_id = $1")).
		WithArgs("form-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE form_versions SET is_active = FALSE WHERE form_id = $1 AND is_active")).
		WithArgs("form-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO form_versions")).
		WithArgs(sqlmock.AnyArg(), "form-1", 2, true, sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE form_tasks SET form_version_id = $2, form_id = NULL")).
		WithArgs("form-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE forms SET current_version_id = $2")).
		WithArgs("form-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	taskRows := sqlmock.NewRows([]string{"id", "form_id", "form_version_id", "position", "type", "description", "is_required", "configuration", "created_at", "updated_at"}).
		AddRow("task-1", nil, "version-x", 1, "question", "Describe the fault", true, `{"max_length":500}`, time.Now(), time.Now()).
		AddRow("task-2", nil, "version-x", 2, "measurement", "Oil pressure", true, `{"unit":"bar","min_value":0}`, time.Now(), time.Now()).
		AddRow("task-3", nil, "version-x", 3, "photo", "Nameplate photo", false, `{"max_photos":3}`, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + taskColumns + " FROM form_tasks WHERE form_version_id = $1 ORDER BY position ASC")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(taskRows)

	version, err := repo.Publish(context.Background(), "form-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, 2, version.VersionNumber)
	require.True(t, version.IsActive)
	require.Len(t, version.Tasks, 3)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFormRepositoryPublishNoDrafts(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM forms WHERE id = $1 AND deleted_at IS NULL FOR UPDATE")).
		WithArgs("form-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("form-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM form_tasks WHERE form_id = $1 AND form_version_id IS NULL")).
		WithArgs("form-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	_, err := repo.Publish(context.Background(), "form-1", "user-1")
	require.ErrorIs(t, err, ErrNoDraftTasks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFormRepositoryUpdateTaskSkipsPublished(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE form_tasks SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	versionID := "version-1"
	task := &models.FormTask{ID: "task-1", FormVersionID: &versionID, Type: models.TaskTypeQuestion, Description: "edited"}
	err := repo.UpdateTask(context.Background(), task)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFormRepositorySoftDelete(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE forms SET deleted_at = $2, is_active = FALSE")).
		WithArgs("form-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SoftDelete(context.Background(), "form-1", now))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE forms SET deleted_at = $2, is_active = FALSE")).
		WithArgs("gone", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.SoftDelete(context.Background(), "gone", now)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFormRepositoryListDraftTasks(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewFormRepository(db)

	rows := sqlmock.NewRows([]string{"id", "form_id", "form_version_id", "position", "type", "description", "is_required", "configuration", "created_at", "updated_at"}).
		AddRow("task-1", "form-1", nil, 1, "multiple_choice", "Belt condition", true, `{"options":["ok","worn","broken"]}`, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + taskColumns + " FROM form_tasks WHERE form_id = $1 AND form_version_id IS NULL ORDER BY position ASC")).
		WithArgs("form-1").
		WillReturnRows(rows)

	tasks, err := repo.ListDraftTasks(context.Background(), "form-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.True(t, tasks[0].IsDraft())
	require.Equal(t, []string{"ok", "worn", "broken"}, tasks[0].Configuration.Options)
	require.NoError(t, mock.ExpectationsWereMet())
}
