package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/forms-api/internal/models"
)

func TestExecutionRepositoryCreateDefaultsToPending(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewExecutionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO form_executions")).
		WithArgs(sqlmock.AnyArg(), "version-1", "tech-1", "pending", nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	exec := &models.FormExecution{FormVersionID: "version-1", UserID: "tech-1"}
	require.NoError(t, repo.Create(context.Background(), exec))
	require.Equal(t, models.ExecutionStatusPending, exec.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewExecutionRepository(db)

	now := time.Now().UTC()
	status := models.ExecutionStatusInProgress
	mock.ExpectExec(regexp.QuoteMeta("UPDATE form_executions SET status = $1, started_at = $2, updated_at = $3 WHERE id = $4")).
		WithArgs(status, now, sqlmock.AnyArg(), "exec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "exec-1", UpdateExecutionParams{
		Status:    &status,
		StartedAt: &now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepositoryUpdateGuardsStatus(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewExecutionRepository(db)

	now := time.Now().UTC()
	status := models.ExecutionStatusCompleted
	from := models.ExecutionStatusInProgress
	mock.ExpectExec(regexp.QuoteMeta("UPDATE form_executions SET status = $1, completed_at = $2, updated_at = $3 WHERE id = $4 AND status = $5")).
		WithArgs(status, now, sqlmock.AnyArg(), "exec-1", from).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), "exec-1", UpdateExecutionParams{
		Status:      &status,
		FromStatus:  &from,
		CompletedAt: &now,
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepositoryProgressCounts(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewExecutionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM form_tasks WHERE form_version_id = $1")).
		WithArgs("version-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	total, err := repo.CountVersionTasks(context.Background(), "version-1")
	require.NoError(t, err)
	require.Equal(t, 3, total)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM task_responses WHERE form_execution_id = $1 AND is_completed")).
		WithArgs("exec-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	done, err := repo.CountCompletedResponses(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Equal(t, 2, done)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionRepositoryListMissingRequiredTasks(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewExecutionRepository(db)

	rows := sqlmock.NewRows([]string{"id", "form_id", "form_version_id", "position", "type", "description", "is_required", "configuration", "created_at", "updated_at"}).
		AddRow("task-3", nil, "version-1", 3, "measurement", "Oil pressure", true, `{"unit":"bar"}`, time.Now(), time.Now())
	mock.ExpectQuery("SELECT .+ FROM form_tasks t").
		WithArgs("exec-1", "version-1").
		WillReturnRows(rows)

	missing, err := repo.ListMissingRequiredTasks(context.Background(), "exec-1", "version-1")
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, "task-3", missing[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
