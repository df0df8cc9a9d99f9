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

func TestResponseRepositoryCreateAndFind(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO task_responses")).
		WithArgs(sqlmock.AnyArg(), "exec-1", "task-1", sqlmock.AnyArg(), nil, false, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	resp := &models.TaskResponse{
		FormExecutionID: "exec-1",
		FormTaskID:      "task-1",
		TaskSnapshot: models.TaskSnapshot{
			Type:          models.TaskTypeQuestion,
			Description:   "Describe the fault",
			IsRequired:    true,
			Position:      1,
			Configuration: models.TaskConfiguration{MaxLength: 500},
		},
	}
	require.NoError(t, repo.Create(context.Background(), resp))

	snapshotJSON := `{"type":"question","description":"Describe the fault","is_required":true,"position":1,"configuration":{"max_length":500}}`
	rows := sqlmock.NewRows([]string{"id", "form_execution_id", "form_task_id", "task_snapshot", "response", "is_completed", "responded_at", "created_at", "updated_at"}).
		AddRow(resp.ID, "exec-1", "task-1", snapshotJSON, nil, false, nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + responseColumns + " FROM task_responses WHERE id = $1")).
		WithArgs(resp.ID).
		WillReturnRows(rows)

	fetched, err := repo.FindByID(context.Background(), resp.ID)
	require.NoError(t, err)
	require.Equal(t, models.TaskTypeQuestion, fetched.TaskType())
	require.True(t, fetched.TaskIsRequired())
	require.Equal(t, 500, fetched.TaskConfiguration().MaxLength)
	require.Nil(t, fetched.Response)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryComplete(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE task_responses SET response = $2, is_completed = TRUE")).
		WithArgs("resp-1", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := models.ResponsePayload{Text: "Bearing noise on startup"}
	require.NoError(t, repo.Complete(context.Background(), "resp-1", payload, now))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE task_responses SET response = $2, is_completed = TRUE")).
		WithArgs("resp-1", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Complete(context.Background(), "resp-1", payload, now)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResponseRepositoryListByExecution(t *testing.T) {
	db, mock, cleanup := newFormRepoMock(t)
	defer cleanup()
	repo := NewResponseRepository(db)

	rows := sqlmock.NewRows([]string{"id", "form_execution_id", "form_task_id", "task_snapshot", "response", "is_completed", "responded_at", "created_at", "updated_at"}).
		AddRow("resp-1", "exec-1", "task-1", `{"type":"question","position":1,"configuration":{}}`, `{"text":"ok"}`, true, time.Now(), time.Now(), time.Now()).
		AddRow("resp-2", "exec-1", "task-2", `{"type":"measurement","position":2,"configuration":{"unit":"bar"}}`, nil, false, nil, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + responseColumns + " FROM task_responses WHERE form_execution_id = $1")).
		WithArgs("exec-1").
		WillReturnRows(rows)

	responses, err := repo.ListByExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Len(t, responses, 2)
	require.Equal(t, "ok", responses[0].Response.Text)
	require.Equal(t, "bar", responses[1].TaskConfiguration().Unit)
	require.NoError(t, mock.ExpectationsWereMet())
}
