package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldops/forms-api/internal/models"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
)

type responseRepoStub struct {
	responses map[string]*models.TaskResponse
}

func newResponseRepoStub() *responseRepoStub {
	return &responseRepoStub{responses: map[string]*models.TaskResponse{}}
}

func (r *responseRepoStub) Create(ctx context.Context, resp *models.TaskResponse) error {
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	copied := *resp
	r.responses[resp.ID] = &copied
	return nil
}

func (r *responseRepoStub) FindByID(ctx context.Context, id string) (*models.TaskResponse, error) {
	resp, ok := r.responses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *resp
	return &copied, nil
}

func (r *responseRepoStub) FindByExecutionAndTask(ctx context.Context, executionID, taskID string) (*models.TaskResponse, error) {
	for _, resp := range r.responses {
		if resp.FormExecutionID == executionID && resp.FormTaskID == taskID {
			copied := *resp
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *responseRepoStub) ListByExecution(ctx context.Context, executionID string) ([]models.TaskResponse, error) {
	var out []models.TaskResponse
	for _, resp := range r.responses {
		if resp.FormExecutionID == executionID {
			out = append(out, *resp)
		}
	}
	return out, nil
}

func (r *responseRepoStub) Complete(ctx context.Context, id string, payload models.ResponsePayload, respondedAt time.Time) error {
	resp, ok := r.responses[id]
	if !ok || resp.IsCompleted {
		return sql.ErrNoRows
	}
	resp.Response = &payload
	resp.IsCompleted = true
	resp.RespondedAt = &respondedAt
	return nil
}

type attachmentListerStub struct {
	byResponse map[string][]models.ResponseAttachment
}

func (s attachmentListerStub) ListByResponse(ctx context.Context, responseID string) ([]models.ResponseAttachment, error) {
	return s.byResponse[responseID], nil
}

func newResponseServiceForTest(t *testing.T) (*ResponseService, *responseRepoStub, *executionRepoStub, *formRepoStub) {
	t.Helper()
	repo := newResponseRepoStub()
	executions := newExecutionRepoStub()
	tasks := newFormRepoStub()
	instructions := instructionListerStub{byTask: map[string][]models.TaskInstruction{}}
	svc := NewResponseService(repo, executions, tasks, instructions, attachmentListerStub{}, nil, zap.NewNop())
	return svc, repo, executions, tasks
}

func seedResponseFixtures(executions *executionRepoStub, tasks *formRepoStub, status models.ExecutionStatus) {
	versionID := "version-1"
	executions.executions["exec-1"] = &models.FormExecution{
		ID:            "exec-1",
		FormVersionID: versionID,
		UserID:        "tech-1",
		Status:        status,
	}
	tasks.tasks["t1"] = &models.FormTask{
		ID:            "t1",
		FormVersionID: &versionID,
		Position:      1,
		Type:          models.TaskTypeMultipleChoice,
		Description:   "Pick pump state",
		IsRequired:    true,
		Configuration: models.TaskConfiguration{Options: []string{"ok", "worn", "broken"}},
	}
}

func TestResponseServiceCreateFreezesSnapshot(t *testing.T) {
	svc, _, executions, tasks := newResponseServiceForTest(t)
	seedResponseFixtures(executions, tasks, models.ExecutionStatusInProgress)

	resp, err := svc.Create(context.Background(), "exec-1", CreateResponseRequest{FormTaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskTypeMultipleChoice, resp.TaskType())
	assert.Equal(t, []string{"ok", "worn", "broken"}, resp.TaskConfiguration().Options)
	assert.True(t, resp.TaskIsRequired())
	assert.False(t, resp.IsCompleted)

	// mutate the live task; the stored snapshot must not follow
	tasks.tasks["t1"].Description = "Edited later"
	tasks.tasks["t1"].Configuration = models.TaskConfiguration{Options: []string{"changed"}}

	stored, err := svc.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pick pump state", stored.TaskSnapshot.Description)
	assert.Equal(t, []string{"ok", "worn", "broken"}, stored.TaskConfiguration().Options)
}

func TestResponseServiceCreateRequiresInProgress(t *testing.T) {
	svc, _, executions, tasks := newResponseServiceForTest(t)
	seedResponseFixtures(executions, tasks, models.ExecutionStatusPending)

	_, err := svc.Create(context.Background(), "exec-1", CreateResponseRequest{FormTaskID: "t1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestResponseServiceCreateRejectsForeignTask(t *testing.T) {
	svc, _, executions, tasks := newResponseServiceForTest(t)
	seedResponseFixtures(executions, tasks, models.ExecutionStatusInProgress)
	otherVersion := "version-2"
	tasks.tasks["t9"] = &models.FormTask{
		ID:            "t9",
		FormVersionID: &otherVersion,
		Type:          models.TaskTypeQuestion,
		Description:   "From another version",
	}

	_, err := svc.Create(context.Background(), "exec-1", CreateResponseRequest{FormTaskID: "t9"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestResponseServiceCreateDuplicate(t *testing.T) {
	svc, _, executions, tasks := newResponseServiceForTest(t)
	seedResponseFixtures(executions, tasks, models.ExecutionStatusInProgress)

	_, err := svc.Create(context.Background(), "exec-1", CreateResponseRequest{FormTaskID: "t1"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "exec-1", CreateResponseRequest{FormTaskID: "t1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestResponseServiceCompleteValidatesAgainstSnapshot(t *testing.T) {
	svc, _, executions, tasks := newResponseServiceForTest(t)
	seedResponseFixtures(executions, tasks, models.ExecutionStatusInProgress)

	resp, err := svc.Create(context.Background(), "exec-1", CreateResponseRequest{FormTaskID: "t1"})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), resp.ID, CompleteResponseRequest{
		Response: models.ResponsePayload{SelectedOption: "melted"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	done, err := svc.Complete(context.Background(), resp.ID, CompleteResponseRequest{
		Response: models.ResponsePayload{SelectedOption: "worn"},
	})
	require.NoError(t, err)
	assert.True(t, done.IsCompleted)
	require.NotNil(t, done.RespondedAt)
	require.NotNil(t, done.Response)
	assert.Equal(t, "worn", done.Response.SelectedOption)
}

func TestResponseServiceCompleteTwice(t *testing.T) {
	svc, _, executions, tasks := newResponseServiceForTest(t)
	seedResponseFixtures(executions, tasks, models.ExecutionStatusInProgress)

	resp, err := svc.Create(context.Background(), "exec-1", CreateResponseRequest{FormTaskID: "t1"})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), resp.ID, CompleteResponseRequest{
		Response: models.ResponsePayload{SelectedOption: "ok"},
	})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), resp.ID, CompleteResponseRequest{
		Response: models.ResponsePayload{SelectedOption: "broken"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestResponseServiceSnapshotFreezesResolvedMedia(t *testing.T) {
	repo := newResponseRepoStub()
	executions := newExecutionRepoStub()
	tasks := newFormRepoStub()
	instructionRepo := newInstructionRepoStub()
	instructionSvc := NewInstructionService(instructionRepo, tasks, mediaResolverStub{}, nil, zap.NewNop())
	svc := NewResponseService(repo, executions, tasks, instructionSvc, attachmentListerStub{}, nil, zap.NewNop())

	seedResponseFixtures(executions, tasks, models.ExecutionStatusInProgress)
	require.NoError(t, instructionRepo.Create(context.Background(), &models.TaskInstruction{
		FormTaskID: "t1",
		Type:       models.InstructionTypeImage,
		MediaURL:   strPtr("valve_diagram.png"),
	}))

	resp, err := svc.Create(context.Background(), "exec-1", CreateResponseRequest{FormTaskID: "t1"})
	require.NoError(t, err)
	require.Len(t, resp.TaskSnapshot.Instructions, 1)
	require.NotNil(t, resp.TaskSnapshot.Instructions[0].MediaURL)
	assert.Equal(t, "/media/valve_diagram.png", *resp.TaskSnapshot.Instructions[0].MediaURL)
}
