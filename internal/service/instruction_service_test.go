package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fieldops/forms-api/internal/models"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
)

type instructionRepoStub struct {
	instructions map[string]*models.TaskInstruction
}

func newInstructionRepoStub() *instructionRepoStub {
	return &instructionRepoStub{instructions: map[string]*models.TaskInstruction{}}
}

func (r *instructionRepoStub) Create(ctx context.Context, ins *models.TaskInstruction) error {
	if ins.ID == "" {
		ins.ID = uuid.NewString()
	}
	copied := *ins
	r.instructions[ins.ID] = &copied
	return nil
}

func (r *instructionRepoStub) FindByID(ctx context.Context, id string) (*models.TaskInstruction, error) {
	ins, ok := r.instructions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *ins
	return &copied, nil
}

func (r *instructionRepoStub) ListByTask(ctx context.Context, taskID string) ([]models.TaskInstruction, error) {
	var out []models.TaskInstruction
	for _, ins := range r.instructions {
		if ins.FormTaskID == taskID {
			out = append(out, *ins)
		}
	}
	return out, nil
}

func (r *instructionRepoStub) Update(ctx context.Context, ins *models.TaskInstruction) error {
	if _, ok := r.instructions[ins.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *ins
	r.instructions[ins.ID] = &copied
	return nil
}

func (r *instructionRepoStub) Delete(ctx context.Context, id string) error {
	if _, ok := r.instructions[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.instructions, id)
	return nil
}

type mediaResolverStub struct{}

func (mediaResolverStub) URL(filename string) string {
	if strings.HasPrefix(filename, "http") {
		return filename
	}
	return "/media/" + filename
}

func newInstructionServiceForTest(t *testing.T) (*InstructionService, *instructionRepoStub, *formRepoStub) {
	t.Helper()
	repo := newInstructionRepoStub()
	tasks := newFormRepoStub()
	svc := NewInstructionService(repo, tasks, mediaResolverStub{}, nil, zap.NewNop())
	return svc, repo, tasks
}

func TestInstructionServiceCreateTextRequiresBody(t *testing.T) {
	svc, _, tasks := newInstructionServiceForTest(t)
	formID := "form-1"
	tasks.tasks["t1"] = &models.FormTask{ID: "t1", FormID: &formID, Type: models.TaskTypeQuestion}

	_, err := svc.Create(context.Background(), "t1", CreateInstructionRequest{Type: models.InstructionTypeText})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	ins, err := svc.Create(context.Background(), "t1", CreateInstructionRequest{
		Type: models.InstructionTypeText,
		Body: strPtr("Wear gloves before opening the valve"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, ins.Position)
}

func TestInstructionServiceCreateImageResolvesMedia(t *testing.T) {
	svc, _, tasks := newInstructionServiceForTest(t)
	formID := "form-1"
	tasks.tasks["t1"] = &models.FormTask{ID: "t1", FormID: &formID, Type: models.TaskTypePhoto}

	ins, err := svc.Create(context.Background(), "t1", CreateInstructionRequest{
		Type:     models.InstructionTypeImage,
		MediaURL: strPtr("valve_diagram.png"),
	})
	require.NoError(t, err)
	require.NotNil(t, ins.MediaURL)
	assert.Equal(t, "/media/valve_diagram.png", *ins.MediaURL)
}

func TestInstructionServicePublishedTaskImmutable(t *testing.T) {
	svc, repo, tasks := newInstructionServiceForTest(t)
	versionID := "version-1"
	tasks.tasks["t1"] = &models.FormTask{ID: "t1", FormVersionID: &versionID, Type: models.TaskTypeQuestion}
	repo.instructions["ins-1"] = &models.TaskInstruction{
		ID:         "ins-1",
		FormTaskID: "t1",
		Type:       models.InstructionTypeText,
		Position:   1,
		Body:       strPtr("Frozen guidance"),
	}

	_, err := svc.Create(context.Background(), "t1", CreateInstructionRequest{
		Type: models.InstructionTypeText,
		Body: strPtr("New guidance"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrImmutable.Code, appErrors.FromError(err).Code)

	_, err = svc.Update(context.Background(), "ins-1", UpdateInstructionRequest{
		Type: models.InstructionTypeText,
		Body: strPtr("Edited guidance"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrImmutable.Code, appErrors.FromError(err).Code)

	err = svc.Delete(context.Background(), "ins-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrImmutable.Code, appErrors.FromError(err).Code)
}

func TestInstructionServiceUpdate(t *testing.T) {
	svc, repo, tasks := newInstructionServiceForTest(t)
	formID := "form-1"
	tasks.tasks["t1"] = &models.FormTask{ID: "t1", FormID: &formID, Type: models.TaskTypeQuestion}
	repo.instructions["ins-1"] = &models.TaskInstruction{
		ID:         "ins-1",
		FormTaskID: "t1",
		Type:       models.InstructionTypeText,
		Position:   1,
		Body:       strPtr("Old body"),
	}

	ins, err := svc.Update(context.Background(), "ins-1", UpdateInstructionRequest{
		Type:     models.InstructionTypeText,
		Position: 2,
		Body:     strPtr("New body"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, ins.Position)
	require.NotNil(t, ins.Body)
	assert.Equal(t, "New body", *ins.Body)
}
