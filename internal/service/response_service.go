package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/fieldops/forms-api/internal/models"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
)

type responseRepository interface {
	Create(ctx context.Context, resp *models.TaskResponse) error
	FindByID(ctx context.Context, id string) (*models.TaskResponse, error)
	FindByExecutionAndTask(ctx context.Context, executionID, taskID string) (*models.TaskResponse, error)
	ListByExecution(ctx context.Context, executionID string) ([]models.TaskResponse, error)
	Complete(ctx context.Context, id string, payload models.ResponsePayload, respondedAt time.Time) error
}

type executionReader interface {
	FindByID(ctx context.Context, id string) (*models.FormExecution, error)
}

type taskReader interface {
	FindTaskByID(ctx context.Context, id string) (*models.FormTask, error)
}

type responseAttachmentLister interface {
	ListByResponse(ctx context.Context, responseID string) ([]models.ResponseAttachment, error)
}

// CreateResponseRequest opens a response for one task of an execution.
type CreateResponseRequest struct {
	FormTaskID string `json:"form_task_id" validate:"required"`
}

// CompleteResponseRequest carries the answer payload.
type CompleteResponseRequest struct {
	Response models.ResponsePayload `json:"response"`
}

// ResponseService manages task responses and their frozen snapshots.
type ResponseService struct {
	repo         responseRepository
	executions   executionReader
	tasks        taskReader
	instructions instructionLister
	attachments  responseAttachmentLister
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewResponseService constructs the service.
func NewResponseService(repo responseRepository, executions executionReader, tasks taskReader, instructions instructionLister, attachments responseAttachmentLister, validate *validator.Validate, logger *zap.Logger) *ResponseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseService{repo: repo, executions: executions, tasks: tasks, instructions: instructions, attachments: attachments, validator: validate, logger: logger}
}

// Create opens a response row for a task, freezing the task definition into
// the snapshot. Later edits to the task never reach this copy.
func (s *ResponseService) Create(ctx context.Context, executionID string, req CreateResponseRequest) (*models.TaskResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid response payload")
	}
	exec, err := s.loadInProgressExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	task, err := s.tasks.FindTaskByID(ctx, req.FormTaskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	if task.FormVersionID == nil || *task.FormVersionID != exec.FormVersionID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "task does not belong to the execution's form version")
	}
	if existing, err := s.repo.FindByExecutionAndTask(ctx, executionID, task.ID); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "response already exists for this task")
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing response")
	}

	snapshot := models.TaskSnapshot{
		Type:          task.Type,
		Description:   task.Description,
		IsRequired:    task.IsRequired,
		Position:      task.Position,
		Configuration: task.Configuration,
	}
	if s.instructions != nil {
		instructions, err := s.instructions.ListByTask(ctx, task.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task instructions")
		}
		snapshot.Instructions = make([]models.InstructionSnapshot, len(instructions))
		for i, ins := range instructions {
			snapshot.Instructions[i] = models.InstructionSnapshot{
				Type:     ins.Type,
				Position: ins.Position,
				Title:    ins.Title,
				Body:     ins.Body,
				MediaURL: ins.MediaURL,
			}
		}
	}

	resp := &models.TaskResponse{
		FormExecutionID: executionID,
		FormTaskID:      task.ID,
		TaskSnapshot:    snapshot,
	}
	if err := s.repo.Create(ctx, resp); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create response")
	}
	return resp, nil
}

// Complete records the answer and marks the response completed. The payload is
// validated against the frozen snapshot, not the live task.
func (s *ResponseService) Complete(ctx context.Context, responseID string, req CompleteResponseRequest) (*models.TaskResponse, error) {
	resp, err := s.loadResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if resp.IsCompleted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "response already completed")
	}
	if _, err := s.loadInProgressExecution(ctx, resp.FormExecutionID); err != nil {
		return nil, err
	}
	if err := req.Response.ValidateForType(resp.TaskType(), resp.TaskConfiguration()); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	now := time.Now().UTC()
	if err := s.repo.Complete(ctx, responseID, req.Response, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "response already completed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete response")
	}
	resp.Response = &req.Response
	resp.IsCompleted = true
	resp.RespondedAt = &now
	return resp, nil
}

// Get returns a response with its attachments.
func (s *ResponseService) Get(ctx context.Context, id string) (*models.TaskResponse, error) {
	resp, err := s.loadResponse(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.attachments != nil {
		items, err := s.attachments.ListByResponse(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attachments")
		}
		resp.Attachments = items
	}
	return resp, nil
}

// ListByExecution returns all responses of an execution in snapshot order.
func (s *ResponseService) ListByExecution(ctx context.Context, executionID string) ([]models.TaskResponse, error) {
	responses, err := s.repo.ListByExecution(ctx, executionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list responses")
	}
	return responses, nil
}

func (s *ResponseService) loadResponse(ctx context.Context, id string) (*models.TaskResponse, error) {
	resp, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "response not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load response")
	}
	return resp, nil
}

func (s *ResponseService) loadInProgressExecution(ctx context.Context, executionID string) (*models.FormExecution, error) {
	exec, err := s.executions.FindByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "execution not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load execution")
	}
	if exec.Status != models.ExecutionStatusInProgress {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "execution is not in progress")
	}
	return exec, nil
}
