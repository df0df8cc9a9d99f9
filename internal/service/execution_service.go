package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/fieldops/forms-api/internal/models"
	"github.com/fieldops/forms-api/internal/repository"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
)

type executionRepository interface {
	Create(ctx context.Context, exec *models.FormExecution) error
	FindByID(ctx context.Context, id string) (*models.FormExecution, error)
	List(ctx context.Context, filter models.ExecutionFilter) ([]models.FormExecution, error)
	Update(ctx context.Context, id string, params repository.UpdateExecutionParams) error
	CountVersionTasks(ctx context.Context, versionID string) (int, error)
	CountCompletedResponses(ctx context.Context, executionID string) (int, error)
	ListMissingRequiredTasks(ctx context.Context, executionID, versionID string) ([]models.FormTask, error)
}

type versionReader interface {
	FindVersionByID(ctx context.Context, id string) (*models.FormVersion, error)
}

type executionResponseLister interface {
	ListByExecution(ctx context.Context, executionID string) ([]models.TaskResponse, error)
}

// CreateExecutionRequest handles execution creation payload.
type CreateExecutionRequest struct {
	FormVersionID string `json:"form_version_id" validate:"required"`
}

// ExecutionService drives the execution lifecycle: pending, in_progress,
// completed, with cancellation allowed from any non-terminal state.
type ExecutionService struct {
	repo      executionRepository
	versions  versionReader
	responses executionResponseLister
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewExecutionService constructs the service.
func NewExecutionService(repo executionRepository, versions versionReader, responses executionResponseLister, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ExecutionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionService{repo: repo, versions: versions, responses: responses, metrics: metrics, validator: validate, logger: logger}
}

// Create opens a new pending execution against a published version.
func (s *ExecutionService) Create(ctx context.Context, req CreateExecutionRequest, userID string) (*models.FormExecution, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid execution payload")
	}
	if _, err := s.versions.FindVersionByID(ctx, req.FormVersionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "form version not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form version")
	}
	exec := &models.FormExecution{
		FormVersionID: req.FormVersionID,
		UserID:        userID,
		Status:        models.ExecutionStatusPending,
	}
	if err := s.repo.Create(ctx, exec); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create execution")
	}
	return exec, nil
}

// Get returns an execution with its responses attached.
func (s *ExecutionService) Get(ctx context.Context, id string) (*models.FormExecution, error) {
	exec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.responses != nil {
		responses, err := s.responses.ListByExecution(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load responses")
		}
		exec.Responses = responses
	}
	return exec, nil
}

// List returns executions matching the filter.
func (s *ExecutionService) List(ctx context.Context, filter models.ExecutionFilter) ([]models.FormExecution, error) {
	execs, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list executions")
	}
	return execs, nil
}

// Start transitions a pending execution to in_progress and stamps StartedAt.
// Starting an execution that is already in progress is a no-op.
func (s *ExecutionService) Start(ctx context.Context, id string) (*models.FormExecution, error) {
	exec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status == models.ExecutionStatusInProgress {
		return exec, nil
	}
	if !exec.Status.CanTransitionTo(models.ExecutionStatusInProgress) {
		return nil, transitionError(exec.Status, models.ExecutionStatusInProgress)
	}
	now := time.Now().UTC()
	status := models.ExecutionStatusInProgress
	from := exec.Status
	if err := s.repo.Update(ctx, id, repository.UpdateExecutionParams{Status: &status, FromStatus: &from, StartedAt: &now}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transitionError(from, status)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start execution")
	}
	exec.Status = status
	exec.StartedAt = &now
	return exec, nil
}

// Complete transitions an in_progress execution to completed. Completion is
// refused while required tasks lack a completed response; the offending tasks
// are attached to the error.
func (s *ExecutionService) Complete(ctx context.Context, id string) (*models.FormExecution, error) {
	exec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exec.Status.CanTransitionTo(models.ExecutionStatusCompleted) {
		return nil, transitionError(exec.Status, models.ExecutionStatusCompleted)
	}
	missing, err := s.repo.ListMissingRequiredTasks(ctx, id, exec.FormVersionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check required tasks")
	}
	if len(missing) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrIncompleteExecution, missing)
	}
	now := time.Now().UTC()
	status := models.ExecutionStatusCompleted
	from := exec.Status
	if err := s.repo.Update(ctx, id, repository.UpdateExecutionParams{Status: &status, FromStatus: &from, CompletedAt: &now}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transitionError(from, status)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete execution")
	}
	exec.Status = status
	exec.CompletedAt = &now
	s.metrics.RecordExecutionFinished(status)
	s.logger.Info("execution completed", zap.String("execution_id", id), zap.String("version_id", exec.FormVersionID))
	return exec, nil
}

// Cancel moves a non-terminal execution to cancelled. CompletedAt stays
// empty; cancellation is not completion.
func (s *ExecutionService) Cancel(ctx context.Context, id string) (*models.FormExecution, error) {
	exec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exec.Status.CanTransitionTo(models.ExecutionStatusCancelled) {
		return nil, transitionError(exec.Status, models.ExecutionStatusCancelled)
	}
	status := models.ExecutionStatusCancelled
	from := exec.Status
	if err := s.repo.Update(ctx, id, repository.UpdateExecutionParams{Status: &status, FromStatus: &from}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, transitionError(from, status)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel execution")
	}
	exec.Status = status
	s.metrics.RecordExecutionFinished(status)
	return exec, nil
}

// Progress reports completion counts and the required tasks still missing a
// completed response.
func (s *ExecutionService) Progress(ctx context.Context, id string) (*models.ExecutionProgress, error) {
	exec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountVersionTasks(ctx, exec.FormVersionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count tasks")
	}
	completed, err := s.repo.CountCompletedResponses(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count responses")
	}
	missing, err := s.repo.ListMissingRequiredTasks(ctx, id, exec.FormVersionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check required tasks")
	}
	progress := &models.ExecutionProgress{
		ExecutionID:        id,
		Status:             exec.Status,
		TotalTasks:         total,
		CompletedResponses: completed,
		MissingRequired:    missing,
	}
	if total > 0 {
		progress.Percentage = (completed*100 + total/2) / total
	}
	return progress, nil
}

func (s *ExecutionService) load(ctx context.Context, id string) (*models.FormExecution, error) {
	exec, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "execution not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load execution")
	}
	return exec, nil
}

func transitionError(from, to models.ExecutionStatus) *appErrors.Error {
	return appErrors.Clone(appErrors.ErrInvalidTransition,
		"cannot transition execution from "+string(from)+" to "+string(to))
}
