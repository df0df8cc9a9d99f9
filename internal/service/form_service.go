package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/fieldops/forms-api/internal/models"
	"github.com/fieldops/forms-api/internal/repository"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
)

type formRepository interface {
	Create(ctx context.Context, form *models.Form) error
	FindByID(ctx context.Context, id string, includeDeleted bool) (*models.Form, error)
	List(ctx context.Context, filter models.FormFilter) ([]models.Form, int, error)
	Update(ctx context.Context, form *models.Form) error
	SoftDelete(ctx context.Context, id string, deletedAt time.Time) error
	ListDraftTasks(ctx context.Context, formID string) ([]models.FormTask, error)
	FindTaskByID(ctx context.Context, id string) (*models.FormTask, error)
	CreateTask(ctx context.Context, task *models.FormTask) error
	UpdateTask(ctx context.Context, task *models.FormTask) error
	DeleteTask(ctx context.Context, id string) error
	Publish(ctx context.Context, formID, publishedBy string) (*models.FormVersion, error)
	FindVersionByID(ctx context.Context, id string) (*models.FormVersion, error)
	FindActiveVersion(ctx context.Context, formID string) (*models.FormVersion, error)
	ListVersions(ctx context.Context, formID string) ([]models.FormVersion, error)
}

type instructionLister interface {
	ListByTask(ctx context.Context, taskID string) ([]models.TaskInstruction, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateFormRequest handles form creation payload.
type CreateFormRequest struct {
	Name        string  `json:"name" validate:"required,min=3,max=200"`
	Description *string `json:"description"`
}

// UpdateFormRequest handles form metadata updates.
type UpdateFormRequest struct {
	Name        string  `json:"name" validate:"required,min=3,max=200"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// CreateTaskRequest handles draft task creation payload.
type CreateTaskRequest struct {
	Position      int                      `json:"position"`
	Type          models.TaskType          `json:"type" validate:"required"`
	Description   string                   `json:"description" validate:"required,max=1000"`
	IsRequired    bool                     `json:"is_required"`
	Configuration models.TaskConfiguration `json:"configuration"`
}

// UpdateTaskRequest handles draft task updates.
type UpdateTaskRequest struct {
	Position      int                      `json:"position"`
	Type          models.TaskType          `json:"type" validate:"required"`
	Description   string                   `json:"description" validate:"required,max=1000"`
	IsRequired    bool                     `json:"is_required"`
	Configuration models.TaskConfiguration `json:"configuration"`
}

// FormService manages forms, draft tasks and published versions.
type FormService struct {
	repo         formRepository
	instructions instructionLister
	audit        auditWriter
	cache        *CacheService
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewFormService constructs the service.
func NewFormService(repo formRepository, instructions instructionLister, audit auditWriter, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *FormService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FormService{repo: repo, instructions: instructions, audit: audit, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

func activeVersionCacheKey(formID string) string {
	return fmt.Sprintf("form:%s:active_version", formID)
}

// List returns forms matching the filter.
func (s *FormService) List(ctx context.Context, filter models.FormFilter) ([]models.Form, int, error) {
	forms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list forms")
	}
	return forms, total, nil
}

// Get returns a form with its draft tasks and their instructions.
func (s *FormService) Get(ctx context.Context, id string) (*models.Form, error) {
	form, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "form not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form")
	}
	if err := s.attachInstructions(ctx, form.DraftTasks); err != nil {
		return nil, err
	}
	return form, nil
}

// Create inserts a new form without tasks.
func (s *FormService) Create(ctx context.Context, req CreateFormRequest, createdBy string) (*models.Form, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid form payload")
	}
	form := &models.Form{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    true,
		CreatedBy:   createdBy,
	}
	if err := s.repo.Create(ctx, form); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create form")
	}
	return form, nil
}

// Update modifies form metadata. Draft tasks and published versions are not
// affected.
func (s *FormService) Update(ctx context.Context, id string, req UpdateFormRequest) (*models.Form, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid form payload")
	}
	form, err := s.repo.FindByID(ctx, id, false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "form not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form")
	}
	form.Name = req.Name
	form.Description = req.Description
	if req.IsActive != nil {
		form.IsActive = *req.IsActive
	}
	if err := s.repo.Update(ctx, form); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update form")
	}
	return form, nil
}

// Delete soft-deletes a form. Published versions and past executions stay
// readable.
func (s *FormService) Delete(ctx context.Context, id, deletedBy string) error {
	if err := s.repo.SoftDelete(ctx, id, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "form not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete form")
	}
	s.writeAudit(ctx, deletedBy, models.AuditActionFormDelete, id)
	s.invalidateFormCache(ctx, id)
	return nil
}

// AddTask appends a draft task to the form.
func (s *FormService) AddTask(ctx context.Context, formID string, req CreateTaskRequest) (*models.FormTask, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported task type %s", req.Type))
	}
	if err := req.Configuration.ValidateForType(req.Type); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if _, err := s.repo.FindByID(ctx, formID, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "form not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form")
	}
	position := req.Position
	if position <= 0 {
		drafts, err := s.repo.ListDraftTasks(ctx, formID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list draft tasks")
		}
		position = len(drafts) + 1
	}
	task := &models.FormTask{
		FormID:        &formID,
		Position:      position,
		Type:          req.Type,
		Description:   req.Description,
		IsRequired:    req.IsRequired,
		Configuration: req.Configuration,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create task")
	}
	return task, nil
}

// UpdateTask modifies a draft task. Tasks bound to a published version are
// immutable.
func (s *FormService) UpdateTask(ctx context.Context, taskID string, req UpdateTaskRequest) (*models.FormTask, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported task type %s", req.Type))
	}
	if err := req.Configuration.ValidateForType(req.Type); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	task, err := s.loadDraftTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if req.Position > 0 {
		task.Position = req.Position
	}
	task.Type = req.Type
	task.Description = req.Description
	task.IsRequired = req.IsRequired
	task.Configuration = req.Configuration
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrImmutable, "task belongs to a published version")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update task")
	}
	return task, nil
}

// DeleteTask removes a draft task together with its instructions.
func (s *FormService) DeleteTask(ctx context.Context, taskID string) error {
	if _, err := s.loadDraftTask(ctx, taskID); err != nil {
		return err
	}
	if err := s.repo.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrImmutable, "task belongs to a published version")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete task")
	}
	return nil
}

// Publish snapshots the draft tasks into a new immutable version and makes it
// the active one.
func (s *FormService) Publish(ctx context.Context, formID, publishedBy string) (*models.FormVersion, error) {
	version, err := s.repo.Publish(ctx, formID, publishedBy)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "form not found")
		case errors.Is(err, repository.ErrNoDraftTasks):
			return nil, appErrors.Clone(appErrors.ErrValidation, "form has no draft tasks to publish")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish form")
		}
	}
	if err := s.attachInstructions(ctx, version.Tasks); err != nil {
		return nil, err
	}
	s.metrics.RecordFormPublished()
	s.writeAudit(ctx, publishedBy, models.AuditActionFormPublish, formID)
	s.invalidateFormCache(ctx, formID)
	s.logger.Info("form published",
		zap.String("form_id", formID),
		zap.String("version_id", version.ID),
		zap.Int("version_number", version.VersionNumber))
	return version, nil
}

// ListVersions returns all published versions of a form, newest first.
func (s *FormService) ListVersions(ctx context.Context, formID string) ([]models.FormVersion, error) {
	if _, err := s.repo.FindByID(ctx, formID, true); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "form not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form")
	}
	versions, err := s.repo.ListVersions(ctx, formID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list versions")
	}
	return versions, nil
}

// GetVersion returns one published version with its tasks.
func (s *FormService) GetVersion(ctx context.Context, versionID string) (*models.FormVersion, error) {
	version, err := s.repo.FindVersionByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "form version not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form version")
	}
	if err := s.attachInstructions(ctx, version.Tasks); err != nil {
		return nil, err
	}
	return version, nil
}

// GetActiveVersion returns the version offered for new executions, served from
// cache when possible. The second return reports whether the cache served it.
func (s *FormService) GetActiveVersion(ctx context.Context, formID string) (*models.FormVersion, bool, error) {
	key := activeVersionCacheKey(formID)
	var cached models.FormVersion
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, true, nil
	}
	version, err := s.repo.FindActiveVersion(ctx, formID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "form has no published version")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active version")
	}
	if err := s.attachInstructions(ctx, version.Tasks); err != nil {
		return nil, false, err
	}
	if err := s.cache.Set(ctx, key, version, 0); err != nil {
		s.logger.Debug("active version cache store failed", zap.String("form_id", formID), zap.Error(err))
	}
	return version, false, nil
}

func (s *FormService) loadDraftTask(ctx context.Context, taskID string) (*models.FormTask, error) {
	task, err := s.repo.FindTaskByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	if !task.IsDraft() {
		return nil, appErrors.Clone(appErrors.ErrImmutable, "task belongs to a published version")
	}
	return task, nil
}

func (s *FormService) attachInstructions(ctx context.Context, tasks []models.FormTask) error {
	if s.instructions == nil {
		return nil
	}
	for i := range tasks {
		instructions, err := s.instructions.ListByTask(ctx, tasks[i].ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task instructions")
		}
		tasks[i].Instructions = instructions
	}
	return nil
}

func (s *FormService) writeAudit(ctx context.Context, userID, action, resourceID string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "form",
		ResourceID: &resourceID,
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *FormService) invalidateFormCache(ctx context.Context, formID string) {
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("form:%s:*", formID)); err != nil {
		s.logger.Warn("form cache invalidation failed", zap.String("form_id", formID), zap.Error(err))
	}
}
