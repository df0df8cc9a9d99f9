package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/fieldops/forms-api/internal/models"
	appErrors "github.com/fieldops/forms-api/pkg/errors"
)

type instructionRepository interface {
	Create(ctx context.Context, ins *models.TaskInstruction) error
	FindByID(ctx context.Context, id string) (*models.TaskInstruction, error)
	ListByTask(ctx context.Context, taskID string) ([]models.TaskInstruction, error)
	Update(ctx context.Context, ins *models.TaskInstruction) error
	Delete(ctx context.Context, id string) error
}

type mediaResolver interface {
	URL(filename string) string
}

// CreateInstructionRequest handles instruction creation payload.
type CreateInstructionRequest struct {
	Type     models.InstructionType `json:"type" validate:"required"`
	Position int                    `json:"position"`
	Title    *string                `json:"title"`
	Body     *string                `json:"body"`
	MediaURL *string                `json:"media_url"`
}

// UpdateInstructionRequest handles instruction updates.
type UpdateInstructionRequest struct {
	Type     models.InstructionType `json:"type" validate:"required"`
	Position int                    `json:"position"`
	Title    *string                `json:"title"`
	Body     *string                `json:"body"`
	MediaURL *string                `json:"media_url"`
}

// InstructionService manages task instructions. Instructions follow the same
// mutability rule as their task: once the task is version-bound they are
// frozen.
type InstructionService struct {
	repo      instructionRepository
	tasks     taskReader
	media     mediaResolver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewInstructionService constructs the service.
func NewInstructionService(repo instructionRepository, tasks taskReader, media mediaResolver, validate *validator.Validate, logger *zap.Logger) *InstructionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstructionService{repo: repo, tasks: tasks, media: media, validator: validate, logger: logger}
}

// Create attaches an instruction to a draft task.
func (s *InstructionService) Create(ctx context.Context, taskID string, req CreateInstructionRequest) (*models.TaskInstruction, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid instruction payload")
	}
	if err := validateInstructionShape(req.Type, req.Body, req.MediaURL); err != nil {
		return nil, err
	}
	if err := s.ensureDraftTask(ctx, taskID); err != nil {
		return nil, err
	}
	position := req.Position
	if position <= 0 {
		existing, err := s.repo.ListByTask(ctx, taskID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list instructions")
		}
		position = len(existing) + 1
	}
	ins := &models.TaskInstruction{
		FormTaskID: taskID,
		Type:       req.Type,
		Position:   position,
		Title:      req.Title,
		Body:       req.Body,
		MediaURL:   req.MediaURL,
	}
	if err := s.repo.Create(ctx, ins); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create instruction")
	}
	s.resolveMedia(ins)
	return ins, nil
}

// ListByTask returns the instructions of a task with media URLs resolved.
func (s *InstructionService) ListByTask(ctx context.Context, taskID string) ([]models.TaskInstruction, error) {
	if _, err := s.tasks.FindTaskByID(ctx, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	instructions, err := s.repo.ListByTask(ctx, taskID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list instructions")
	}
	for i := range instructions {
		s.resolveMedia(&instructions[i])
	}
	return instructions, nil
}

// Update modifies an instruction of a draft task.
func (s *InstructionService) Update(ctx context.Context, id string, req UpdateInstructionRequest) (*models.TaskInstruction, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid instruction payload")
	}
	if err := validateInstructionShape(req.Type, req.Body, req.MediaURL); err != nil {
		return nil, err
	}
	ins, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.ensureDraftTask(ctx, ins.FormTaskID); err != nil {
		return nil, err
	}
	ins.Type = req.Type
	if req.Position > 0 {
		ins.Position = req.Position
	}
	ins.Title = req.Title
	ins.Body = req.Body
	ins.MediaURL = req.MediaURL
	if err := s.repo.Update(ctx, ins); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instruction not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update instruction")
	}
	s.resolveMedia(ins)
	return ins, nil
}

// Delete removes an instruction of a draft task.
func (s *InstructionService) Delete(ctx context.Context, id string) error {
	ins, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.ensureDraftTask(ctx, ins.FormTaskID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "instruction not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete instruction")
	}
	return nil
}

func (s *InstructionService) load(ctx context.Context, id string) (*models.TaskInstruction, error) {
	ins, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instruction not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instruction")
	}
	return ins, nil
}

func (s *InstructionService) ensureDraftTask(ctx context.Context, taskID string) error {
	task, err := s.tasks.FindTaskByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "task not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task")
	}
	if !task.IsDraft() {
		return appErrors.Clone(appErrors.ErrImmutable, "task belongs to a published version")
	}
	return nil
}

func (s *InstructionService) resolveMedia(ins *models.TaskInstruction) {
	if s.media == nil || ins.MediaURL == nil || *ins.MediaURL == "" {
		return
	}
	resolved := s.media.URL(*ins.MediaURL)
	ins.MediaURL = &resolved
}

func validateInstructionShape(t models.InstructionType, body, mediaURL *string) error {
	if !t.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported instruction type %s", t))
	}
	switch t {
	case models.InstructionTypeText:
		if body == nil || *body == "" {
			return appErrors.Clone(appErrors.ErrValidation, "text instruction requires a body")
		}
	case models.InstructionTypeImage, models.InstructionTypeVideo:
		if mediaURL == nil || *mediaURL == "" {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s instruction requires a media URL", t))
		}
	}
	return nil
}
