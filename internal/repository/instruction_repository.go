package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fieldops/forms-api/internal/models"
)

const instructionColumns = `id, form_task_id, type, position, title, body, media_url, created_at, updated_at`

// InstructionRepository persists task instructions.
type InstructionRepository struct {
	db *sqlx.DB
}

// NewInstructionRepository creates a new repository instance.
func NewInstructionRepository(db *sqlx.DB) *InstructionRepository {
	return &InstructionRepository{db: db}
}

// Create inserts an instruction row.
func (r *InstructionRepository) Create(ctx context.Context, ins *models.TaskInstruction) error {
	if ins.ID == "" {
		ins.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ins.CreatedAt.IsZero() {
		ins.CreatedAt = now
	}
	ins.UpdatedAt = now
	const query = `INSERT INTO task_instructions (id, form_task_id, type, position, title, body, media_url, created_at, updated_at)
VALUES (:id, :form_task_id, :type, :position, :title, :body, :media_url, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, ins); err != nil {
		return fmt.Errorf("create task instruction: %w", err)
	}
	return nil
}

// FindByID returns an instruction row by identifier.
func (r *InstructionRepository) FindByID(ctx context.Context, id string) (*models.TaskInstruction, error) {
	const query = `SELECT ` + instructionColumns + ` FROM task_instructions WHERE id = $1`
	var ins models.TaskInstruction
	if err := r.db.GetContext(ctx, &ins, query, id); err != nil {
		return nil, err
	}
	return &ins, nil
}

// ListByTask returns instructions of a task ordered by position.
func (r *InstructionRepository) ListByTask(ctx context.Context, taskID string) ([]models.TaskInstruction, error) {
	const query = `SELECT ` + instructionColumns + ` FROM task_instructions WHERE form_task_id = $1 ORDER BY position ASC`
	var instructions []models.TaskInstruction
	if err := r.db.SelectContext(ctx, &instructions, query, taskID); err != nil {
		return nil, fmt.Errorf("list task instructions: %w", err)
	}
	return instructions, nil
}

// Update persists instruction changes.
func (r *InstructionRepository) Update(ctx context.Context, ins *models.TaskInstruction) error {
	ins.UpdatedAt = time.Now().UTC()
	const query = `UPDATE task_instructions SET type = :type, position = :position, title = :title, body = :body, media_url = :media_url, updated_at = :updated_at
WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, ins)
	if err != nil {
		return fmt.Errorf("update task instruction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an instruction row.
func (r *InstructionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM task_instructions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task instruction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
