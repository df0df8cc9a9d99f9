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

const responseColumns = `id, form_execution_id, form_task_id, task_snapshot, response, is_completed, responded_at, created_at, updated_at`

// ResponseRepository persists task responses and their frozen snapshots.
type ResponseRepository struct {
	db *sqlx.DB
}

// NewResponseRepository creates a new repository instance.
func NewResponseRepository(db *sqlx.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// Create inserts a response row. The task snapshot is written once here and
// never updated afterwards.
func (r *ResponseRepository) Create(ctx context.Context, resp *models.TaskResponse) error {
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = now
	}
	resp.UpdatedAt = now
	const query = `INSERT INTO task_responses (id, form_execution_id, form_task_id, task_snapshot, response, is_completed, responded_at, created_at, updated_at)
VALUES (:id, :form_execution_id, :form_task_id, :task_snapshot, :response, :is_completed, :responded_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, resp); err != nil {
		return fmt.Errorf("create task response: %w", err)
	}
	return nil
}

// FindByID returns a response row by identifier.
func (r *ResponseRepository) FindByID(ctx context.Context, id string) (*models.TaskResponse, error) {
	const query = `SELECT ` + responseColumns + ` FROM task_responses WHERE id = $1`
	var resp models.TaskResponse
	if err := r.db.GetContext(ctx, &resp, query, id); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FindByExecutionAndTask returns the response for one task of an execution.
func (r *ResponseRepository) FindByExecutionAndTask(ctx context.Context, executionID, taskID string) (*models.TaskResponse, error) {
	const query = `SELECT ` + responseColumns + ` FROM task_responses WHERE form_execution_id = $1 AND form_task_id = $2 LIMIT 1`
	var resp models.TaskResponse
	if err := r.db.GetContext(ctx, &resp, query, executionID, taskID); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListByExecution returns all responses of an execution ordered by the
// snapshot position.
func (r *ResponseRepository) ListByExecution(ctx context.Context, executionID string) ([]models.TaskResponse, error) {
	const query = `SELECT ` + responseColumns + ` FROM task_responses WHERE form_execution_id = $1 ORDER BY (task_snapshot->>'position')::int ASC`
	var responses []models.TaskResponse
	if err := r.db.SelectContext(ctx, &responses, query, executionID); err != nil {
		return nil, fmt.Errorf("list task responses: %w", err)
	}
	return responses, nil
}

// Complete sets the answer payload, completion flag and timestamp in a single
// update. It only matches rows that are not yet completed.
func (r *ResponseRepository) Complete(ctx context.Context, id string, payload models.ResponsePayload, respondedAt time.Time) error {
	const query = `UPDATE task_responses SET response = $2, is_completed = TRUE, responded_at = $3, updated_at = $3
WHERE id = $1 AND NOT is_completed`
	res, err := r.db.ExecContext(ctx, query, id, payload, respondedAt)
	if err != nil {
		return fmt.Errorf("complete task response: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
