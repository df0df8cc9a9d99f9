package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fieldops/forms-api/internal/models"
)

const executionColumns = `id, form_version_id, user_id, status, started_at, completed_at, created_at, updated_at`

// ExecutionRepository persists form execution lifecycle state.
type ExecutionRepository struct {
	db *sqlx.DB
}

// NewExecutionRepository creates a new repository instance.
func NewExecutionRepository(db *sqlx.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// Create inserts a new execution row in pending state.
func (r *ExecutionRepository) Create(ctx context.Context, exec *models.FormExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.Status == "" {
		exec.Status = models.ExecutionStatusPending
	}
	now := time.Now().UTC()
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = now
	}
	exec.UpdatedAt = now
	const query = `INSERT INTO form_executions (id, form_version_id, user_id, status, started_at, completed_at, created_at, updated_at)
VALUES (:id, :form_version_id, :user_id, :status, :started_at, :completed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, exec); err != nil {
		return fmt.Errorf("create form execution: %w", err)
	}
	return nil
}

// FindByID returns an execution row by identifier.
func (r *ExecutionRepository) FindByID(ctx context.Context, id string) (*models.FormExecution, error) {
	const query = `SELECT ` + executionColumns + ` FROM form_executions WHERE id = $1`
	var exec models.FormExecution
	if err := r.db.GetContext(ctx, &exec, query, id); err != nil {
		return nil, err
	}
	return &exec, nil
}

// List returns executions matching the filter.
func (r *ExecutionRepository) List(ctx context.Context, filter models.ExecutionFilter) ([]models.FormExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM form_executions WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.FormVersionID != "" {
		conditions = append(conditions, fmt.Sprintf("form_version_id = $%d", len(args)+1))
		args = append(args, filter.FormVersionID)
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	var execs []models.FormExecution
	if err := r.db.SelectContext(ctx, &execs, query, args...); err != nil {
		return nil, fmt.Errorf("list form executions: %w", err)
	}
	return execs, nil
}

// UpdateExecutionParams defines the mutable lifecycle fields. FromStatus,
// when set, turns the write into a compare-and-set: the row must still hold
// that status or the update reports sql.ErrNoRows.
type UpdateExecutionParams struct {
	Status      *models.ExecutionStatus
	FromStatus  *models.ExecutionStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Update persists the provided lifecycle changes.
func (r *ExecutionRepository) Update(ctx context.Context, id string, params UpdateExecutionParams) error {
	set := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.StartedAt != nil {
		set = append(set, fmt.Sprintf("started_at = $%d", argPos))
		args = append(args, *params.StartedAt)
		argPos++
	}
	if params.CompletedAt != nil {
		set = append(set, fmt.Sprintf("completed_at = $%d", argPos))
		args = append(args, *params.CompletedAt)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}
	set = append(set, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now().UTC())
	argPos++

	query := fmt.Sprintf("UPDATE form_executions SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)
	argPos++

	if params.FromStatus != nil {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *params.FromStatus)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update form execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update form execution: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountVersionTasks returns the number of tasks bound to a version.
func (r *ExecutionRepository) CountVersionTasks(ctx context.Context, versionID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM form_tasks WHERE form_version_id = $1`, versionID); err != nil {
		return 0, fmt.Errorf("count version tasks: %w", err)
	}
	return count, nil
}

// CountCompletedResponses returns how many responses of the execution are complete.
func (r *ExecutionRepository) CountCompletedResponses(ctx context.Context, executionID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM task_responses WHERE form_execution_id = $1 AND is_completed`, executionID); err != nil {
		return 0, fmt.Errorf("count completed responses: %w", err)
	}
	return count, nil
}

// ListMissingRequiredTasks returns the required version tasks that have no
// completed response within the execution.
func (r *ExecutionRepository) ListMissingRequiredTasks(ctx context.Context, executionID, versionID string) ([]models.FormTask, error) {
	const query = `SELECT ` + taskColumns + ` FROM form_tasks t
WHERE t.form_version_id = $2 AND t.is_required
  AND NOT EXISTS (
    SELECT 1 FROM task_responses r
    WHERE r.form_execution_id = $1 AND r.form_task_id = t.id AND r.is_completed
  )
ORDER BY t.position ASC`
	var tasks []models.FormTask
	if err := r.db.SelectContext(ctx, &tasks, query, executionID, versionID); err != nil {
		return nil, fmt.Errorf("list missing required tasks: %w", err)
	}
	return tasks, nil
}
