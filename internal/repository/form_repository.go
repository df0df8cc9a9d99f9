package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/fieldops/forms-api/internal/models"
)

// ErrNoDraftTasks is returned by Publish when the form has nothing to snapshot.
var ErrNoDraftTasks = errors.New("form has no draft tasks")

const formColumns = `id, name, description, is_active, current_version_id, created_by, created_at, updated_at, deleted_at`

const taskColumns = `id, form_id, form_version_id, position, type, description, is_required, configuration, created_at, updated_at`

const versionColumns = `id, form_id, version_number, is_active, published_at, published_by`

// FormRepository manages forms, their draft tasks and published versions.
type FormRepository struct {
	db *sqlx.DB
}

// NewFormRepository creates a new repository instance.
func NewFormRepository(db *sqlx.DB) *FormRepository {
	return &FormRepository{db: db}
}

// Create inserts a new form row.
func (r *FormRepository) Create(ctx context.Context, form *models.Form) error {
	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if form.CreatedAt.IsZero() {
		form.CreatedAt = now
	}
	form.UpdatedAt = now
	const query = `INSERT INTO forms (id, name, description, is_active, current_version_id, created_by, created_at, updated_at)
VALUES (:id, :name, :description, :is_active, :current_version_id, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, form); err != nil {
		return fmt.Errorf("create form: %w", err)
	}
	return nil
}

// FindByID returns a form with its draft tasks. Soft-deleted forms are
// excluded unless includeDeleted is set.
func (r *FormRepository) FindByID(ctx context.Context, id string, includeDeleted bool) (*models.Form, error) {
	query := `SELECT ` + formColumns + ` FROM forms WHERE id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	var form models.Form
	if err := r.db.GetContext(ctx, &form, query, id); err != nil {
		return nil, err
	}
	tasks, err := r.ListDraftTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	form.DraftTasks = tasks
	return &form, nil
}

// List returns forms matching the filter with total count.
func (r *FormRepository) List(ctx context.Context, filter models.FormFilter) ([]models.Form, int, error) {
	baseQuery := `FROM forms WHERE 1=1`
	var conditions []string
	var args []interface{}

	if !filter.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.CreatedBy != "" {
		conditions = append(conditions, fmt.Sprintf("created_by = $%d", len(args)+1))
		args = append(args, filter.CreatedBy)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count forms: %w", err)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		formColumns, baseQuery, len(args)+1, len(args)+2)
	args = append(args, pageSize, (page-1)*pageSize)

	var forms []models.Form
	if err := r.db.SelectContext(ctx, &forms, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list forms: %w", err)
	}
	return forms, total, nil
}

// Update persists changes to form metadata.
func (r *FormRepository) Update(ctx context.Context, form *models.Form) error {
	form.UpdatedAt = time.Now().UTC()
	const query = `UPDATE forms SET name = :name, description = :description, is_active = :is_active, updated_at = :updated_at
WHERE id = :id AND deleted_at IS NULL`
	if _, err := r.db.NamedExecContext(ctx, query, form); err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	return nil
}

// SoftDelete marks a form deleted, preserving history referenced by versions
// and executions.
func (r *FormRepository) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	const query = `UPDATE forms SET deleted_at = $2, is_active = FALSE, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, deletedAt)
	if err != nil {
		return fmt.Errorf("soft delete form: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListDraftTasks returns the mutable tasks still attached to the form.
func (r *FormRepository) ListDraftTasks(ctx context.Context, formID string) ([]models.FormTask, error) {
	const query = `SELECT ` + taskColumns + ` FROM form_tasks WHERE form_id = $1 AND form_version_id IS NULL ORDER BY position ASC`
	var tasks []models.FormTask
	if err := r.db.SelectContext(ctx, &tasks, query, formID); err != nil {
		return nil, fmt.Errorf("list draft tasks: %w", err)
	}
	return tasks, nil
}

// FindTaskByID returns a task regardless of draft or published state.
func (r *FormRepository) FindTaskByID(ctx context.Context, id string) (*models.FormTask, error) {
	const query = `SELECT ` + taskColumns + ` FROM form_tasks WHERE id = $1`
	var task models.FormTask
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask inserts a draft task.
func (r *FormRepository) CreateTask(ctx context.Context, task *models.FormTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	const query = `INSERT INTO form_tasks (id, form_id, form_version_id, position, type, description, is_required, configuration, created_at, updated_at)
VALUES (:id, :form_id, :form_version_id, :position, :type, :description, :is_required, :configuration, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("create form task: %w", err)
	}
	return nil
}

// UpdateTask persists draft task changes. Version-bound rows are never
// touched: the WHERE clause only matches drafts.
func (r *FormRepository) UpdateTask(ctx context.Context, task *models.FormTask) error {
	task.UpdatedAt = time.Now().UTC()
	const query = `UPDATE form_tasks SET position = :position, type = :type, description = :description, is_required = :is_required, configuration = :configuration, updated_at = :updated_at
WHERE id = :id AND form_version_id IS NULL`
	res, err := r.db.NamedExecContext(ctx, query, task)
	if err != nil {
		return fmt.Errorf("update form task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteTask removes a draft task and its instructions.
func (r *FormRepository) DeleteTask(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_instructions WHERE form_task_id = $1`, id); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete task instructions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM form_tasks WHERE id = $1 AND form_version_id IS NULL`, id)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete form task: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit task delete: %w", err)
	}
	return nil
}

// Publish snapshots the current draft tasks into a new version. The form row
// is locked for the duration of the transaction so concurrent publishes
// serialize instead of racing on the version number; the unique index on
// (form_id, version_number) backs this up.
func (r *FormRepository) Publish(ctx context.Context, formID, publishedBy string) (*models.FormVersion, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	var lockedID string
	if err := tx.GetContext(ctx, &lockedID, `SELECT id FROM forms WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, formID); err != nil {
		return nil, err
	}

	var draftCount int
	if err := tx.GetContext(ctx, &draftCount, `SELECT COUNT(*) FROM form_tasks WHERE form_id = $1 AND form_version_id IS NULL`, formID); err != nil {
		return nil, fmt.Errorf("count draft tasks: %w", err)
	}
	if draftCount == 0 {
		return nil, ErrNoDraftTasks
	}

	var nextNumber int
	if err := tx.GetContext(ctx, &nextNumber, `SELECT COALESCE(MAX(version_number), 0) + 1 FROM form_versions WHERE form_id = $1`, formID); err != nil {
		return nil, fmt.Errorf("next version number: %w", err)
	}

	version := &models.FormVersion{
		ID:            uuid.NewString(),
		FormID:        formID,
		VersionNumber: nextNumber,
		IsActive:      true,
		PublishedAt:   time.Now().UTC(),
		PublishedBy:   publishedBy,
	}

	if _, err := tx.ExecContext(ctx, `UPDATE form_versions SET is_active = FALSE WHERE form_id = $1 AND is_active`, formID); err != nil {
		return nil, fmt.Errorf("deactivate previous version: %w", err)
	}

	const insertVersion = `INSERT INTO form_versions (id, form_id, version_number, is_active, published_at, published_by)
VALUES (:id, :form_id, :version_number, :is_active, :published_at, :published_by)`
	if _, err := tx.NamedExecContext(ctx, insertVersion, version); err != nil {
		return nil, fmt.Errorf("insert form version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE form_tasks SET form_version_id = $2, form_id = NULL, updated_at = $3 WHERE form_id = $1 AND form_version_id IS NULL`,
		formID, version.ID, version.PublishedAt); err != nil {
		return nil, fmt.Errorf("bind draft tasks to version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE forms SET current_version_id = $2, updated_at = $3 WHERE id = $1`,
		formID, version.ID, version.PublishedAt); err != nil {
		return nil, fmt.Errorf("update current version pointer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit publish: %w", err)
	}

	tasks, err := r.ListVersionTasks(ctx, version.ID)
	if err != nil {
		return nil, err
	}
	version.Tasks = tasks
	return version, nil
}

// FindVersionByID returns a published version with its tasks.
func (r *FormRepository) FindVersionByID(ctx context.Context, id string) (*models.FormVersion, error) {
	const query = `SELECT ` + versionColumns + ` FROM form_versions WHERE id = $1`
	var version models.FormVersion
	if err := r.db.GetContext(ctx, &version, query, id); err != nil {
		return nil, err
	}
	tasks, err := r.ListVersionTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	version.Tasks = tasks
	return &version, nil
}

// FindActiveVersion returns the version currently offered for new executions.
func (r *FormRepository) FindActiveVersion(ctx context.Context, formID string) (*models.FormVersion, error) {
	const query = `SELECT ` + versionColumns + ` FROM form_versions WHERE form_id = $1 AND is_active LIMIT 1`
	var version models.FormVersion
	if err := r.db.GetContext(ctx, &version, query, formID); err != nil {
		return nil, err
	}
	tasks, err := r.ListVersionTasks(ctx, version.ID)
	if err != nil {
		return nil, err
	}
	version.Tasks = tasks
	return &version, nil
}

// ListVersions returns all versions of a form, newest first.
func (r *FormRepository) ListVersions(ctx context.Context, formID string) ([]models.FormVersion, error) {
	const query = `SELECT ` + versionColumns + ` FROM form_versions WHERE form_id = $1 ORDER BY version_number DESC`
	var versions []models.FormVersion
	if err := r.db.SelectContext(ctx, &versions, query, formID); err != nil {
		return nil, fmt.Errorf("list form versions: %w", err)
	}
	return versions, nil
}

// ListVersionTasks returns the immutable tasks bound to a version.
func (r *FormRepository) ListVersionTasks(ctx context.Context, versionID string) ([]models.FormTask, error) {
	const query = `SELECT ` + taskColumns + ` FROM form_tasks WHERE form_version_id = $1 ORDER BY position ASC`
	var tasks []models.FormTask
	if err := r.db.SelectContext(ctx, &tasks, query, versionID); err != nil {
		return nil, fmt.Errorf("list version tasks: %w", err)
	}
	return tasks, nil
}
