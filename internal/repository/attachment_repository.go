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

const attachmentColumns = `id, task_response_id, type, file_path, file_name, mime_type, size_bytes, metadata, uploaded_by, created_at`

// AttachmentRepository persists response attachment metadata.
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository creates a new repository instance.
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Create inserts an attachment row.
func (r *AttachmentRepository) Create(ctx context.Context, att *models.ResponseAttachment) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO response_attachments (id, task_response_id, type, file_path, file_name, mime_type, size_bytes, metadata, uploaded_by, created_at)
VALUES (:id, :task_response_id, :type, :file_path, :file_name, :mime_type, :size_bytes, :metadata, :uploaded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, att); err != nil {
		return fmt.Errorf("create response attachment: %w", err)
	}
	return nil
}

// FindByID returns an attachment row by identifier.
func (r *AttachmentRepository) FindByID(ctx context.Context, id string) (*models.ResponseAttachment, error) {
	const query = `SELECT ` + attachmentColumns + ` FROM response_attachments WHERE id = $1`
	var att models.ResponseAttachment
	if err := r.db.GetContext(ctx, &att, query, id); err != nil {
		return nil, err
	}
	return &att, nil
}

// ListByResponse returns attachments belonging to one response.
func (r *AttachmentRepository) ListByResponse(ctx context.Context, responseID string) ([]models.ResponseAttachment, error) {
	const query = `SELECT ` + attachmentColumns + ` FROM response_attachments WHERE task_response_id = $1 ORDER BY created_at ASC`
	var attachments []models.ResponseAttachment
	if err := r.db.SelectContext(ctx, &attachments, query, responseID); err != nil {
		return nil, fmt.Errorf("list response attachments: %w", err)
	}
	return attachments, nil
}

// Delete removes an attachment row.
func (r *AttachmentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM response_attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete response attachment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
