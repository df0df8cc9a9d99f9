package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AttachmentType distinguishes photo evidence from generic file uploads.
type AttachmentType string

const (
	AttachmentTypePhoto AttachmentType = "photo"
	AttachmentTypeFile  AttachmentType = "file"
)

// Valid reports whether the attachment type is supported.
func (t AttachmentType) Valid() bool {
	return t == AttachmentTypePhoto || t == AttachmentTypeFile
}

// AttachmentMetadata holds free-form capture context (camera, geolocation,
// checksum) persisted as JSONB.
type AttachmentMetadata map[string]string

// Value marshals metadata to JSON for persistence.
func (m AttachmentMetadata) Value() (driver.Value, error) {
	if m == nil {
		m = AttachmentMetadata{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal attachment metadata: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the metadata map.
func (m *AttachmentMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = AttachmentMetadata{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for AttachmentMetadata", value)
	}
	if len(data) == 0 {
		*m = AttachmentMetadata{}
		return nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("unmarshal attachment metadata: %w", err)
	}
	return nil
}

// ResponseAttachment is a stored file belonging to one task response.
// The database row is authoritative; removal of the physical file is
// best-effort.
type ResponseAttachment struct {
	ID             string             `db:"id" json:"id"`
	TaskResponseID string             `db:"task_response_id" json:"task_response_id"`
	Type           AttachmentType     `db:"type" json:"type"`
	FilePath       string             `db:"file_path" json:"file_path"`
	FileName       string             `db:"file_name" json:"file_name"`
	MimeType       string             `db:"mime_type" json:"mime_type"`
	SizeBytes      int64              `db:"size_bytes" json:"size_bytes"`
	Metadata       AttachmentMetadata `db:"metadata" json:"metadata,omitempty"`
	UploadedBy     string             `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt      time.Time          `db:"created_at" json:"created_at"`
}
