package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TaskType enumerates the supported task kinds within a form.
type TaskType string

const (
	TaskTypeQuestion       TaskType = "question"
	TaskTypeMultipleChoice TaskType = "multiple_choice"
	TaskTypeMultipleSelect TaskType = "multiple_select"
	TaskTypeMeasurement    TaskType = "measurement"
	TaskTypePhoto          TaskType = "photo"
	TaskTypeCodeReader     TaskType = "code_reader"
	TaskTypeFileUpload     TaskType = "file_upload"
)

// Valid reports whether the task type is one of the supported kinds.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeQuestion, TaskTypeMultipleChoice, TaskTypeMultipleSelect,
		TaskTypeMeasurement, TaskTypePhoto, TaskTypeCodeReader, TaskTypeFileUpload:
		return true
	}
	return false
}

// TaskConfiguration holds the type-dependent task settings persisted as JSONB.
// Only the fields relevant to the owning task's type are populated.
type TaskConfiguration struct {
	// question
	MaxLength   int    `json:"max_length,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	// multiple_choice / multiple_select
	Options       []string `json:"options,omitempty"`
	MinSelections int      `json:"min_selections,omitempty"`
	MaxSelections int      `json:"max_selections,omitempty"`
	// measurement
	Unit     string   `json:"unit,omitempty"`
	MinValue *float64 `json:"min_value,omitempty"`
	MaxValue *float64 `json:"max_value,omitempty"`
	// photo
	MaxPhotos int `json:"max_photos,omitempty"`
	// code_reader
	CodeFormat string `json:"code_format,omitempty"`
	// file_upload
	AllowedMIMEs []string `json:"allowed_mimes,omitempty"`
	MaxFileSize  int64    `json:"max_file_size,omitempty"`
}

// ValidateForType checks the configuration shape against the task type.
func (c TaskConfiguration) ValidateForType(t TaskType) error {
	switch t {
	case TaskTypeMultipleChoice, TaskTypeMultipleSelect:
		if len(c.Options) < 2 {
			return fmt.Errorf("%s task requires at least two options", t)
		}
		if t == TaskTypeMultipleSelect && c.MaxSelections > 0 && c.MaxSelections < c.MinSelections {
			return fmt.Errorf("max_selections must be >= min_selections")
		}
	case TaskTypeMeasurement:
		if c.Unit == "" {
			return fmt.Errorf("measurement task requires a unit")
		}
		if c.MinValue != nil && c.MaxValue != nil && *c.MaxValue < *c.MinValue {
			return fmt.Errorf("max_value must be >= min_value")
		}
	}
	return nil
}

// Value marshals the configuration to JSON for persistence.
func (c TaskConfiguration) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal task configuration: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the configuration struct.
func (c *TaskConfiguration) Scan(value interface{}) error {
	if value == nil {
		*c = TaskConfiguration{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for TaskConfiguration", value)
	}
	if len(data) == 0 {
		*c = TaskConfiguration{}
		return nil
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("unmarshal task configuration: %w", err)
	}
	return nil
}

// Form is a named container of draft tasks. Published snapshots live in
// form_versions; CurrentVersionID points at the active one, if any.
type Form struct {
	ID               string     `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	Description      *string    `db:"description" json:"description,omitempty"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	CurrentVersionID *string    `db:"current_version_id" json:"current_version_id,omitempty"`
	CreatedBy        string     `db:"created_by" json:"created_by"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt        *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`

	DraftTasks []FormTask `db:"-" json:"draft_tasks,omitempty"`
}

// FormTask is an ordered task. Exactly one of FormID (draft) and
// FormVersionID (published) is set; a version-bound task is read-only.
type FormTask struct {
	ID            string            `db:"id" json:"id"`
	FormID        *string           `db:"form_id" json:"form_id,omitempty"`
	FormVersionID *string           `db:"form_version_id" json:"form_version_id,omitempty"`
	Position      int               `db:"position" json:"position"`
	Type          TaskType          `db:"type" json:"type"`
	Description   string            `db:"description" json:"description"`
	IsRequired    bool              `db:"is_required" json:"is_required"`
	Configuration TaskConfiguration `db:"configuration" json:"configuration"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`

	Instructions []TaskInstruction `db:"-" json:"instructions,omitempty"`
}

// IsDraft reports whether the task may still be modified.
func (t *FormTask) IsDraft() bool {
	return t.FormVersionID == nil
}

// FormVersion is an immutable, numbered snapshot of a form's tasks taken at
// publish time. Only the deactivation path may write to a published row.
type FormVersion struct {
	ID            string    `db:"id" json:"id"`
	FormID        string    `db:"form_id" json:"form_id"`
	VersionNumber int       `db:"version_number" json:"version_number"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	PublishedAt   time.Time `db:"published_at" json:"published_at"`
	PublishedBy   string    `db:"published_by" json:"published_by"`

	Tasks []FormTask `db:"-" json:"tasks,omitempty"`
}

// FormFilter narrows form listing queries.
type FormFilter struct {
	Active         *bool
	CreatedBy      string
	Search         string
	IncludeDeleted bool
	Page           int
	PageSize       int
}
