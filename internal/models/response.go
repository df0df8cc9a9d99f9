package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TaskSnapshot is the frozen copy of a task definition captured when a
// response row is created. It is never refreshed from the live task, so a
// historical response always reflects what the respondent actually saw.
type TaskSnapshot struct {
	Type          TaskType              `json:"type"`
	Description   string                `json:"description"`
	IsRequired    bool                  `json:"is_required"`
	Position      int                   `json:"position"`
	Configuration TaskConfiguration     `json:"configuration"`
	Instructions  []InstructionSnapshot `json:"instructions,omitempty"`
}

// Value marshals the snapshot to JSON for persistence.
func (s TaskSnapshot) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal task snapshot: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the snapshot struct.
func (s *TaskSnapshot) Scan(value interface{}) error {
	if value == nil {
		*s = TaskSnapshot{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for TaskSnapshot", value)
	}
	if len(data) == 0 {
		*s = TaskSnapshot{}
		return nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("unmarshal task snapshot: %w", err)
	}
	return nil
}

// ResponsePayload carries the answer; the populated fields depend on the
// snapshot task type.
type ResponsePayload struct {
	// question
	Text string `json:"text,omitempty"`
	// multiple_choice
	SelectedOption string `json:"selected_option,omitempty"`
	// multiple_select
	SelectedOptions []string `json:"selected_options,omitempty"`
	// measurement
	MeasurementValue *float64 `json:"value,omitempty"`
	// code_reader
	Code string `json:"code,omitempty"`
	// photo / file_upload: files arrive as attachments; the payload only
	// records how many were provided.
	FileCount int `json:"file_count,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// ValidateForType checks the payload shape against the snapshot task type.
func (p ResponsePayload) ValidateForType(t TaskType, cfg TaskConfiguration) error {
	switch t {
	case TaskTypeQuestion:
		if p.Text == "" {
			return fmt.Errorf("question response requires text")
		}
		if cfg.MaxLength > 0 && len(p.Text) > cfg.MaxLength {
			return fmt.Errorf("text exceeds %d characters", cfg.MaxLength)
		}
	case TaskTypeMultipleChoice:
		if p.SelectedOption == "" {
			return fmt.Errorf("multiple_choice response requires a selected option")
		}
		if len(cfg.Options) > 0 && !contains(cfg.Options, p.SelectedOption) {
			return fmt.Errorf("selected option is not one of the configured options")
		}
	case TaskTypeMultipleSelect:
		if len(p.SelectedOptions) == 0 {
			return fmt.Errorf("multiple_select response requires selected options")
		}
		if cfg.MinSelections > 0 && len(p.SelectedOptions) < cfg.MinSelections {
			return fmt.Errorf("at least %d selections required", cfg.MinSelections)
		}
		if cfg.MaxSelections > 0 && len(p.SelectedOptions) > cfg.MaxSelections {
			return fmt.Errorf("at most %d selections allowed", cfg.MaxSelections)
		}
		for _, opt := range p.SelectedOptions {
			if len(cfg.Options) > 0 && !contains(cfg.Options, opt) {
				return fmt.Errorf("selected option %q is not one of the configured options", opt)
			}
		}
	case TaskTypeMeasurement:
		if p.MeasurementValue == nil {
			return fmt.Errorf("measurement response requires a value")
		}
		if cfg.MinValue != nil && *p.MeasurementValue < *cfg.MinValue {
			return fmt.Errorf("value below minimum %v", *cfg.MinValue)
		}
		if cfg.MaxValue != nil && *p.MeasurementValue > *cfg.MaxValue {
			return fmt.Errorf("value above maximum %v", *cfg.MaxValue)
		}
	case TaskTypeCodeReader:
		if p.Code == "" {
			return fmt.Errorf("code_reader response requires a code")
		}
	case TaskTypePhoto, TaskTypeFileUpload:
		if p.FileCount <= 0 {
			return fmt.Errorf("%s response requires at least one attachment", t)
		}
	}
	return nil
}

// Value marshals the payload to JSON for persistence.
func (p ResponsePayload) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal response payload: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the struct.
func (p *ResponsePayload) Scan(value interface{}) error {
	if value == nil {
		*p = ResponsePayload{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ResponsePayload", value)
	}
	if len(data) == 0 {
		*p = ResponsePayload{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal response payload: %w", err)
	}
	return nil
}

// TaskResponse is one answer to one task within an execution. A response is
// absent, in progress (row exists, is_completed=false) or complete; there is
// no partial-completion state.
type TaskResponse struct {
	ID              string           `db:"id" json:"id"`
	FormExecutionID string           `db:"form_execution_id" json:"form_execution_id"`
	FormTaskID      string           `db:"form_task_id" json:"form_task_id"`
	TaskSnapshot    TaskSnapshot     `db:"task_snapshot" json:"task_snapshot"`
	Response        *ResponsePayload `db:"response" json:"response,omitempty"`
	IsCompleted     bool             `db:"is_completed" json:"is_completed"`
	RespondedAt     *time.Time       `db:"responded_at" json:"responded_at,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`

	Attachments []ResponseAttachment `db:"-" json:"attachments,omitempty"`
}

// Snapshot accessors. These read exclusively from the frozen snapshot so the
// displayed definition is a time capsule, independent of later task edits.

// TaskType returns the type captured at response creation.
func (r *TaskResponse) TaskType() TaskType { return r.TaskSnapshot.Type }

// TaskConfiguration returns the configuration captured at response creation.
func (r *TaskResponse) TaskConfiguration() TaskConfiguration {
	return r.TaskSnapshot.Configuration
}

// TaskInstructions returns the instructions captured at response creation.
func (r *TaskResponse) TaskInstructions() []InstructionSnapshot {
	return r.TaskSnapshot.Instructions
}

// TaskIsRequired returns the required flag captured at response creation.
func (r *TaskResponse) TaskIsRequired() bool { return r.TaskSnapshot.IsRequired }

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
