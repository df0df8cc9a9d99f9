package models

import "time"

// InstructionType enumerates supported instruction media kinds.
type InstructionType string

const (
	InstructionTypeText  InstructionType = "text"
	InstructionTypeImage InstructionType = "image"
	InstructionTypeVideo InstructionType = "video"
)

// Valid reports whether the instruction type is supported.
func (t InstructionType) Valid() bool {
	switch t {
	case InstructionTypeText, InstructionTypeImage, InstructionTypeVideo:
		return true
	}
	return false
}

// TaskInstruction is ordered guidance attached to a form task. MediaURL may
// be relative to the configured media base or an absolute URL.
type TaskInstruction struct {
	ID         string          `db:"id" json:"id"`
	FormTaskID string          `db:"form_task_id" json:"form_task_id"`
	Type       InstructionType `db:"type" json:"type"`
	Position   int             `db:"position" json:"position"`
	Title      *string         `db:"title" json:"title,omitempty"`
	Body       *string         `db:"body" json:"body,omitempty"`
	MediaURL   *string         `db:"media_url" json:"media_url,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// InstructionSnapshot is the frozen instruction shape embedded in a
// task response snapshot.
type InstructionSnapshot struct {
	Type     InstructionType `json:"type"`
	Position int             `json:"position"`
	Title    *string         `json:"title,omitempty"`
	Body     *string         `json:"body,omitempty"`
	MediaURL *string         `json:"media_url,omitempty"`
}
