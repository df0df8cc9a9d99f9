package models

import "time"

// ExecutionStatus captures the lifecycle state of a form execution.
type ExecutionStatus string

const (
	ExecutionStatusPending    ExecutionStatus = "pending"
	ExecutionStatusInProgress ExecutionStatus = "in_progress"
	ExecutionStatusCompleted  ExecutionStatus = "completed"
	ExecutionStatusCancelled  ExecutionStatus = "cancelled"
)

// executionTransitions is the static transition table: pending →
// in_progress → completed, with cancelled reachable from any
// non-terminal state.
var executionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending:    {ExecutionStatusInProgress, ExecutionStatusCancelled},
	ExecutionStatusInProgress: {ExecutionStatusCompleted, ExecutionStatusCancelled},
}

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusCancelled
}

// CanTransitionTo reports whether the transition to next is permitted.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	for _, allowed := range executionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FormExecution is one user's attempt at completing a published version.
// StartedAt and CompletedAt are written exactly once, at the matching
// transition.
type FormExecution struct {
	ID            string          `db:"id" json:"id"`
	FormVersionID string          `db:"form_version_id" json:"form_version_id"`
	UserID        string          `db:"user_id" json:"user_id"`
	Status        ExecutionStatus `db:"status" json:"status"`
	StartedAt     *time.Time      `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`

	Responses []TaskResponse `db:"-" json:"responses,omitempty"`
}

// ExecutionProgress summarises completion state for one execution.
type ExecutionProgress struct {
	ExecutionID        string     `json:"execution_id"`
	Status             ExecutionStatus `json:"status"`
	TotalTasks         int        `json:"total_tasks"`
	CompletedResponses int        `json:"completed_responses"`
	Percentage         int        `json:"percentage"`
	MissingRequired    []FormTask `json:"missing_required,omitempty"`
}

// ExecutionFilter narrows execution listing queries.
type ExecutionFilter struct {
	FormVersionID string
	UserID        string
	Status        ExecutionStatus
	Page          int
	PageSize      int
}
