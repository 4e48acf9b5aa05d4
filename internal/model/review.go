package model

import "time"

// TaskStatus is the lifecycle state of a review queue task.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "OPEN"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskResolved   TaskStatus = "RESOLVED"
	TaskRejected   TaskStatus = "REJECTED"
)

// Terminal reports whether the task can no longer change state.
func (s TaskStatus) Terminal() bool {
	return s == TaskResolved || s == TaskRejected
}

// ReviewTask holds a REVIEW_REQUIRED candidate until a human resolves it.
// Priority sorts larger confidence gaps on heavier fields first. Tasks are
// never deleted.
type ReviewTask struct {
	ID          string     `json:"id"`
	CandidateID string     `json:"candidate_id"`
	EntityID    string     `json:"entity_id"`
	FieldKey    string     `json:"field_key"`
	Priority    float64    `json:"priority"`
	Status      TaskStatus `json:"status"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
