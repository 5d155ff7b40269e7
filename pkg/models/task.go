package models

import (
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusReady indicates the task has no unmet blockers and may be dispatched.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusInProgress indicates the task has been handed to a worker.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates a worker reported the task as failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusEscalated indicates a failed task was handed to a human.
	TaskStatusEscalated TaskStatus = "escalated"
	// TaskStatusPaused indicates the task was shelved by an explicit command.
	TaskStatusPaused TaskStatus = "paused"
	// TaskStatusAborted indicates the task was permanently cancelled.
	TaskStatusAborted TaskStatus = "aborted"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusReady, TaskStatusInProgress,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusEscalated,
		TaskStatusPaused, TaskStatusAborted:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status admits no further transitions.
// Terminal tasks are retained for audit and dependency resolution, never deleted.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusEscalated, TaskStatusAborted:
		return true
	default:
		return false
	}
}

// transitions is the fixed task state machine. A status transition is legal
// only if it appears here; everything else is rejected, never coerced.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusReady, TaskStatusInProgress, TaskStatusPaused, TaskStatusAborted},
	TaskStatusReady:      {TaskStatusInProgress, TaskStatusPaused, TaskStatusPending, TaskStatusAborted},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed, TaskStatusPending},
	TaskStatusFailed:     {TaskStatusEscalated, TaskStatusPending},
	TaskStatusPaused:     {TaskStatusPending, TaskStatusAborted},
}

// CanTransition reports whether moving a task from one status to another is
// legal under the state machine. in_progress -> pending is the dispatch-error
// reopen path; failed -> pending is a manual retry, never automatic.
func CanTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DeliverableKind is the category of output a task produces.
// It determines which worker pool the task is routed to.
type DeliverableKind string

const (
	KindResearch   DeliverableKind = "research"
	KindAnalysis   DeliverableKind = "analysis"
	KindCode       DeliverableKind = "code"
	KindContent    DeliverableKind = "content"
	KindStrategy   DeliverableKind = "strategy"
	KindOperations DeliverableKind = "operations"
	KindTesting    DeliverableKind = "testing"
)

// Valid returns true if the kind is a known value.
func (k DeliverableKind) Valid() bool {
	switch k {
	case KindResearch, KindAnalysis, KindCode, KindContent,
		KindStrategy, KindOperations, KindTesting:
		return true
	default:
		return false
	}
}

// DefaultPriority is the priority weight assigned to tasks that were not
// explicitly boosted.
const DefaultPriority = 0.5

// Task represents a unit of requested work in the dependency engine.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Sender identifies the user whose message produced this task.
	Sender string `json:"sender"`
	// Description is the natural-language request text.
	Description string `json:"description"`
	// Kind is the deliverable category, used for worker pool routing.
	Kind DeliverableKind `json:"kind"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority is the scheduling weight in [0.0, 1.0]. Defaults to 0.5.
	Priority float64 `json:"priority"`
	// Embedding is the vector representation of Description.
	Embedding []float32 `json:"embedding,omitempty"`
	// AssignedWorker is the ID of the worker executing this task, if any.
	AssignedWorker string `json:"assigned_worker,omitempty"`
	// ExplicitPriority is set when a user command overrode the priority.
	ExplicitPriority bool `json:"explicit_priority,omitempty"`
	// MergedInto references the task this one was deduplicated into, if any.
	MergedInto string `json:"merged_into,omitempty"`
	// CreatedAt is when the task was committed to the graph.
	CreatedAt time.Time `json:"created_at"`
	// WindowExpiresAt is when the intent window that produced this task closed.
	WindowExpiresAt time.Time `json:"window_expires_at"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Error holds the failure reason when Status is failed or escalated.
	Error string `json:"error,omitempty"`
}

// Validate checks the task invariants that must hold before persistence.
func (t *Task) Validate() error {
	if t.Priority < 0.0 || t.Priority > 1.0 {
		return fmt.Errorf("%w: priority %v outside [0.0, 1.0]", ErrValidation, t.Priority)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: unknown deliverable kind %q", ErrValidation, t.Kind)
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, t.Status)
	}
	return nil
}
