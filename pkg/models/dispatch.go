package models

import "time"

// DispatchOutcome is the result of handing a task to a worker.
type DispatchOutcome string

const (
	// DispatchPending means the worker has not yet reported back.
	DispatchPending DispatchOutcome = "pending"
	// DispatchSuccess means the worker completed the task.
	DispatchSuccess DispatchOutcome = "success"
	// DispatchError means the dispatch or the task itself failed.
	DispatchError DispatchOutcome = "error"
)

// DispatchRecord captures one hand-off of a task to a worker pool.
// A record is created when the executor claims a pool slot and closed when
// the worker reports completion or failure.
type DispatchRecord struct {
	// ID is the unique identifier for this dispatch.
	ID string `json:"id"`
	// TaskID is the dispatched task.
	TaskID string `json:"task_id"`
	// WorkerID is the worker the pool assigned, if known.
	WorkerID string `json:"worker_id,omitempty"`
	// Pool is the worker pool the task was routed to.
	Pool string `json:"pool"`
	// DispatchedAt is when the hand-off happened.
	DispatchedAt time.Time `json:"dispatched_at"`
	// Outcome is the current result of the dispatch.
	Outcome DispatchOutcome `json:"outcome"`
	// Reason holds the error detail when Outcome is error.
	Reason string `json:"reason,omitempty"`
	// ClosedAt is when the worker reported back, if it has.
	ClosedAt *time.Time `json:"closed_at,omitempty"`
}
