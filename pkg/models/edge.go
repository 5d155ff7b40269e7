package models

import (
	"errors"
	"time"
)

// ErrValidation indicates an attribute failed validation at the input
// boundary. Invalid values are rejected before persistence, never stored.
var ErrValidation = errors.New("validation failed")

// EdgeKind classifies the relationship a dependency edge expresses.
type EdgeKind string

const (
	// EdgeBlocks means the dependency must complete before the dependent
	// task may become ready.
	EdgeBlocks EdgeKind = "blocks"
	// EdgeFeedsInto means one task's output is useful context for another.
	// It does not gate readiness.
	EdgeFeedsInto EdgeKind = "feeds_into"
	// EdgeParallelOK marks affinity with no ordering constraint.
	EdgeParallelOK EdgeKind = "parallel_ok"
)

// Valid returns true if the edge kind is a known value.
func (k EdgeKind) Valid() bool {
	switch k {
	case EdgeBlocks, EdgeFeedsInto, EdgeParallelOK:
		return true
	default:
		return false
	}
}

// EdgeOrigin records how a dependency edge was detected.
type EdgeOrigin string

const (
	// OriginSemantic means the edge was inferred from embedding similarity.
	OriginSemantic EdgeOrigin = "semantic"
	// OriginExplicit means a user command created the edge.
	OriginExplicit EdgeOrigin = "explicit"
	// OriginInferred means a downstream heuristic created the edge.
	OriginInferred EdgeOrigin = "inferred"
)

// DependencyEdge is a directed relationship between two tasks.
// FromID is the dependent task; ToID is the task it depends on.
// Edges are immutable after creation and survive task completion, so
// dependency history remains queryable for audit.
type DependencyEdge struct {
	// ID is the unique identifier for this edge.
	ID string `json:"id"`
	// FromID is the dependent (downstream) task.
	FromID string `json:"from_id"`
	// ToID is the dependency (upstream) task.
	ToID string `json:"to_id"`
	// Kind is the relationship kind.
	Kind EdgeKind `json:"kind"`
	// Weight is the affinity strength in [0.0, 1.0].
	Weight float64 `json:"weight"`
	// Confidence is the detector's confidence in [0.0, 1.0].
	Confidence float64 `json:"confidence"`
	// Origin records how the edge was detected.
	Origin EdgeOrigin `json:"origin"`
	// CreatedAt is when the edge was inserted.
	CreatedAt time.Time `json:"created_at"`
}
