package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Danservfinn/kurultai-sub008/pkg/models"
)

// ErrCycleDetected indicates an edge insertion would close a blocks cycle.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrTaskNotFound indicates a referenced task id does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ErrInvalidTransition indicates a status change the state machine forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrPoolSaturated indicates a dispatch claim found no free slot in the pool.
var ErrPoolSaturated = errors.New("worker pool at capacity")

// ErrTaskActive indicates a blocks edge would gate a task that has already
// been handed to a worker.
var ErrTaskActive = errors.New("task already in progress")

// ErrNotClaimable indicates a claim raced a status change and lost.
var ErrNotClaimable = errors.New("task no longer claimable")

// Store is the graph store. All task and edge mutation flows through it;
// nothing else in the engine writes to the database.
type Store struct {
	db  *DB
	now func() time.Time
}

// New creates a Store over an opened, migrated database.
func New(db *DB) *Store {
	return &Store{db: db, now: time.Now}
}

// SetClock overrides the store's clock (for tests).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// CreateTask validates and persists a task, assigning an id if absent.
// Returns the task id.
func (s *Store) CreateTask(t *models.Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	if err := t.Validate(); err != nil {
		return "", err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}

	var embeddingJSON sql.NullString
	if len(t.Embedding) > 0 {
		data, err := json.Marshal(t.Embedding)
		if err != nil {
			return "", fmt.Errorf("encode embedding: %w", err)
		}
		embeddingJSON = sql.NullString{String: string(data), Valid: true}
	}

	err := s.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tasks (id, sender, description, kind, status, priority,
				embedding, assigned_worker, explicit_priority, merged_into,
				created_at, window_expires_at, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.Sender, t.Description, string(t.Kind), string(t.Status), t.Priority,
			embeddingJSON, nullString(t.AssignedWorker), boolInt(t.ExplicitPriority),
			nullString(t.MergedInto), formatTime(t.CreatedAt),
			nullTime(t.WindowExpiresAt), nullString(t.Error))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return t.ID, nil
}

// AddDependency atomically inserts a dependency edge. Within one
// transaction it verifies both tasks exist, verifies a blocks edge would
// not close a cycle, and inserts. Two concurrent calls attempting
// opposite-direction blocks edges between the same tasks cannot both
// succeed: the transaction holds the writer lock, so the second call's
// reachability check sees the first call's edge.
func (s *Store) AddDependency(e *models.DependencyEdge) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown edge kind %q", models.ErrValidation, e.Kind)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	return s.db.Transaction(func(tx *sql.Tx) error {
		for _, id := range []string{e.FromID, e.ToID} {
			var one int
			err := tx.QueryRow("SELECT 1 FROM tasks WHERE id = ?", id).Scan(&one)
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
			}
			if err != nil {
				return fmt.Errorf("check task %s: %w", id, err)
			}
		}

		if e.Kind == models.EdgeBlocks {
			if e.FromID == e.ToID {
				return ErrCycleDetected
			}

			// A running or schedulable task must never carry an unmet
			// blocks edge. An in_progress dependent rejects the edge; a
			// ready one is demoted back to pending so the gate holds.
			var fromStatus, toStatus string
			if err := tx.QueryRow("SELECT status FROM tasks WHERE id = ?", e.FromID).Scan(&fromStatus); err != nil {
				return fmt.Errorf("read dependent status: %w", err)
			}
			if err := tx.QueryRow("SELECT status FROM tasks WHERE id = ?", e.ToID).Scan(&toStatus); err != nil {
				return fmt.Errorf("read dependency status: %w", err)
			}
			if toStatus != string(models.TaskStatusCompleted) {
				switch models.TaskStatus(fromStatus) {
				case models.TaskStatusInProgress:
					return fmt.Errorf("%w: %s", ErrTaskActive, e.FromID)
				case models.TaskStatusReady:
					if _, err := tx.Exec("UPDATE tasks SET status = 'pending' WHERE id = ?", e.FromID); err != nil {
						return fmt.Errorf("demote dependent: %w", err)
					}
				}
			}

			// The new edge makes FromID depend on ToID. If FromID is
			// already reachable from ToID over blocks edges, inserting
			// would close a cycle.
			var one int
			err := tx.QueryRow(`
				WITH RECURSIVE reach(id) AS (
					SELECT to_id FROM edges WHERE from_id = ? AND kind = 'blocks'
					UNION
					SELECT e.to_id FROM edges e JOIN reach r ON e.from_id = r.id
					WHERE e.kind = 'blocks'
				)
				SELECT 1 FROM reach WHERE id = ? LIMIT 1
			`, e.ToID, e.FromID).Scan(&one)
			if err == nil {
				return ErrCycleDetected
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("cycle check: %w", err)
			}
		}

		_, err := tx.Exec(`
			INSERT INTO edges (id, from_id, to_id, kind, weight, confidence, origin, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, e.FromID, e.ToID, string(e.Kind), e.Weight, e.Confidence,
			string(e.Origin), formatTime(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
		return nil
	})
}

// UpdateStatus transitions a task through the state machine. Invalid
// transitions are rejected, not coerced. Reaching completed stamps
// completed_at.
func (s *Store) UpdateStatus(taskID string, to models.TaskStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", models.ErrValidation, to)
	}
	return s.db.Transaction(func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRow("SELECT status FROM tasks WHERE id = ?", taskID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}

		from := models.TaskStatus(current)
		if !models.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		if to == models.TaskStatusCompleted {
			_, err = tx.Exec("UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?",
				string(to), formatTime(s.now()), taskID)
		} else {
			_, err = tx.Exec("UPDATE tasks SET status = ? WHERE id = ?", string(to), taskID)
		}
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
}

// MarkFailed transitions a task to failed and records the reason.
func (s *Store) MarkFailed(taskID, reason string) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRow("SELECT status FROM tasks WHERE id = ?", taskID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if err != nil {
			return fmt.Errorf("read status: %w", err)
		}
		if !models.CanTransition(models.TaskStatus(current), models.TaskStatusFailed) {
			return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, current)
		}
		_, err = tx.Exec("UPDATE tasks SET status = 'failed', error = ? WHERE id = ?", reason, taskID)
		return err
	})
}

// ClaimForDispatch is the claim-style slot acquisition: within one
// transaction it moves a pending or ready task to in_progress only while
// the pool's live in-progress count is below the cap and the task still has
// no unmet blocks predecessor. Two concurrent scheduling passes cannot both
// take the last slot.
func (s *Store) ClaimForDispatch(taskID, pool string, maxPerPool int) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE tasks SET status = 'in_progress', pool = ?
			WHERE id = ?
			  AND status IN ('pending', 'ready')
			  AND (SELECT COUNT(*) FROM tasks WHERE status = 'in_progress' AND pool = ?) < ?
			  AND NOT EXISTS (
				SELECT 1 FROM edges e JOIN tasks d ON d.id = e.to_id
				WHERE e.from_id = tasks.id AND e.kind = 'blocks' AND d.status != 'completed'
			  )
		`, pool, taskID, pool, maxPerPool)
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		if n == 1 {
			return nil
		}

		// The claim failed; report why.
		var status string
		err = tx.QueryRow("SELECT status FROM tasks WHERE id = ?", taskID).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		if status != string(models.TaskStatusPending) && status != string(models.TaskStatusReady) {
			return fmt.Errorf("%w: status %s", ErrNotClaimable, status)
		}

		var inProgress int
		if err := tx.QueryRow("SELECT COUNT(*) FROM tasks WHERE status = 'in_progress' AND pool = ?",
			pool).Scan(&inProgress); err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		if inProgress >= maxPerPool {
			return fmt.Errorf("%w: %s (%d in progress)", ErrPoolSaturated, pool, inProgress)
		}
		return ErrNotClaimable
	})
}

// Reopen returns an in_progress task to pending after a dispatch error, so
// the next scheduling cycle retries it. The pool slot is released.
func (s *Store) Reopen(taskID string) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE tasks SET status = 'pending', pool = NULL, assigned_worker = NULL
			WHERE id = ? AND status = 'in_progress'
		`, taskID)
		if err != nil {
			return fmt.Errorf("reopen task: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: %s not in_progress", ErrInvalidTransition, taskID)
		}
		return nil
	})
}

// AssignWorker records the worker a pool handed the task to.
func (s *Store) AssignWorker(taskID, workerID string) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec("UPDATE tasks SET assigned_worker = ? WHERE id = ?", workerID, taskID)
		return err
	})
}

// SetPriority sets a task's priority weight, returning the previous value.
// Values outside [0.0, 1.0] are rejected at this boundary, never persisted.
func (s *Store) SetPriority(taskID string, priority float64, explicit bool) (float64, error) {
	if priority < 0.0 || priority > 1.0 {
		return 0, fmt.Errorf("%w: priority %v outside [0.0, 1.0]", models.ErrValidation, priority)
	}
	var old float64
	err := s.db.Transaction(func(tx *sql.Tx) error {
		err := tx.QueryRow("SELECT priority FROM tasks WHERE id = ?", taskID).Scan(&old)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if err != nil {
			return fmt.Errorf("read priority: %w", err)
		}
		_, err = tx.Exec("UPDATE tasks SET priority = ?, explicit_priority = ? WHERE id = ?",
			priority, boolInt(explicit), taskID)
		return err
	})
	return old, err
}

// PausedTask records one task shelved by PauseOthers and the status it
// held before pausing.
type PausedTask struct {
	ID    string
	Prior models.TaskStatus
}

// PauseOthers pauses every pending or ready task for the sender except the
// kept one. Returns the paused tasks with their prior statuses.
func (s *Store) PauseOthers(sender, keepID string) ([]PausedTask, error) {
	var paused []PausedTask
	err := s.db.Transaction(func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT id, status FROM tasks
			WHERE sender = ? AND id != ? AND status IN ('pending', 'ready')
		`, sender, keepID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p PausedTask
			var status string
			if err := rows.Scan(&p.ID, &status); err != nil {
				return err
			}
			p.Prior = models.TaskStatus(status)
			paused = append(paused, p)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, p := range paused {
			if _, err := tx.Exec("UPDATE tasks SET status = 'paused' WHERE id = ?", p.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pause others: %w", err)
	}
	return paused, nil
}

// CreateDispatch opens a dispatch record for a task hand-off.
func (s *Store) CreateDispatch(rec *models.DispatchRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Outcome == "" {
		rec.Outcome = models.DispatchPending
	}
	if rec.DispatchedAt.IsZero() {
		rec.DispatchedAt = s.now()
	}
	return s.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO dispatches (id, task_id, worker_id, pool, dispatched_at, outcome, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.TaskID, nullString(rec.WorkerID), rec.Pool,
			formatTime(rec.DispatchedAt), string(rec.Outcome), nullString(rec.Reason))
		return err
	})
}

// CloseDispatch closes the open dispatch record for a task with the given
// outcome and reason.
func (s *Store) CloseDispatch(taskID string, outcome models.DispatchOutcome, reason string) error {
	return s.db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE dispatches SET outcome = ?, reason = ?, closed_at = ?
			WHERE task_id = ? AND outcome = 'pending'
		`, string(outcome), nullString(reason), formatTime(s.now()), taskID)
		return err
	})
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
