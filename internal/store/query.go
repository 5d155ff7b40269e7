package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Danservfinn/kurultai-sub008/pkg/models"
)

// taskColumns is the select list scanTask expects.
const taskColumns = `id, sender, description, kind, status, priority,
	embedding, assigned_worker, explicit_priority, merged_into,
	created_at, window_expires_at, completed_at, error`

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var kind, status, createdAt string
	var embedding, assignedWorker, mergedInto, windowExpires, completedAt, taskErr sql.NullString
	var explicitPriority int

	err := row.Scan(&t.ID, &t.Sender, &t.Description, &kind, &status, &t.Priority,
		&embedding, &assignedWorker, &explicitPriority, &mergedInto,
		&createdAt, &windowExpires, &completedAt, &taskErr)
	if err != nil {
		return nil, err
	}

	t.Kind = models.DeliverableKind(kind)
	t.Status = models.TaskStatus(status)
	t.AssignedWorker = assignedWorker.String
	t.ExplicitPriority = explicitPriority != 0
	t.MergedInto = mergedInto.String
	t.Error = taskErr.String

	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if windowExpires.Valid {
		if t.WindowExpiresAt, err = parseTime(windowExpires.String); err != nil {
			return nil, fmt.Errorf("parse window_expires_at: %w", err)
		}
	}
	t.CompletedAt = parseNullableTime(completedAt)

	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &t.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return &t, nil
}

func collectTasks(rows *sql.Rows) ([]*models.Task, error) {
	defer rows.Close()
	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetTask returns the task with the given id.
func (s *Store) GetTask(taskID string) (*models.Task, error) {
	row := s.db.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ReadyTasks returns the sender's ready set: pending tasks with no blocks
// edge to a non-completed task, ordered by priority weight descending then
// creation time ascending. The query mutates nothing, so it is idempotent
// between state changes.
func (s *Store) ReadyTasks(sender string, limit int) ([]*models.Task, error) {
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks t
		WHERE t.sender = ?
		  AND t.status = 'pending'
		  AND t.merged_into IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM edges e JOIN tasks d ON d.id = e.to_id
			WHERE e.from_id = t.id AND e.kind = 'blocks' AND d.status != 'completed'
		  )
		ORDER BY t.priority DESC, t.created_at ASC
		LIMIT ?
	`, sender, limit)
	if err != nil {
		return nil, fmt.Errorf("ready tasks: %w", err)
	}
	return collectTasks(rows)
}

// Dependents returns the ids of tasks holding a blocks edge to the given
// task, i.e. the tasks a completion may unblock.
func (s *Store) Dependents(taskID string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT from_id FROM edges WHERE to_id = ? AND kind = 'blocks'", taskID)
	if err != nil {
		return nil, fmt.Errorf("dependents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Predecessors returns the ids of tasks the given task is gated on via
// blocks edges.
func (s *Store) Predecessors(taskID string) ([]string, error) {
	rows, err := s.db.Query(
		"SELECT to_id FROM edges WHERE from_id = ? AND kind = 'blocks'", taskID)
	if err != nil {
		return nil, fmt.Errorf("predecessors: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MatchTasks returns the sender's tasks whose description contains the
// fragment, case-insensitively. Pending and ready tasks sort first, then
// by creation time, so command resolution prefers actionable work.
func (s *Store) MatchTasks(sender, fragment string) ([]*models.Task, error) {
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE sender = ?
		  AND merged_into IS NULL
		  AND LOWER(description) LIKE '%' || LOWER(?) || '%'
		ORDER BY CASE WHEN status IN ('pending', 'ready') THEN 0 ELSE 1 END,
			created_at ASC
	`, sender, fragment)
	if err != nil {
		return nil, fmt.Errorf("match tasks: %w", err)
	}
	return collectTasks(rows)
}

// RecentTasks returns the sender's most recently created non-merged tasks,
// newest first.
func (s *Store) RecentTasks(sender string, limit int) ([]*models.Task, error) {
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE sender = ? AND merged_into IS NULL
		ORDER BY created_at DESC
		LIMIT ?
	`, sender, limit)
	if err != nil {
		return nil, fmt.Errorf("recent tasks: %w", err)
	}
	return collectTasks(rows)
}

// RecentBatch returns the tasks from the sender's most recent analysis
// batch, i.e. those sharing the latest window-expiry timestamp.
func (s *Store) RecentBatch(sender string) ([]*models.Task, error) {
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE sender = ? AND merged_into IS NULL
		  AND window_expires_at = (
			SELECT MAX(window_expires_at) FROM tasks
			WHERE sender = ? AND window_expires_at IS NOT NULL
		  )
		ORDER BY created_at ASC
	`, sender, sender)
	if err != nil {
		return nil, fmt.Errorf("recent batch: %w", err)
	}
	return collectTasks(rows)
}

// TasksForSender returns every non-merged task for the sender, oldest first.
func (s *Store) TasksForSender(sender string) ([]*models.Task, error) {
	rows, err := s.db.Query(`
		SELECT `+taskColumns+` FROM tasks
		WHERE sender = ? AND merged_into IS NULL
		ORDER BY created_at ASC
	`, sender)
	if err != nil {
		return nil, fmt.Errorf("tasks for sender: %w", err)
	}
	return collectTasks(rows)
}

// ActiveSenders returns senders that still have schedulable work.
func (s *Store) ActiveSenders() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT sender FROM tasks WHERE status IN ('pending', 'ready')
	`)
	if err != nil {
		return nil, fmt.Errorf("active senders: %w", err)
	}
	defer rows.Close()

	var senders []string
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}
	return senders, rows.Err()
}

// EdgesFor returns every edge touching the task, in either direction.
func (s *Store) EdgesFor(taskID string) ([]*models.DependencyEdge, error) {
	rows, err := s.db.Query(`
		SELECT id, from_id, to_id, kind, weight, confidence, origin, created_at
		FROM edges WHERE from_id = ? OR to_id = ?
		ORDER BY created_at ASC
	`, taskID, taskID)
	if err != nil {
		return nil, fmt.Errorf("edges for task: %w", err)
	}
	defer rows.Close()

	var edges []*models.DependencyEdge
	for rows.Next() {
		var e models.DependencyEdge
		var kind, origin, createdAt string
		if err := rows.Scan(&e.ID, &e.FromID, &e.ToID, &kind, &e.Weight,
			&e.Confidence, &origin, &createdAt); err != nil {
			return nil, err
		}
		e.Kind = models.EdgeKind(kind)
		e.Origin = models.EdgeOrigin(origin)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse edge created_at: %w", err)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// InProgressCount returns the number of tasks currently in progress in the
// pool.
func (s *Store) InProgressCount(pool string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM tasks WHERE status = 'in_progress' AND pool = ?", pool).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("in-progress count: %w", err)
	}
	return n, nil
}

// OpenDispatches returns dispatch records that have not been closed.
func (s *Store) OpenDispatches() ([]*models.DispatchRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, worker_id, pool, dispatched_at, outcome, reason, closed_at
		FROM dispatches WHERE outcome = 'pending'
		ORDER BY dispatched_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("open dispatches: %w", err)
	}
	defer rows.Close()

	var recs []*models.DispatchRecord
	for rows.Next() {
		var rec models.DispatchRecord
		var workerID, reason, closedAt sql.NullString
		var outcome, dispatchedAt string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &workerID, &rec.Pool,
			&dispatchedAt, &outcome, &reason, &closedAt); err != nil {
			return nil, err
		}
		rec.WorkerID = workerID.String
		rec.Outcome = models.DispatchOutcome(outcome)
		rec.Reason = reason.String
		if rec.DispatchedAt, err = parseTime(dispatchedAt); err != nil {
			return nil, fmt.Errorf("parse dispatched_at: %w", err)
		}
		rec.ClosedAt = parseNullableTime(closedAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
