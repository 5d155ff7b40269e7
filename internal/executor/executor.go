// Package executor computes the ready frontier and dispatches it to
// specialist worker pools under per-pool concurrency caps, then reacts to
// completion reports by unblocking dependents.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Danservfinn/kurultai-sub008/internal/store"
	"github.com/Danservfinn/kurultai-sub008/pkg/models"
)

// Dispatcher hands a task to a worker pool. Workers execute out of band and
// report back through OnCompleted / OnFailed.
type Dispatcher interface {
	// Dispatch sends the task to the named pool, returning the assigned
	// worker id.
	Dispatch(ctx context.Context, task *models.Task, pool string) (workerID string, err error)
}

// DispatchError records one failed hand-off within a scheduling cycle.
type DispatchError struct {
	TaskID string
	Pool   string
	Err    error
}

// Report summarizes one scheduling pass. Dispatch errors accumulate here
// per cycle; they never abort the scheduling of unrelated tasks.
type Report struct {
	// Dispatched lists task ids handed to workers this pass.
	Dispatched []string
	// Deferred lists ready task ids that found no free pool slot.
	Deferred []string
	// Errors lists failed hand-offs; those tasks were reopened for retry.
	Errors []DispatchError
}

// Routing maps deliverable kinds to worker pool names.
type Routing map[models.DeliverableKind]string

// DefaultPool receives kinds with no routing entry.
const DefaultPool = "general"

// PoolFor resolves the pool for a kind.
func (r Routing) PoolFor(kind models.DeliverableKind) string {
	if pool, ok := r[kind]; ok {
		return pool
	}
	return DefaultPool
}

// RoutingFromConfig builds a Routing from the string map the config layer
// produces.
func RoutingFromConfig(m map[string]string) Routing {
	r := make(Routing, len(m))
	for kind, pool := range m {
		r[models.DeliverableKind(kind)] = pool
	}
	return r
}

// Executor schedules ready tasks onto worker pools.
type Executor struct {
	store      *store.Store
	dispatcher Dispatcher
	routing    Routing
	maxPerPool int
	logger     *zap.Logger

	// trigger wakes the run loop after completions, like a scheduler poke.
	trigger chan struct{}
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an Executor.
func New(st *store.Store, dispatcher Dispatcher, routing Routing, maxPerPool int, opts ...Option) *Executor {
	e := &Executor{
		store:      st,
		dispatcher: dispatcher,
		routing:    routing,
		maxPerPool: maxPerPool,
		logger:     zap.NewNop(),
		trigger:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetReadyTasks returns the sender's ready set in dispatch order: priority
// weight descending, then creation time ascending.
func (e *Executor) GetReadyTasks(sender string, limit int) ([]*models.Task, error) {
	return e.store.ReadyTasks(sender, limit)
}

// ExecuteReadySet runs one scheduling pass for a sender: fetch the ready
// set, group it by pool, and dispatch up to the pool's free capacity. The
// capacity check and the in_progress transition are one conditional update
// in the store, so concurrent passes cannot both take the last slot. Tasks
// that find no slot stay pending for a later cycle.
func (e *Executor) ExecuteReadySet(ctx context.Context, sender string, limit int) (*Report, error) {
	ready, err := e.store.ReadyTasks(sender, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch ready set: %w", err)
	}
	if len(ready) == 0 {
		return &Report{}, nil
	}

	byPool := make(map[string][]*models.Task)
	for _, task := range ready {
		pool := e.routing.PoolFor(task.Kind)
		byPool[pool] = append(byPool[pool], task)
	}

	report := &Report{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for pool, tasks := range byPool {
		pool, tasks := pool, tasks
		g.Go(func() error {
			dispatched, deferred, errs := e.dispatchPool(gctx, pool, tasks)
			mu.Lock()
			report.Dispatched = append(report.Dispatched, dispatched...)
			report.Deferred = append(report.Deferred, deferred...)
			report.Errors = append(report.Errors, errs...)
			mu.Unlock()
			return nil
		})
	}
	// Pool goroutines never return errors; failures are isolated per task.
	_ = g.Wait()

	e.logger.Debug("scheduling pass complete",
		zap.String("sender", sender),
		zap.Int("dispatched", len(report.Dispatched)),
		zap.Int("deferred", len(report.Deferred)),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// dispatchPool claims and dispatches tasks for one pool, in ready-set
// order, until the pool saturates or the list is exhausted.
func (e *Executor) dispatchPool(ctx context.Context, pool string, tasks []*models.Task) (dispatched, deferred []string, errs []DispatchError) {
	saturated := false
	for _, task := range tasks {
		if saturated {
			deferred = append(deferred, task.ID)
			continue
		}

		err := e.store.ClaimForDispatch(task.ID, pool, e.maxPerPool)
		if errors.Is(err, store.ErrPoolSaturated) {
			saturated = true
			deferred = append(deferred, task.ID)
			continue
		}
		if err != nil {
			// Raced a status change (pause, explicit edge). Skip; the
			// next cycle re-evaluates.
			e.logger.Debug("claim skipped",
				zap.String("task", task.ID), zap.Error(err))
			continue
		}

		workerID, err := e.dispatcher.Dispatch(ctx, task, pool)
		if err != nil {
			// Failed hand-off: record it against this task, reopen it
			// for the next cycle, and keep going with the rest.
			errs = append(errs, DispatchError{TaskID: task.ID, Pool: pool, Err: err})
			_ = e.store.CreateDispatch(&models.DispatchRecord{
				TaskID:  task.ID,
				Pool:    pool,
				Outcome: models.DispatchError,
				Reason:  err.Error(),
			})
			if reopenErr := e.store.Reopen(task.ID); reopenErr != nil {
				e.logger.Error("reopen after dispatch failure",
					zap.String("task", task.ID), zap.Error(reopenErr))
			}
			continue
		}

		if err := e.store.CreateDispatch(&models.DispatchRecord{
			TaskID:   task.ID,
			WorkerID: workerID,
			Pool:     pool,
		}); err != nil {
			e.logger.Error("record dispatch", zap.String("task", task.ID), zap.Error(err))
		}
		if err := e.store.AssignWorker(task.ID, workerID); err != nil {
			e.logger.Error("assign worker", zap.String("task", task.ID), zap.Error(err))
		}

		dispatched = append(dispatched, task.ID)
		e.logger.Info("task dispatched",
			zap.String("task", task.ID),
			zap.String("pool", pool),
			zap.String("worker", workerID))
	}
	return dispatched, deferred, errs
}

// OnCompleted handles a worker's success report: close the dispatch record,
// mark the task completed, and return the dependants that became fully
// unblocked. The run loop is poked so the frontier is re-evaluated promptly.
func (e *Executor) OnCompleted(taskID string) ([]string, error) {
	if err := e.store.CloseDispatch(taskID, models.DispatchSuccess, ""); err != nil {
		e.logger.Error("close dispatch", zap.String("task", taskID), zap.Error(err))
	}
	if err := e.store.UpdateStatus(taskID, models.TaskStatusCompleted); err != nil {
		return nil, fmt.Errorf("complete task %s: %w", taskID, err)
	}

	unblocked, err := e.newlyUnblocked(taskID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("task completed",
		zap.String("task", taskID),
		zap.Strings("unblocked", unblocked))
	e.Trigger()
	return unblocked, nil
}

// OnFailed handles a worker's failure report. The task moves to failed and
// stays there for explicit escalation; it is never retried automatically,
// and its dependents stay blocked.
func (e *Executor) OnFailed(taskID, reason string) error {
	if err := e.store.CloseDispatch(taskID, models.DispatchError, reason); err != nil {
		e.logger.Error("close dispatch", zap.String("task", taskID), zap.Error(err))
	}
	if err := e.store.MarkFailed(taskID, reason); err != nil {
		return fmt.Errorf("fail task %s: %w", taskID, err)
	}
	e.logger.Warn("task failed",
		zap.String("task", taskID),
		zap.String("reason", reason))
	return nil
}

// Escalate hands a failed task to a human.
func (e *Executor) Escalate(taskID string) error {
	return e.store.UpdateStatus(taskID, models.TaskStatusEscalated)
}

// newlyUnblocked returns dependents of the task whose blocks predecessors
// are now all completed.
func (e *Executor) newlyUnblocked(taskID string) ([]string, error) {
	dependents, err := e.store.Dependents(taskID)
	if err != nil {
		return nil, fmt.Errorf("dependents of %s: %w", taskID, err)
	}

	var unblocked []string
	for _, depID := range dependents {
		preds, err := e.store.Predecessors(depID)
		if err != nil {
			return nil, err
		}
		clear := true
		for _, predID := range preds {
			pred, err := e.store.GetTask(predID)
			if err != nil {
				return nil, err
			}
			if pred.Status != models.TaskStatusCompleted {
				clear = false
				break
			}
		}
		if clear {
			unblocked = append(unblocked, depID)
		}
	}
	return unblocked, nil
}

// Trigger pokes the run loop to schedule immediately.
func (e *Executor) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}
