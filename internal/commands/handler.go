package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Danservfinn/kurultai-sub008/internal/audit"
	"github.com/Danservfinn/kurultai-sub008/internal/store"
	"github.com/Danservfinn/kurultai-sub008/pkg/models"
)

// Handler resolves commands against the sender's tasks and applies them
// through the graph store's single mutation path.
type Handler struct {
	store  *store.Store
	sink   audit.Sink
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithClock overrides the clock (for tests).
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// New creates a Handler.
func New(st *store.Store, sink audit.Sink, opts ...Option) *Handler {
	h := &Handler{
		store:  st,
		sink:   sink,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle interprets the message as an override command. The second return
// is false for unrecognized text, which the caller should buffer normally.
func (h *Handler) Handle(sender, text string) (string, bool) {
	switch cmd := Parse(text).(type) {
	case PriorityBoost:
		return h.priorityBoost(sender, cmd.Fragment, text), true
	case OrderBefore:
		return h.orderBefore(sender, cmd.First, cmd.Second, text), true
	case MarkIndependent:
		return h.markIndependent(sender, text), true
	case FocusPause:
		return h.focusPause(sender, cmd.Fragment, text), true
	case PlanQuery:
		return h.plan(sender), true
	default:
		return "", false
	}
}

// resolve finds the sender's best-matching task for a description
// fragment among the allowed statuses. Terminal tasks never resolve:
// boosting or reordering completed work would mutate history.
func (h *Handler) resolve(sender, fragment string, allowed ...models.TaskStatus) (*models.Task, error) {
	matches, err := h.store.MatchTasks(sender, fragment)
	if err != nil {
		return nil, err
	}
	for _, task := range matches {
		for _, status := range allowed {
			if task.Status == status {
				return task, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", store.ErrTaskNotFound, fragment)
}

func (h *Handler) priorityBoost(sender, fragment, reason string) string {
	task, err := h.resolve(sender, fragment,
		models.TaskStatusPending, models.TaskStatusReady)
	if err != nil {
		return fmt.Sprintf("Couldn't find a task matching %q.", fragment)
	}

	old, err := h.store.SetPriority(task.ID, 1.0, true)
	if err != nil {
		h.logger.Error("priority boost", zap.String("task", task.ID), zap.Error(err))
		return fmt.Sprintf("Couldn't update priority for %q.", task.Description)
	}
	h.sink.Record(audit.Entry{
		Sender: sender, TaskID: task.ID, Field: "priority",
		OldValue: fmt.Sprintf("%.2f", old), NewValue: "1.00",
		Reason: reason, Timestamp: h.now(),
	})

	order := h.executionOrder(sender)
	return fmt.Sprintf("Prioritized %q.%s", task.Description, order)
}

func (h *Handler) orderBefore(sender, first, second, reason string) string {
	// The upstream task may already be running; the dependent must still
	// be schedulable, since a started task cannot be gated.
	a, err := h.resolve(sender, first,
		models.TaskStatusPending, models.TaskStatusReady, models.TaskStatusInProgress)
	if err != nil {
		return fmt.Sprintf("Couldn't find a task matching %q.", first)
	}
	b, err := h.resolve(sender, second,
		models.TaskStatusPending, models.TaskStatusReady)
	if err != nil {
		return fmt.Sprintf("Couldn't find a task matching %q.", second)
	}
	if a.ID == b.ID {
		return fmt.Sprintf("%q and %q resolve to the same task.", first, second)
	}

	// B depends on A: A runs first.
	err = h.store.AddDependency(&models.DependencyEdge{
		FromID: b.ID, ToID: a.ID,
		Kind: models.EdgeBlocks, Weight: 1.0, Confidence: 1.0,
		Origin: models.OriginExplicit,
	})
	if errors.Is(err, store.ErrCycleDetected) {
		return fmt.Sprintf("Can't create that ordering: %q already runs before %q.",
			b.Description, a.Description)
	}
	if errors.Is(err, store.ErrTaskActive) {
		return fmt.Sprintf("Can't create that ordering: %q has already started.",
			b.Description)
	}
	if err != nil {
		h.logger.Error("order before", zap.Error(err))
		return "Couldn't create that ordering."
	}
	h.sink.Record(audit.Entry{
		Sender: sender, TaskID: b.ID, Field: "dependency",
		OldValue: "", NewValue: "blocks:" + a.ID,
		Reason: reason, Timestamp: h.now(),
	})
	return fmt.Sprintf("Got it: %q will run before %q.", a.Description, b.Description)
}

func (h *Handler) markIndependent(sender, reason string) string {
	batch, err := h.store.RecentBatch(sender)
	if err != nil {
		h.logger.Error("recent batch", zap.Error(err))
		return "Couldn't look up your recent tasks."
	}
	if len(batch) < 2 {
		return "There aren't enough recent tasks to mark independent."
	}

	created := 0
	for i := 0; i < len(batch); i++ {
		for j := i + 1; j < len(batch); j++ {
			err := h.store.AddDependency(&models.DependencyEdge{
				FromID: batch[i].ID, ToID: batch[j].ID,
				Kind: models.EdgeParallelOK, Weight: 1.0, Confidence: 1.0,
				Origin: models.OriginExplicit,
			})
			if err != nil {
				h.logger.Error("mark independent", zap.Error(err))
				continue
			}
			created++
			h.sink.Record(audit.Entry{
				Sender: sender, TaskID: batch[i].ID, Field: "dependency",
				OldValue: "", NewValue: "parallel_ok:" + batch[j].ID,
				Reason: reason, Timestamp: h.now(),
			})
		}
	}
	return fmt.Sprintf("Marked %d tasks as independent (%d pairs).", len(batch), created)
}

func (h *Handler) focusPause(sender, fragment, reason string) string {
	task, err := h.resolve(sender, fragment,
		models.TaskStatusPending, models.TaskStatusReady, models.TaskStatusPaused)
	if err != nil {
		return fmt.Sprintf("Couldn't find a task matching %q.", fragment)
	}

	old, err := h.store.SetPriority(task.ID, 1.0, true)
	if err != nil {
		h.logger.Error("focus boost", zap.String("task", task.ID), zap.Error(err))
		return fmt.Sprintf("Couldn't update priority for %q.", task.Description)
	}
	h.sink.Record(audit.Entry{
		Sender: sender, TaskID: task.ID, Field: "priority",
		OldValue: fmt.Sprintf("%.2f", old), NewValue: "1.00",
		Reason: reason, Timestamp: h.now(),
	})

	paused, err := h.store.PauseOthers(sender, task.ID)
	if err != nil {
		h.logger.Error("pause others", zap.Error(err))
		return fmt.Sprintf("Focused on %q but couldn't pause the rest.", task.Description)
	}
	for _, p := range paused {
		h.sink.Record(audit.Entry{
			Sender: sender, TaskID: p.ID, Field: "status",
			OldValue: string(p.Prior), NewValue: "paused",
			Reason: reason, Timestamp: h.now(),
		})
	}
	return fmt.Sprintf("Focusing on %q; paused %d other task(s).", task.Description, len(paused))
}

// plan renders the read-only execution plan: every task with its status,
// priority, predecessors, and dependents. No mutation.
func (h *Handler) plan(sender string) string {
	tasks, err := h.store.TasksForSender(sender)
	if err != nil {
		h.logger.Error("plan query", zap.Error(err))
		return "Couldn't read the plan."
	}
	if len(tasks) == 0 {
		return "No tasks on file."
	}

	descByID := make(map[string]string, len(tasks))
	for _, t := range tasks {
		descByID[t.ID] = t.Description
	}

	var sb strings.Builder
	sb.WriteString("Current plan:\n")
	for _, t := range tasks {
		fmt.Fprintf(&sb, "- [%s] %s (priority %.2f)", t.Status, t.Description, t.Priority)
		if preds, _ := h.store.Predecessors(t.ID); len(preds) > 0 {
			sb.WriteString("\n    after: ")
			sb.WriteString(joinDescriptions(preds, descByID))
		}
		if deps, _ := h.store.Dependents(t.ID); len(deps) > 0 {
			sb.WriteString("\n    unblocks: ")
			sb.WriteString(joinDescriptions(deps, descByID))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// executionOrder renders the sender's current ready order, for
// confirmation messages after a priority change.
func (h *Handler) executionOrder(sender string) string {
	ready, err := h.store.ReadyTasks(sender, 10)
	if err != nil || len(ready) == 0 {
		return ""
	}
	var parts []string
	for i, t := range ready {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, t.Description))
	}
	return " New order: " + strings.Join(parts, "; ") + "."
}

func joinDescriptions(ids []string, descByID map[string]string) string {
	var parts []string
	for _, id := range ids {
		if desc, ok := descByID[id]; ok {
			parts = append(parts, desc)
		} else {
			parts = append(parts, id)
		}
	}
	return strings.Join(parts, ", ")
}
