package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Danservfinn/kurultai-sub008/internal/store"
	"github.com/Danservfinn/kurultai-sub008/pkg/models"
)

// fakeDispatcher records dispatches and can be told to fail specific tasks.
type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []string
	failTasks  map[string]error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{failTasks: make(map[string]error)}
}

func (d *fakeDispatcher) Dispatch(_ context.Context, task *models.Task, pool string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.failTasks[task.ID]; ok {
		return "", err
	}
	d.dispatched = append(d.dispatched, task.ID)
	return "worker-" + pool + "-1", nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dispatched)
}

func testRouting() Routing {
	return Routing{
		models.KindResearch: "research",
		models.KindAnalysis: "research",
		models.KindCode:     "development",
		models.KindTesting:  "development",
	}
}

func newTestExecutor(t *testing.T, maxPerPool int) (*Executor, *store.Store, *fakeDispatcher) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "graph.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st := store.New(db)
	var mu sync.Mutex
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	})

	d := newFakeDispatcher()
	return New(st, d, testRouting(), maxPerPool), st, d
}

func createTask(t *testing.T, st *store.Store, desc string, kind models.DeliverableKind, priority float64) string {
	t.Helper()
	id, err := st.CreateTask(&models.Task{
		Sender:      "amara",
		Description: desc,
		Kind:        kind,
		Priority:    priority,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return id
}

func TestExecuteReadySetDispatchesWithinCapacity(t *testing.T) {
	e, st, d := newTestExecutor(t, 2)

	for i := 0; i < 3; i++ {
		createTask(t, st, fmt.Sprintf("research topic %d", i), models.KindResearch, 0.5)
	}

	report, err := e.ExecuteReadySet(context.Background(), "amara", 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(report.Dispatched) != 2 {
		t.Errorf("dispatched %d, want 2", len(report.Dispatched))
	}
	if len(report.Deferred) != 1 {
		t.Errorf("deferred %d, want 1", len(report.Deferred))
	}
	if d.count() != 2 {
		t.Errorf("dispatcher saw %d tasks, want 2", d.count())
	}

	n, _ := st.InProgressCount("research")
	if n != 2 {
		t.Errorf("in-progress = %d, want 2", n)
	}
}

func TestExecuteReadySetSaturatedPoolDispatchesNothing(t *testing.T) {
	e, st, _ := newTestExecutor(t, 2)

	// Two tasks already occupy the research pool.
	for i := 0; i < 2; i++ {
		id := createTask(t, st, fmt.Sprintf("busy %d", i), models.KindResearch, 0.5)
		if err := st.ClaimForDispatch(id, "research", 2); err != nil {
			t.Fatalf("pre-claim: %v", err)
		}
	}

	var waiting []string
	for i := 0; i < 3; i++ {
		waiting = append(waiting, createTask(t, st, fmt.Sprintf("waiting %d", i), models.KindResearch, 0.5))
	}

	report, err := e.ExecuteReadySet(context.Background(), "amara", 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(report.Dispatched) != 0 {
		t.Errorf("dispatched %d, want 0", len(report.Dispatched))
	}
	if len(report.Deferred) != 3 {
		t.Errorf("deferred %d, want 3", len(report.Deferred))
	}
	for _, id := range waiting {
		task, _ := st.GetTask(id)
		if task.Status != models.TaskStatusPending {
			t.Errorf("task %s status = %s, want pending", id, task.Status)
		}
	}
}

func TestExecuteReadySetRoutesByKind(t *testing.T) {
	e, st, _ := newTestExecutor(t, 2)

	research := createTask(t, st, "research pricing", models.KindResearch, 0.5)
	code := createTask(t, st, "build api", models.KindCode, 0.5)
	content := createTask(t, st, "write post", models.KindContent, 0.5)

	report, err := e.ExecuteReadySet(context.Background(), "amara", 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(report.Dispatched) != 3 {
		t.Fatalf("dispatched %d, want 3", len(report.Dispatched))
	}

	for id, pool := range map[string]string{
		research: "research",
		code:     "development",
		content:  DefaultPool, // unrouted kind falls back
	} {
		n, _ := st.InProgressCount(pool)
		if n < 1 {
			t.Errorf("task %s expected in pool %s", id, pool)
		}
	}
}

func TestDispatchErrorIsolatedAndRetried(t *testing.T) {
	e, st, d := newTestExecutor(t, 5)

	bad := createTask(t, st, "doomed research", models.KindResearch, 0.9)
	good := createTask(t, st, "fine research", models.KindResearch, 0.5)
	d.failTasks[bad] = errors.New("pool unreachable")

	report, err := e.ExecuteReadySet(context.Background(), "amara", 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// The failing task is recorded and reopened; the other one proceeds.
	if len(report.Errors) != 1 || report.Errors[0].TaskID != bad {
		t.Fatalf("errors = %v", report.Errors)
	}
	if len(report.Dispatched) != 1 || report.Dispatched[0] != good {
		t.Fatalf("dispatched = %v, want [%s]", report.Dispatched, good)
	}

	badTask, _ := st.GetTask(bad)
	if badTask.Status != models.TaskStatusPending {
		t.Errorf("failed dispatch should reopen to pending, got %s", badTask.Status)
	}

	// Next cycle retries the reopened task.
	delete(d.failTasks, bad)
	report, err = e.ExecuteReadySet(context.Background(), "amara", 10)
	if err != nil {
		t.Fatalf("retry execute: %v", err)
	}
	if len(report.Dispatched) != 1 || report.Dispatched[0] != bad {
		t.Errorf("retry dispatched = %v, want [%s]", report.Dispatched, bad)
	}
}

func TestPriorityOrderWithinPass(t *testing.T) {
	e, st, d := newTestExecutor(t, 1)

	createTask(t, st, "ordinary", models.KindResearch, 0.5)
	urgent := createTask(t, st, "urgent", models.KindResearch, 1.0)

	report, err := e.ExecuteReadySet(context.Background(), "amara", 10)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(report.Dispatched) != 1 || report.Dispatched[0] != urgent {
		t.Errorf("dispatched = %v, want the urgent task first", report.Dispatched)
	}
	if d.count() != 1 {
		t.Errorf("dispatcher saw %d, want 1", d.count())
	}
}

func TestOnCompletedCascade(t *testing.T) {
	e, st, _ := newTestExecutor(t, 2)

	x := createTask(t, st, "analyze funnel", models.KindAnalysis, 0.5)
	y := createTask(t, st, "fix funnel", models.KindCode, 0.5)
	if err := st.AddDependency(&models.DependencyEdge{
		FromID: y, ToID: x, Kind: models.EdgeBlocks, Origin: models.OriginSemantic,
	}); err != nil {
		t.Fatalf("add dependency: %v", err)
	}

	// Only x is schedulable.
	report, _ := e.ExecuteReadySet(context.Background(), "amara", 10)
	if len(report.Dispatched) != 1 || report.Dispatched[0] != x {
		t.Fatalf("dispatched = %v, want [%s]", report.Dispatched, x)
	}

	unblocked, err := e.OnCompleted(x)
	if err != nil {
		t.Fatalf("on completed: %v", err)
	}
	if len(unblocked) != 1 || unblocked[0] != y {
		t.Errorf("unblocked = %v, want [%s]", unblocked, y)
	}

	ready, _ := e.GetReadyTasks("amara", 10)
	if len(ready) != 1 || ready[0].ID != y {
		t.Errorf("ready = %v, want y eligible", ready)
	}
}

func TestOnCompletedPartialPredecessors(t *testing.T) {
	e, st, _ := newTestExecutor(t, 5)

	a := createTask(t, st, "a", models.KindResearch, 0.5)
	b := createTask(t, st, "b", models.KindResearch, 0.5)
	c := createTask(t, st, "c", models.KindCode, 0.5)
	for _, pred := range []string{a, b} {
		if err := st.AddDependency(&models.DependencyEdge{
			FromID: c, ToID: pred, Kind: models.EdgeBlocks, Origin: models.OriginSemantic,
		}); err != nil {
			t.Fatal(err)
		}
	}

	if err := st.UpdateStatus(a, models.TaskStatusInProgress); err != nil {
		t.Fatal(err)
	}
	unblocked, err := e.OnCompleted(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(unblocked) != 0 {
		t.Errorf("c still has an unmet predecessor, unblocked = %v", unblocked)
	}

	if err := st.UpdateStatus(b, models.TaskStatusInProgress); err != nil {
		t.Fatal(err)
	}
	unblocked, err = e.OnCompleted(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(unblocked) != 1 || unblocked[0] != c {
		t.Errorf("unblocked = %v, want [%s]", unblocked, c)
	}
}

func TestOnFailedDoesNotUnblockDependents(t *testing.T) {
	e, st, _ := newTestExecutor(t, 5)

	x := createTask(t, st, "x", models.KindResearch, 0.5)
	y := createTask(t, st, "y", models.KindCode, 0.5)
	if err := st.AddDependency(&models.DependencyEdge{
		FromID: y, ToID: x, Kind: models.EdgeBlocks, Origin: models.OriginSemantic,
	}); err != nil {
		t.Fatal(err)
	}

	if err := st.UpdateStatus(x, models.TaskStatusInProgress); err != nil {
		t.Fatal(err)
	}
	if err := e.OnFailed(x, "worker crashed"); err != nil {
		t.Fatalf("on failed: %v", err)
	}

	task, _ := st.GetTask(x)
	if task.Status != models.TaskStatusFailed || task.Error != "worker crashed" {
		t.Errorf("task = %s error = %q", task.Status, task.Error)
	}

	ready, _ := e.GetReadyTasks("amara", 10)
	if len(ready) != 0 {
		t.Errorf("dependent must stay blocked after failure, ready = %v", ready)
	}

	if err := e.Escalate(x); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	task, _ = st.GetTask(x)
	if task.Status != models.TaskStatusEscalated {
		t.Errorf("status = %s, want escalated", task.Status)
	}
}

func TestConcurrentPassesRespectCapacity(t *testing.T) {
	e, st, d := newTestExecutor(t, 2)

	for i := 0; i < 10; i++ {
		createTask(t, st, fmt.Sprintf("task %d", i), models.KindResearch, 0.5)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.ExecuteReadySet(context.Background(), "amara", 10)
		}()
	}
	wg.Wait()

	n, _ := st.InProgressCount("research")
	if n != 2 {
		t.Errorf("in-progress = %d, want exactly 2", n)
	}
	if d.count() != 2 {
		t.Errorf("dispatcher saw %d hand-offs, want 2", d.count())
	}
}

func TestRunLoopSchedulesOnTrigger(t *testing.T) {
	e, st, d := newTestExecutor(t, 2)
	createTask(t, st, "research pricing", models.KindResearch, 0.5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx, time.Hour, 10)
	}()

	e.Trigger()

	deadline := time.After(2 * time.Second)
	for d.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("run loop never dispatched after trigger")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
