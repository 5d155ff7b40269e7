package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/Danservfinn/kurultai-sub008/pkg/models"
)

// consoleDispatcher announces dispatches on the outbound text channel.
// Workers execute out of band; their results come back through the /done
// and /fail control lines on stdin.
type consoleDispatcher struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsoleDispatcher(out io.Writer) *consoleDispatcher {
	return &consoleDispatcher{out: out}
}

func (d *consoleDispatcher) Dispatch(_ context.Context, task *models.Task, pool string) (string, error) {
	workerID := pool + "-" + uuid.New().String()[:8]
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "%s %s -> %s [%s] %q\n",
		color.CyanString("dispatch"), task.ID, workerID, pool, task.Description)
	return workerID, nil
}
