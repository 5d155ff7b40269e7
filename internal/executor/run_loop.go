package executor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Run drives scheduling until the context is cancelled. A pass runs on a
// fixed cadence and immediately after a completion pokes the trigger
// channel. Each pass schedules every sender with pending work; a failing
// sender never stops the others.
func (e *Executor) Run(ctx context.Context, interval time.Duration, limit int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-e.trigger:
		}
		e.runPass(ctx, limit)
	}
}

// runPass executes one scheduling pass for every active sender.
func (e *Executor) runPass(ctx context.Context, limit int) {
	senders, err := e.store.ActiveSenders()
	if err != nil {
		e.logger.Error("list active senders", zap.Error(err))
		return
	}

	for _, sender := range senders {
		report, err := e.ExecuteReadySet(ctx, sender, limit)
		if err != nil {
			e.logger.Error("scheduling pass", zap.String("sender", sender), zap.Error(err))
			continue
		}
		for _, de := range report.Errors {
			e.logger.Warn("dispatch error, task reopened",
				zap.String("sender", sender),
				zap.String("task", de.TaskID),
				zap.String("pool", de.Pool),
				zap.Error(de.Err))
		}
	}
}
