package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Danservfinn/kurultai-sub008/internal/analyzer"
	"github.com/Danservfinn/kurultai-sub008/internal/audit"
	"github.com/Danservfinn/kurultai-sub008/internal/buffer"
	"github.com/Danservfinn/kurultai-sub008/internal/commands"
	"github.com/Danservfinn/kurultai-sub008/internal/config"
	"github.com/Danservfinn/kurultai-sub008/internal/embedding"
	"github.com/Danservfinn/kurultai-sub008/internal/executor"
	"github.com/Danservfinn/kurultai-sub008/internal/logging"
	"github.com/Danservfinn/kurultai-sub008/internal/store"
	"github.com/Danservfinn/kurultai-sub008/pkg/models"
)

var runSender string

// readyLimit caps how many ready tasks one scheduling pass considers
// per sender.
const readyLimit = 32

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the engine, reading messages from stdin",
	Long: `Run the engine loop.

Each stdin line is one inbound message under the --sender identity.
Lines are checked against the override command patterns first; anything
unrecognized enters the intent window buffer. Once the sender goes quiet
for the window duration the batch is analyzed, stored in the graph, and
ready tasks are dispatched to worker pools.

Worker results are reported back on stdin:
  /done <task-id>             mark a dispatched task completed
  /fail <task-id> [reason]    mark a dispatched task failed
  /escalate <task-id>         escalate a failed task for human review
  /quit                       stop the engine`,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().StringVar(&runSender, "sender", "operator", "Sender identity attached to stdin messages")
}

// engine bundles the wired components of one run.
type engine struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	buffer   *buffer.Buffer
	analyzer *analyzer.Analyzer
	executor *executor.Executor
	handler  *commands.Handler
	out      io.Writer
}

func runEngine(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync()

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	st := store.New(db)

	embedder := embedding.NewHTTPEmbedder(cfg.Embedding.Endpoint, cfg.Embedding.Model, cfg.Embedding.Timeout)
	healthCtx, healthCancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	if err := embedder.HealthCheck(healthCtx); err != nil {
		logger.Warn("embedding service unreachable, batches will be stored without inferred dependencies",
			zap.String("endpoint", cfg.Embedding.Endpoint), zap.Error(err))
	}
	healthCancel()

	eng := &engine{
		cfg:    cfg,
		logger: logger,
		store:  st,
		buffer: buffer.New(cfg.Buffer.Window, cfg.Buffer.Cap, buffer.WithLogger(logger)),
		analyzer: analyzer.New(embedder, analyzer.Thresholds{
			High:      cfg.Analyzer.HighThreshold,
			Medium:    cfg.Analyzer.MediumThreshold,
			Duplicate: cfg.Analyzer.DuplicateThreshold,
		}, analyzer.WithLogger(logger)),
		handler: commands.New(st, audit.NewLogger(logger)),
		out:     os.Stdout,
	}
	eng.executor = executor.New(st,
		newConsoleDispatcher(eng.out),
		executor.RoutingFromConfig(cfg.Executor.Routing),
		cfg.Executor.PoolConcurrency,
		executor.WithLogger(logger))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go func() {
		if err := eng.executor.Run(ctx, cfg.Executor.Interval, readyLimit); err != nil && ctx.Err() == nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	fmt.Fprintf(eng.out, "kurultai listening as %q (window %s, pool cap %d)\n",
		runSender, cfg.Buffer.Window, cfg.Executor.PoolConcurrency)
	return eng.loop(ctx, cancel, os.Stdin)
}

// loop multiplexes stdin lines with the periodic buffer sweep until the
// context is cancelled or stdin closes.
func (e *engine) loop(ctx context.Context, cancel context.CancelFunc, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	sweep := time.NewTicker(sweepInterval(e.cfg.Buffer.Window))
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			for _, batch := range e.buffer.Sweep() {
				e.ingest(ctx, batch)
			}
		case line, ok := <-lines:
			if !ok {
				// Drain whatever is still buffered before exiting.
				for _, batch := range e.buffer.Sweep() {
					e.ingest(ctx, batch)
				}
				return nil
			}
			if quit := e.handleLine(ctx, line); quit {
				cancel()
				return nil
			}
		}
	}
}

// handleLine routes one stdin line: control verb, override command, or
// buffered message. Returns true when the engine should stop.
func (e *engine) handleLine(ctx context.Context, line string) bool {
	text := strings.TrimSpace(line)
	if text == "" {
		return false
	}
	if strings.HasPrefix(text, "/") {
		return e.control(text)
	}

	if reply, handled := e.handler.Handle(runSender, text); handled {
		fmt.Fprintln(e.out, reply)
		e.executor.Trigger()
		return false
	}

	if batch := e.buffer.Add(runSender, text); batch != nil {
		e.ingest(ctx, batch)
	}
	return false
}

// control executes a worker-report verb.
func (e *engine) control(text string) bool {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit":
		return true
	case "/done":
		if len(fields) != 2 {
			fmt.Fprintln(e.out, "usage: /done <task-id>")
			return false
		}
		unblocked, err := e.executor.OnCompleted(fields[1])
		if err != nil {
			fmt.Fprintf(e.out, "%s %v\n", color.RedString("error"), err)
			return false
		}
		fmt.Fprintf(e.out, "%s %s", color.GreenString("completed"), fields[1])
		if len(unblocked) > 0 {
			fmt.Fprintf(e.out, ", unblocked %s", strings.Join(unblocked, ", "))
		}
		fmt.Fprintln(e.out)
	case "/fail":
		if len(fields) < 2 {
			fmt.Fprintln(e.out, "usage: /fail <task-id> [reason]")
			return false
		}
		reason := strings.Join(fields[2:], " ")
		if reason == "" {
			reason = "worker reported failure"
		}
		if err := e.executor.OnFailed(fields[1], reason); err != nil {
			fmt.Fprintf(e.out, "%s %v\n", color.RedString("error"), err)
			return false
		}
		fmt.Fprintf(e.out, "%s %s: %s\n", color.RedString("failed"), fields[1], reason)
	case "/escalate":
		if len(fields) != 2 {
			fmt.Fprintln(e.out, "usage: /escalate <task-id>")
			return false
		}
		if err := e.executor.Escalate(fields[1]); err != nil {
			fmt.Fprintf(e.out, "%s %v\n", color.RedString("error"), err)
			return false
		}
		fmt.Fprintf(e.out, "%s %s\n", color.YellowString("escalated"), fields[1])
	default:
		fmt.Fprintf(e.out, "unknown control %q (use /done, /fail, /escalate, /quit)\n", fields[0])
	}
	return false
}

// ingest analyzes one released batch and commits it to the graph. When the
// embedding service is down the batch degrades to plain tasks with no
// inferred dependencies rather than being lost.
func (e *engine) ingest(ctx context.Context, batch []buffer.Message) {
	tasks, edges, err := e.analyzer.Analyze(ctx, batch)
	if err != nil {
		e.logger.Warn("batch analysis degraded, storing without dependencies", zap.Error(err))
		tasks = plainTasks(batch)
		edges = nil
	}

	created := 0
	for _, task := range tasks {
		if _, err := e.store.CreateTask(task); err != nil {
			e.logger.Error("persist task", zap.String("description", task.Description), zap.Error(err))
			continue
		}
		created++
	}
	linked := 0
	for _, edge := range edges {
		if err := e.store.AddDependency(edge); err != nil {
			e.logger.Warn("inferred edge rejected",
				zap.String("from", edge.FromID), zap.String("to", edge.ToID), zap.Error(err))
			continue
		}
		linked++
	}

	fmt.Fprintf(e.out, "%s %d task(s), %d dependency edge(s)\n",
		color.GreenString("planned"), created, linked)
	e.executor.Trigger()
}

// plainTasks builds keyword-classified tasks for a batch whose embeddings
// could not be computed.
func plainTasks(batch []buffer.Message) []*models.Task {
	now := time.Now()
	tasks := make([]*models.Task, 0, len(batch))
	for _, msg := range batch {
		tasks = append(tasks, &models.Task{
			Sender:          msg.Sender,
			Description:     msg.Text,
			Kind:            analyzer.ClassifyKind(msg.Text),
			Priority:        models.DefaultPriority,
			CreatedAt:       msg.ReceivedAt,
			WindowExpiresAt: now,
		})
	}
	return tasks
}

// sweepInterval polls a few times per window, bounded to stay responsive
// for short test windows and cheap for long ones.
func sweepInterval(window time.Duration) time.Duration {
	interval := window / 4
	if interval < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	if interval > 5*time.Second {
		return 5 * time.Second
	}
	return interval
}
