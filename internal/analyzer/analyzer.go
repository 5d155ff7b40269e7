// Package analyzer turns a batch of buffered messages into task entities
// and inferred dependency edges, using embedding similarity and a static
// kind-pair heuristic table.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Danservfinn/kurultai-sub008/internal/buffer"
	"github.com/Danservfinn/kurultai-sub008/internal/embedding"
	"github.com/Danservfinn/kurultai-sub008/pkg/models"
)

// Thresholds holds the similarity cut-offs for edge inference.
type Thresholds struct {
	// High is the similarity at or above which a typed edge is created
	// from the kind-pair table.
	High float64
	// Medium is the similarity at or above which a parallel_ok affinity
	// edge is created. Below it, no edge.
	Medium float64
	// Duplicate is the similarity at or above which the later task is
	// folded into the earlier one.
	Duplicate float64
}

// DefaultThresholds match the documented confidence bands.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.75, Medium: 0.55, Duplicate: 0.95}
}

// Analyzer materializes tasks and dependency edges from message batches.
type Analyzer struct {
	embedder   embedding.Embedder
	thresholds Thresholds
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// WithClock overrides the clock (for tests).
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New creates an Analyzer using the given embedder and thresholds.
func New(embedder embedding.Embedder, thresholds Thresholds, opts ...Option) *Analyzer {
	a := &Analyzer{
		embedder:   embedder,
		thresholds: thresholds,
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze converts a batch into tasks plus inferred edges. Tasks are
// created pending with the default priority; edge inference is a pure
// function of the embeddings and the kind-pair table, so identical batches
// produce identical structures.
func (a *Analyzer) Analyze(ctx context.Context, batch []buffer.Message) ([]*models.Task, []*models.DependencyEdge, error) {
	if len(batch) == 0 {
		return nil, nil, nil
	}

	now := a.now()
	tasks := make([]*models.Task, 0, len(batch))
	for _, msg := range batch {
		vec, err := a.embedder.Embed(ctx, msg.Text)
		if err != nil {
			return nil, nil, fmt.Errorf("embed %q: %w", msg.Text, err)
		}
		task := &models.Task{
			ID:              uuid.New().String(),
			Sender:          msg.Sender,
			Description:     msg.Text,
			Kind:            ClassifyKind(msg.Text),
			Status:          models.TaskStatusPending,
			Priority:        models.DefaultPriority,
			Embedding:       vec,
			CreatedAt:       msg.ReceivedAt,
			WindowExpiresAt: now,
		}
		tasks = append(tasks, task)
	}

	a.foldDuplicates(tasks)
	edges := a.InferEdges(tasks)

	a.logger.Debug("batch analyzed",
		zap.String("sender", batch[0].Sender),
		zap.Int("tasks", len(tasks)),
		zap.Int("edges", len(edges)))
	return tasks, edges, nil
}

// foldDuplicates marks near-identical tasks as merged into the earliest
// occurrence. Merged tasks take no part in edge inference or scheduling.
func (a *Analyzer) foldDuplicates(tasks []*models.Task) {
	for i := 0; i < len(tasks); i++ {
		if tasks[i].MergedInto != "" {
			continue
		}
		for j := i + 1; j < len(tasks); j++ {
			if tasks[j].MergedInto != "" {
				continue
			}
			sim := embedding.Cosine(tasks[i].Embedding, tasks[j].Embedding)
			if sim >= a.thresholds.Duplicate {
				tasks[j].MergedInto = tasks[i].ID
				tasks[j].Status = models.TaskStatusAborted
				a.logger.Debug("folded near-duplicate task",
					zap.String("task", tasks[j].ID),
					zap.String("into", tasks[i].ID),
					zap.Float64("similarity", sim))
			}
		}
	}
}

// InferEdges computes dependency edges for every unordered pair of tasks in
// the batch. Quadratic in batch size, which the buffer cap bounds.
func (a *Analyzer) InferEdges(tasks []*models.Task) []*models.DependencyEdge {
	var edges []*models.DependencyEdge
	now := a.now()

	for i := 0; i < len(tasks); i++ {
		if tasks[i].MergedInto != "" {
			continue
		}
		for j := i + 1; j < len(tasks); j++ {
			if tasks[j].MergedInto != "" {
				continue
			}
			sim := embedding.Cosine(tasks[i].Embedding, tasks[j].Embedding)
			if sim < a.thresholds.Medium {
				continue
			}

			edge := &models.DependencyEdge{
				Weight:     sim,
				Confidence: sim,
				Origin:     models.OriginSemantic,
				CreatedAt:  now,
			}
			if sim >= a.thresholds.High {
				from, to, kind := edgeFor(tasks[i], tasks[j])
				edge.FromID, edge.ToID, edge.Kind = from, to, kind
			} else {
				// Medium band: affinity noted, no ordering implied.
				edge.FromID, edge.ToID, edge.Kind = tasks[i].ID, tasks[j].ID, models.EdgeParallelOK
			}
			edges = append(edges, edge)
		}
	}
	return edges
}

// pairRule describes the edge a high-similarity (upstream, downstream)
// kind pair produces.
type pairRule struct {
	kind models.EdgeKind
}

// kindRules is the static lookup table keyed on (upstream kind,
// downstream kind). A blocks rule gates the downstream task on the
// upstream one; a feeds_into rule marks the upstream output as context
// for the downstream task. Unlisted pairs default to parallel_ok.
var kindRules = map[[2]models.DeliverableKind]pairRule{
	{models.KindResearch, models.KindStrategy}:   {models.EdgeFeedsInto},
	{models.KindResearch, models.KindAnalysis}:   {models.EdgeFeedsInto},
	{models.KindResearch, models.KindContent}:    {models.EdgeFeedsInto},
	{models.KindResearch, models.KindCode}:       {models.EdgeBlocks},
	{models.KindAnalysis, models.KindCode}:       {models.EdgeBlocks},
	{models.KindAnalysis, models.KindStrategy}:   {models.EdgeFeedsInto},
	{models.KindStrategy, models.KindContent}:    {models.EdgeFeedsInto},
	{models.KindStrategy, models.KindCode}:       {models.EdgeFeedsInto},
	{models.KindStrategy, models.KindOperations}: {models.EdgeFeedsInto},
	{models.KindCode, models.KindTesting}:        {models.EdgeBlocks},
}

// edgeFor resolves direction and kind for a high-similarity pair.
// For blocks the edge runs dependent -> dependency (downstream gated on
// upstream); for feeds_into it runs producer -> consumer. Pairs with no
// table entry are parallel_ok in batch order.
func edgeFor(x, y *models.Task) (from, to string, kind models.EdgeKind) {
	if rule, ok := kindRules[[2]models.DeliverableKind{x.Kind, y.Kind}]; ok {
		return orient(x, y, rule.kind)
	}
	if rule, ok := kindRules[[2]models.DeliverableKind{y.Kind, x.Kind}]; ok {
		return orient(y, x, rule.kind)
	}
	return x.ID, y.ID, models.EdgeParallelOK
}

// orient lays the edge between upstream and downstream per the edge kind's
// direction convention.
func orient(upstream, downstream *models.Task, kind models.EdgeKind) (string, string, models.EdgeKind) {
	if kind == models.EdgeBlocks {
		return downstream.ID, upstream.ID, kind
	}
	return upstream.ID, downstream.ID, kind
}
