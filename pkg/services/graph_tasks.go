package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/strataforge/strata-engine/pkg/services/workqueue"
)

// AnalyticsRecomputeTask recomputes centrality and community properties as a
// background compute job. A cancelled run leaves partially written derived
// properties behind; the next run overwrites them. Each finished run
// schedules its successor after the configured interval.
type AnalyticsRecomputeTask struct {
	workqueue.BaseTask

	graph    GraphService
	interval time.Duration
	respawn  func() *AnalyticsRecomputeTask
	logger   *zap.Logger
}

// NewAnalyticsRecomputeTask creates a recompute task. interval <= 0 runs once.
func NewAnalyticsRecomputeTask(graph GraphService, interval time.Duration, logger *zap.Logger) *AnalyticsRecomputeTask {
	t := &AnalyticsRecomputeTask{
		BaseTask: workqueue.NewBaseTask("analytics-recompute", false),
		graph:    graph,
		interval: interval,
		logger:   logger.Named("analytics_task"),
	}
	t.respawn = func() *AnalyticsRecomputeTask { return NewAnalyticsRecomputeTask(graph, interval, logger) }
	return t
}

var _ workqueue.Task = (*AnalyticsRecomputeTask)(nil)

func (t *AnalyticsRecomputeTask) Execute(ctx context.Context, enqueuer workqueue.TaskEnqueuer) error {
	defer t.scheduleNext(ctx, enqueuer)

	if _, err := t.graph.Centrality(ctx, 0, ""); err != nil {
		return err
	}

	assignment, err := t.graph.Communities(ctx, "")
	if err != nil {
		return err
	}

	t.logger.Info("analytics recompute finished", zap.Int("communities", assignment.Count))
	return nil
}

func (t *AnalyticsRecomputeTask) scheduleNext(ctx context.Context, enqueuer workqueue.TaskEnqueuer) {
	if t.interval <= 0 || t.respawn == nil || ctx.Err() != nil {
		return
	}
	next := t.respawn()
	time.AfterFunc(t.interval, func() { enqueuer.Enqueue(next) })
}
