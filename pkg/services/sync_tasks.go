package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/strataforge/strata-engine/pkg/apperrors"
	"github.com/strataforge/strata-engine/pkg/services/workqueue"
)

// SyncPassTask runs one reconciliation pass in one direction as a background
// remote job. Partial failures are retryable: the cursor did not move, so the
// next attempt picks the batch up again. A finished pass schedules its
// successor after the configured interval, so reconciliation keeps running
// for the life of the process.
type SyncPassTask struct {
	workqueue.BaseTask

	run      func(ctx context.Context) error
	interval time.Duration
	respawn  func() *SyncPassTask
	logger   *zap.Logger
}

// NewToMirrorTask creates a background push pass. interval <= 0 runs once.
func NewToMirrorTask(syncer SyncService, interval time.Duration, logger *zap.Logger) *SyncPassTask {
	t := &SyncPassTask{
		BaseTask: workqueue.NewBaseTask("sync-to-mirror", true),
		run: func(ctx context.Context) error {
			_, err := syncer.ToMirror(ctx)
			return err
		},
		interval: interval,
		logger:   logger.Named("sync_task"),
	}
	t.respawn = func() *SyncPassTask { return NewToMirrorTask(syncer, interval, logger) }
	return t
}

// NewFromMirrorTask creates a background pull pass. interval <= 0 runs once.
func NewFromMirrorTask(syncer SyncService, interval time.Duration, logger *zap.Logger) *SyncPassTask {
	t := &SyncPassTask{
		BaseTask: workqueue.NewBaseTask("sync-from-mirror", true),
		run: func(ctx context.Context) error {
			_, err := syncer.FromMirror(ctx)
			return err
		},
		interval: interval,
		logger:   logger.Named("sync_task"),
	}
	t.respawn = func() *SyncPassTask { return NewFromMirrorTask(syncer, interval, logger) }
	return t
}

var _ workqueue.Task = (*SyncPassTask)(nil)

func (t *SyncPassTask) Execute(ctx context.Context, enqueuer workqueue.TaskEnqueuer) error {
	var partial *apperrors.SyncPartialError
	err := t.run(ctx)
	if err == nil {
		t.scheduleNext(ctx, enqueuer)
		return nil
	}
	// Retryable outcomes re-run this same task through the queue's backoff;
	// the successor is scheduled by whichever attempt finishes.
	if errors.As(err, &partial) {
		t.logger.Warn("sync pass left failures for retry",
			zap.String("direction", partial.Direction),
			zap.Int("failed", len(partial.Failures)))
		return workqueue.Retryable(err)
	}
	if errors.Is(err, apperrors.ErrSyncInProgress) {
		return workqueue.Retryable(err)
	}

	// A terminal failure ends this task but not reconciliation itself.
	t.scheduleNext(ctx, enqueuer)
	return err
}

// scheduleNext enqueues a fresh pass after the interval. A fresh task carries
// clean retry state; enqueueing on a cancelled queue is ignored, so pending
// timers are harmless at shutdown.
func (t *SyncPassTask) scheduleNext(ctx context.Context, enqueuer workqueue.TaskEnqueuer) {
	if t.interval <= 0 || t.respawn == nil || ctx.Err() != nil {
		return
	}
	next := t.respawn()
	time.AfterFunc(t.interval, func() { enqueuer.Enqueue(next) })
}
