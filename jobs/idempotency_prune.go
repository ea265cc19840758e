package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
)

// DefaultIdempotencyRetention keeps keys long enough to absorb client retries across a weekend.
const DefaultIdempotencyRetention = 72 * time.Hour

// Pruner removes idempotency keys older than a retention window.
type Pruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyPruneJob deletes expired idempotency keys.
type IdempotencyPruneJob struct {
	Store   Pruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyPruneJob constructs the job handler.
func NewIdempotencyPruneJob(store Pruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyPruneJob {
	return &IdempotencyPruneJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle runs one prune pass.
func (j *IdempotencyPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency prune: store not configured")
	}
	var payload IdempotencyPrunePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	retention := DefaultIdempotencyRetention
	if payload.RetentionHours > 0 {
		retention = time.Duration(payload.RetentionHours) * time.Hour
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskIdempotencyPrune)
	err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		j.log().Error("prune idempotency keys", slog.Any("error", err))
	} else {
		j.log().Info("idempotency keys pruned", slog.Duration("retention", retention))
	}
	return tracker.End(err)
}

func (j *IdempotencyPruneJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIdempotencyPrune))
	}
	return slog.Default().With(slog.String("job", TaskIdempotencyPrune))
}
