package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
)

// Drainer publishes pending outbox events.
type Drainer interface {
	Drain(ctx context.Context, maxBatches int) (int, error)
}

// OutboxRelayJob moves committed domain events to the message bus.
type OutboxRelayJob struct {
	Relay   Drainer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewOutboxRelayJob constructs the job handler.
func NewOutboxRelayJob(relay Drainer, logger *slog.Logger, metrics *jobmetrics.Metrics) *OutboxRelayJob {
	return &OutboxRelayJob{Relay: relay, Logger: logger, Metrics: metrics}
}

// Handle drains the outbox.
func (j *OutboxRelayJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Relay == nil {
		return errors.New("outbox relay: relay not configured")
	}
	var payload OutboxRelayPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskOutboxRelay)
	published, err := j.Relay.Drain(ctx, payload.MaxBatches)
	metrics.AddPublished(published)
	if err != nil {
		j.log().Error("drain outbox", slog.Int("published", published), slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *OutboxRelayJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskOutboxRelay))
	}
	return slog.Default().With(slog.String("job", TaskOutboxRelay))
}
