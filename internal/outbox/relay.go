package outbox

import (
	"context"
	"errors"
	"log/slog"
)

const defaultBatchSize = 100

// Publisher delivers events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// Store claims pending events for publishing.
type Store interface {
	ClaimBatch(ctx context.Context, limit int, fn func(context.Context, []Event) error) (int, error)
}

// Relay drains the outbox into a Publisher.
type Relay struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	batchSize int
}

// NewRelay constructs Relay.
func NewRelay(store Store, publisher Publisher, logger *slog.Logger, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{store: store, publisher: publisher, logger: logger, batchSize: batchSize}
}

// Drain publishes batches until the outbox is empty, the context ends or
// maxBatches is reached. It returns the number of events published.
func (r *Relay) Drain(ctx context.Context, maxBatches int) (int, error) {
	if r == nil || r.store == nil || r.publisher == nil {
		return 0, errors.New("outbox: relay not initialised")
	}
	total := 0
	for i := 0; maxBatches <= 0 || i < maxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.store.ClaimBatch(ctx, r.batchSize, r.publisher.Publish)
		if err != nil {
			r.logger.Error("outbox publish failed", slog.Int("published", total), slog.Any("error", err))
			return total, err
		}
		total += n
		if n < r.batchSize {
			break
		}
	}
	if total > 0 {
		r.logger.Info("outbox drained", slog.Int("published", total))
	}
	return total, nil
}
