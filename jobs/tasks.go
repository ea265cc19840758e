package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity replays every product's movements against its stock.
	TaskLedgerIntegrity = "inventory:ledger-integrity"
	// TaskOutboxRelay publishes pending outbox events.
	TaskOutboxRelay = "outbox:relay"
	// TaskIdempotencyPrune deletes expired idempotency keys.
	TaskIdempotencyPrune = "idempotency:prune"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LedgerIntegrityPayload limits the check to one business; zero checks all.
type LedgerIntegrityPayload struct {
	BusinessID int64 `json:"business_id,omitempty"`
}

// OutboxRelayPayload bounds one relay run; zero drains until empty.
type OutboxRelayPayload struct {
	MaxBatches int `json:"max_batches,omitempty"`
}

// IdempotencyPrunePayload sets the retention window in hours; zero uses the default.
type IdempotencyPrunePayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewLedgerIntegrityTask constructs an Asynq task for the ledger check.
func NewLedgerIntegrityTask(businessID int64) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{BusinessID: businessID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// NewOutboxRelayTask constructs an Asynq task for the outbox relay.
func NewOutboxRelayTask(maxBatches int) (*asynq.Task, error) {
	body, err := json.Marshal(OutboxRelayPayload{MaxBatches: maxBatches})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxRelay, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewIdempotencyPruneTask constructs an Asynq task for idempotency key retention.
func NewIdempotencyPruneTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyPrunePayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyPrune, body, asynq.Queue(QueueDefault), asynq.MaxRetry(2)), nil
}

// TaskByName builds a task with default payload for manual triggering.
func TaskByName(name string) (*asynq.Task, error) {
	switch name {
	case TaskLedgerIntegrity:
		return NewLedgerIntegrityTask(0)
	case TaskOutboxRelay:
		return NewOutboxRelayTask(0)
	case TaskIdempotencyPrune:
		return NewIdempotencyPruneTask(0)
	default:
		return nil, fmt.Errorf("unknown task %q", name)
	}
}
