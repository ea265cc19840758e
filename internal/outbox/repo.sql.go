package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxErrorLen = 1024

// TxWriter appends events using an open transaction.
type TxWriter struct {
	tx pgx.Tx
}

// NewTxWriter wraps tx.
func NewTxWriter(tx pgx.Tx) *TxWriter {
	return &TxWriter{tx: tx}
}

// Append inserts the event row.
func (w *TxWriter) Append(ctx context.Context, event Event) error {
	_, err := w.tx.Exec(ctx, `INSERT INTO outbox_events (id, business_id, aggregate_type, aggregate_id, event_type, payload, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, event.ID, event.BusinessID, event.AggregateType, event.AggregateID, event.EventType, []byte(event.Payload), event.OccurredAt)
	return err
}

// Repository claims and settles pending events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ClaimBatch locks up to limit pending events, hands them to fn and records
// the outcome in the same transaction. Concurrent relays skip locked rows.
func (r *Repository) ClaimBatch(ctx context.Context, limit int, fn func(context.Context, []Event) error) (int, error) {
	if r == nil {
		return 0, errors.New("outbox repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	rows, err := tx.Query(ctx, `SELECT id, business_id, aggregate_type, aggregate_id, event_type, payload, occurred_at, attempts
FROM outbox_events
WHERE published_at IS NULL
ORDER BY occurred_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return 0, err
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var evt Event
		var payload []byte
		err := row.Scan(&evt.ID, &evt.BusinessID, &evt.AggregateType, &evt.AggregateID, &evt.EventType, &payload, &evt.OccurredAt, &evt.Attempts)
		evt.Payload = payload
		return evt, err
	})
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(events))
	for _, evt := range events {
		ids = append(ids, evt.ID.String())
	}
	if pubErr := fn(ctx, events); pubErr != nil {
		msg := pubErr.Error()
		if len(msg) > maxErrorLen {
			msg = msg[:maxErrorLen]
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = ANY($1::uuid[])`, ids, msg); err != nil {
			return 0, err
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, err
		}
		return 0, pubErr
	}
	if _, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = $2, attempts = attempts + 1, last_error = '' WHERE id = ANY($1::uuid[])`, ids, time.Now().UTC()); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(events), nil
}
