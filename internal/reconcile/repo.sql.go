package reconcile

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales"
)

// Repository opens PostgreSQL transactions spanning every store the cascades touch.
type Repository struct {
	runner *db.TxRunner
}

// NewRepository constructs Repository.
func NewRepository(runner *db.TxRunner) *Repository {
	return &Repository{runner: runner}
}

// WithTx executes the callback inside a retrying repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.runner == nil {
		return errors.New("reconcile repository not initialised")
	}
	return r.runner.Run(ctx, func(tx pgx.Tx) error {
		return fn(ctx, txStores{tx: tx})
	})
}

type txStores struct {
	tx pgx.Tx
}

func (s txStores) Procurement() procurement.TxRepository { return procurement.NewTxStore(s.tx) }
func (s txStores) Sales() sales.TxRepository             { return sales.NewTxStore(s.tx) }
func (s txStores) Stock() inventory.LedgerTx             { return inventory.NewTxStore(s.tx) }
func (s txStores) Events() outbox.Writer                 { return outbox.NewTxWriter(s.tx) }
