package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository persists sales orders in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	runner *db.TxRunner
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, runner *db.TxRunner) *Repository {
	return &Repository{pool: pool, runner: runner}
}

// TxStore implements TxRepository on an open transaction.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps tx.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// WithTx executes the callback inside a retrying repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("sales repository not initialised")
	}
	return r.runner.Run(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

const orderColumns = `id, business_id, order_number, customer_id, status, held_from, priority, carrier, tracking_number, shipped_at, delivered_at, notes, status_reason, created_by, created_at, updated_at`

const lineColumns = `id, sales_order_id, product_id, quantity_ordered, quantity_allocated, quantity_picked, quantity_shipped, unit_price, status, stock_committed`

func loadOrder(ctx context.Context, q querier, businessID, id int64, lock string) (SalesOrder, error) {
	var o SalesOrder
	err := q.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE business_id=$1 AND id=$2 `+lock, businessID, id).
		Scan(&o.ID, &o.BusinessID, &o.OrderNumber, &o.CustomerID, &o.Status, &o.HeldFrom, &o.Priority, &o.Carrier, &o.TrackingNumber,
			&o.ShippedAt, &o.DeliveredAt, &o.Notes, &o.StatusReason, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SalesOrder{}, ErrSalesOrderNotFound
	}
	if err != nil {
		return SalesOrder{}, err
	}
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM sales_order_lines WHERE sales_order_id=$1 ORDER BY id `+lock, o.ID)
	if err != nil {
		return SalesOrder{}, err
	}
	o.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (SalesOrderLine, error) {
		var l SalesOrderLine
		err := row.Scan(&l.ID, &l.SalesOrderID, &l.ProductID, &l.QuantityOrdered, &l.QuantityAllocated, &l.QuantityPicked,
			&l.QuantityShipped, &l.UnitPrice, &l.Status, &l.StockCommitted)
		return l, err
	})
	return o, err
}

// GetSalesOrder loads an order with its lines.
func (r *Repository) GetSalesOrder(ctx context.Context, businessID, id int64) (SalesOrder, error) {
	return loadOrder(ctx, r.pool, businessID, id, "")
}

// ListSalesOrders lists orders matching the filter, newest first.
func (r *Repository) ListSalesOrders(ctx context.Context, filter Filter) ([]SalesOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM sales_orders
WHERE business_id=$1 AND ($2 = '' OR status=$2) AND ($3 = 0 OR customer_id=$3)
ORDER BY id DESC
LIMIT $4 OFFSET $5`, filter.BusinessID, string(filter.Status), filter.CustomerID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	orders := make([]SalesOrder, 0, len(ids))
	for _, id := range ids {
		o, err := loadOrder(ctx, r.pool, filter.BusinessID, id, "")
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// GetSalesOrderForUpdate locks the order and its lines.
func (s *TxStore) GetSalesOrderForUpdate(ctx context.Context, businessID, id int64) (SalesOrder, error) {
	return loadOrder(ctx, s.tx, businessID, id, "FOR UPDATE")
}

// InsertSalesOrder stores the header and lines.
func (s *TxStore) InsertSalesOrder(ctx context.Context, o SalesOrder) (SalesOrder, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO sales_orders (business_id, order_number, customer_id, status, priority, notes, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		o.BusinessID, o.OrderNumber, o.CustomerID, string(o.Status), string(o.Priority), o.Notes, o.CreatedBy).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return SalesOrder{}, err
	}
	for i, l := range o.Lines {
		l.SalesOrderID = o.ID
		if err := s.tx.QueryRow(ctx, `INSERT INTO sales_order_lines (sales_order_id, product_id, quantity_ordered, unit_price, status)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, o.ID, l.ProductID, l.QuantityOrdered, l.UnitPrice, string(l.Status)).Scan(&l.ID); err != nil {
			return SalesOrder{}, err
		}
		o.Lines[i] = l
	}
	return o, nil
}

// UpdateSalesOrder persists the mutable header fields.
func (s *TxStore) UpdateSalesOrder(ctx context.Context, o SalesOrder) error {
	_, err := s.tx.Exec(ctx, `UPDATE sales_orders SET status=$2, held_from=$3, carrier=$4, tracking_number=$5, shipped_at=$6, delivered_at=$7, status_reason=$8, updated_at=NOW()
WHERE id=$1`, o.ID, string(o.Status), string(o.HeldFrom), o.Carrier, o.TrackingNumber, o.ShippedAt, o.DeliveredAt, o.StatusReason)
	return err
}

// UpdateSalesOrderLine persists line quantities and status.
func (s *TxStore) UpdateSalesOrderLine(ctx context.Context, l SalesOrderLine) error {
	_, err := s.tx.Exec(ctx, `UPDATE sales_order_lines SET quantity_allocated=$2, quantity_picked=$3, quantity_shipped=$4, status=$5, stock_committed=$6 WHERE id=$1`,
		l.ID, l.QuantityAllocated, l.QuantityPicked, l.QuantityShipped, string(l.Status), l.StockCommitted)
	return err
}

// DeleteSalesOrder removes an order; lines cascade.
func (s *TxStore) DeleteSalesOrder(ctx context.Context, id int64) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM sales_orders WHERE id=$1`, id)
	return err
}

// SumReserved totals allocations not yet posted to the ledger on other orders.
func (s *TxStore) SumReserved(ctx context.Context, businessID, productID, excludeOrderID int64) (decimal.Decimal, error) {
	var reserved decimal.Decimal
	err := s.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.quantity_allocated - l.quantity_shipped), 0)
FROM sales_order_lines l
JOIN sales_orders o ON o.id = l.sales_order_id
WHERE o.business_id=$1 AND l.product_id=$2 AND o.id <> $3
  AND l.status <> 'CANCELLED' AND NOT l.stock_committed`, businessID, productID, excludeOrderID).Scan(&reserved)
	return reserved, err
}

// ProductsExist fails with NotFound unless every product belongs to the business.
func (s *TxStore) ProductsExist(ctx context.Context, businessID int64, productIDs []int64) error {
	return inventory.NewTxStore(s.tx).ProductsExist(ctx, businessID, productIDs)
}

// Stock exposes the ledger surface bound to the same transaction.
func (s *TxStore) Stock() inventory.LedgerTx {
	return inventory.NewTxStore(s.tx)
}

// Events exposes the outbox writer bound to the same transaction.
func (s *TxStore) Events() outbox.Writer {
	return outbox.NewTxWriter(s.tx)
}
