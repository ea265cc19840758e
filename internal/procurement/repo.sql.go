package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists procurement data in PostgreSQL.
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
		return errors.New("procurement repository not initialised")
	}
	return r.runner.Run(ctx, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

const poColumns = `id, business_id, order_number, supplier_id, status, tax_amount, shipping_cost, expected_delivery_date, confirmed_delivery_date, notes, cancel_reason, created_by, created_at, updated_at`

const poLineColumns = `id, purchase_order_id, product_id, quantity_ordered, quantity_received, unit_price, status, close_reason`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.BusinessID, &po.OrderNumber, &po.SupplierID, &po.Status, &po.TaxAmount, &po.ShippingCost,
		&po.ExpectedDeliveryDate, &po.ConfirmedDeliveryDate, &po.Notes, &po.CancelReason, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	return po, err
}

func loadPO(ctx context.Context, q querier, businessID, id int64, lock string) (PurchaseOrder, error) {
	po, err := scanPO(q.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE business_id=$1 AND id=$2 `+lock, businessID, id))
	if err != nil {
		return PurchaseOrder{}, err
	}
	rows, err := q.Query(ctx, `SELECT `+poLineColumns+` FROM purchase_order_lines WHERE purchase_order_id=$1 ORDER BY id `+lock, po.ID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	po.Lines = []PurchaseOrderLine{}
	for rows.Next() {
		var l PurchaseOrderLine
		if err := rows.Scan(&l.ID, &l.PurchaseOrderID, &l.ProductID, &l.QuantityOrdered, &l.QuantityReceived, &l.UnitPrice, &l.Status, &l.CloseReason); err != nil {
			return PurchaseOrder{}, err
		}
		po.Lines = append(po.Lines, l)
	}
	return po, rows.Err()
}

const receiptColumns = `id, business_id, purchase_order_id, receipt_number, status, has_variances, supplier_delivery_note, variance_notes, reject_reason, created_by, completed_at, created_at, updated_at`

const receiptLineColumns = `id, receipt_id, purchase_order_line_id, product_id, quantity_received, unit_price_received, condition, quantity_variance, price_variance`

func scanReceipt(row pgx.Row) (Receipt, error) {
	var r Receipt
	err := row.Scan(&r.ID, &r.BusinessID, &r.PurchaseOrderID, &r.ReceiptNumber, &r.Status, &r.HasVariances, &r.SupplierDeliveryNote,
		&r.VarianceNotes, &r.RejectReason, &r.CreatedBy, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrReceiptNotFound
	}
	return r, err
}

func loadReceiptLines(ctx context.Context, q querier, receiptID int64) ([]ReceiptLine, error) {
	rows, err := q.Query(ctx, `SELECT `+receiptLineColumns+` FROM receipt_lines WHERE receipt_id=$1 ORDER BY id`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []ReceiptLine{}
	for rows.Next() {
		var l ReceiptLine
		if err := rows.Scan(&l.ID, &l.ReceiptID, &l.PurchaseOrderLineID, &l.ProductID, &l.QuantityReceived, &l.UnitPriceReceived, &l.Condition, &l.QuantityVariance, &l.PriceVariance); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func loadReceipt(ctx context.Context, q querier, businessID, id int64, lock string) (Receipt, error) {
	r, err := scanReceipt(q.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE business_id=$1 AND id=$2 `+lock, businessID, id))
	if err != nil {
		return Receipt{}, err
	}
	r.Lines, err = loadReceiptLines(ctx, q, r.ID)
	return r, err
}

// GetPurchaseOrder loads an order with its lines.
func (r *Repository) GetPurchaseOrder(ctx context.Context, businessID, id int64) (PurchaseOrder, error) {
	return loadPO(ctx, r.pool, businessID, id, "")
}

// ListPurchaseOrders lists order headers with lines.
func (r *Repository) ListPurchaseOrders(ctx context.Context, filter POFilter) ([]PurchaseOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM purchase_orders
WHERE business_id=$1 AND ($2 = '' OR status=$2) AND ($3 = 0 OR supplier_id=$3)
ORDER BY id DESC
LIMIT $4 OFFSET $5`, filter.BusinessID, string(filter.Status), filter.SupplierID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	orders := make([]PurchaseOrder, 0, len(ids))
	for _, id := range ids {
		po, err := loadPO(ctx, r.pool, filter.BusinessID, id, "")
		if err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	return orders, nil
}

// GetReceipt loads a receipt with its lines.
func (r *Repository) GetReceipt(ctx context.Context, businessID, id int64) (Receipt, error) {
	return loadReceipt(ctx, r.pool, businessID, id, "")
}

// ListReceipts lists receipts of an order.
func (r *Repository) ListReceipts(ctx context.Context, businessID, purchaseOrderID int64) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE business_id=$1 AND purchase_order_id=$2 ORDER BY id`, businessID, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	receipts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Receipt, error) {
		return scanReceipt(row)
	})
	if err != nil {
		return nil, err
	}
	for i := range receipts {
		if receipts[i].Lines, err = loadReceiptLines(ctx, r.pool, receipts[i].ID); err != nil {
			return nil, err
		}
	}
	return receipts, nil
}

// GetPurchaseOrderForUpdate locks the order and its lines.
func (s *TxStore) GetPurchaseOrderForUpdate(ctx context.Context, businessID, id int64) (PurchaseOrder, error) {
	return loadPO(ctx, s.tx, businessID, id, "FOR UPDATE")
}

// InsertPurchaseOrder stores the header and lines.
func (s *TxStore) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO purchase_orders (business_id, order_number, supplier_id, status, tax_amount, shipping_cost, expected_delivery_date, notes, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at, updated_at`,
		po.BusinessID, po.OrderNumber, po.SupplierID, string(po.Status), po.TaxAmount, po.ShippingCost, po.ExpectedDeliveryDate, po.Notes, po.CreatedBy).
		Scan(&po.ID, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Lines, err = s.insertLines(ctx, po.ID, po.Lines)
	return po, err
}

func (s *TxStore) insertLines(ctx context.Context, poID int64, lines []PurchaseOrderLine) ([]PurchaseOrderLine, error) {
	out := make([]PurchaseOrderLine, 0, len(lines))
	for _, l := range lines {
		l.PurchaseOrderID = poID
		if err := s.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (purchase_order_id, product_id, quantity_ordered, quantity_received, unit_price, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, poID, l.ProductID, l.QuantityOrdered, l.QuantityReceived, l.UnitPrice, string(l.Status)).Scan(&l.ID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// ReplacePurchaseOrderLines swaps all lines of a draft order.
func (s *TxStore) ReplacePurchaseOrderLines(ctx context.Context, poID int64, lines []PurchaseOrderLine) ([]PurchaseOrderLine, error) {
	if _, err := s.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE purchase_order_id=$1`, poID); err != nil {
		return nil, err
	}
	return s.insertLines(ctx, poID, lines)
}

// UpdatePurchaseOrder persists header fields that change after creation.
func (s *TxStore) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	_, err := s.tx.Exec(ctx, `UPDATE purchase_orders SET status=$2, confirmed_delivery_date=$3, cancel_reason=$4, updated_at=NOW() WHERE id=$1`,
		po.ID, string(po.Status), po.ConfirmedDeliveryDate, po.CancelReason)
	return err
}

// UpdatePurchaseOrderLine persists received quantity and status.
func (s *TxStore) UpdatePurchaseOrderLine(ctx context.Context, line PurchaseOrderLine) error {
	tag, err := s.tx.Exec(ctx, `UPDATE purchase_order_lines SET quantity_received=$2, status=$3, close_reason=$4 WHERE id=$1 AND quantity_received <= $2`,
		line.ID, line.QuantityReceived, string(line.Status), line.CloseReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: purchase order line %d", shared.ErrConcurrencyConflict, line.ID)
	}
	return nil
}

// DeletePurchaseOrder removes an order; lines cascade.
func (s *TxStore) DeletePurchaseOrder(ctx context.Context, id int64) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id=$1`, id)
	return err
}

// GetReceiptForUpdate locks the receipt.
func (s *TxStore) GetReceiptForUpdate(ctx context.Context, businessID, id int64) (Receipt, error) {
	return loadReceipt(ctx, s.tx, businessID, id, "FOR UPDATE")
}

// InsertReceipt stores a receipt with its lines.
func (s *TxStore) InsertReceipt(ctx context.Context, r Receipt) (Receipt, error) {
	err := s.tx.QueryRow(ctx, `INSERT INTO receipts (business_id, purchase_order_id, receipt_number, status, has_variances, supplier_delivery_note, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id, created_at, updated_at`,
		r.BusinessID, r.PurchaseOrderID, r.ReceiptNumber, string(r.Status), r.HasVariances, r.SupplierDeliveryNote, r.CreatedBy).
		Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Receipt{}, err
	}
	for i, l := range r.Lines {
		l.ReceiptID = r.ID
		if err := s.tx.QueryRow(ctx, `INSERT INTO receipt_lines (receipt_id, purchase_order_line_id, product_id, quantity_received, unit_price_received, condition, quantity_variance, price_variance)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`, r.ID, l.PurchaseOrderLineID, l.ProductID, l.QuantityReceived, l.UnitPriceReceived, string(l.Condition), l.QuantityVariance, l.PriceVariance).Scan(&l.ID); err != nil {
			return Receipt{}, err
		}
		r.Lines[i] = l
	}
	return r, nil
}

// UpdateReceipt persists status and notes.
func (s *TxStore) UpdateReceipt(ctx context.Context, r Receipt) error {
	_, err := s.tx.Exec(ctx, `UPDATE receipts SET status=$2, variance_notes=$3, reject_reason=$4, completed_at=$5, updated_at=NOW() WHERE id=$1`,
		r.ID, string(r.Status), r.VarianceNotes, r.RejectReason, r.CompletedAt)
	return err
}

// DeleteReceipt removes a receipt; lines cascade.
func (s *TxStore) DeleteReceipt(ctx context.Context, id int64) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM receipts WHERE id=$1`, id)
	return err
}

// ProductsExist fails with NotFound unless every product belongs to the business.
func (s *TxStore) ProductsExist(ctx context.Context, businessID int64, productIDs []int64) error {
	return inventory.NewTxStore(s.tx).ProductsExist(ctx, businessID, productIDs)
}

// Events exposes the outbox writer bound to the same transaction.
func (s *TxStore) Events() outbox.Writer {
	return outbox.NewTxWriter(s.tx)
}
