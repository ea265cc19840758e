package memstore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Tx is a transaction on Store. It implements every package's TxRepository.
// The store mutex is held for its whole lifetime.
type Tx struct {
	store *Store
}

func (tx *Tx) data() *state { return &tx.store.data }

// Procurement returns tx as a procurement.TxRepository.
func (tx *Tx) Procurement() procurement.TxRepository { return tx }

// Sales returns tx as a sales.TxRepository.
func (tx *Tx) Sales() sales.TxRepository { return tx }

// Stock returns tx as an inventory.LedgerTx.
func (tx *Tx) Stock() inventory.LedgerTx { return tx }

// Events returns tx as an outbox.Writer.
func (tx *Tx) Events() outbox.Writer { return tx }

// Append implements outbox.Writer.
func (tx *Tx) Append(ctx context.Context, event outbox.Event) error {
	tx.data().events = append(tx.data().events, event)
	return nil
}

// GetProductForUpdate implements inventory.LedgerTx.
func (tx *Tx) GetProductForUpdate(ctx context.Context, businessID, productID int64) (inventory.Product, error) {
	return tx.store.product(businessID, productID)
}

// UpdateProductStock implements inventory.LedgerTx.
func (tx *Tx) UpdateProductStock(ctx context.Context, productID int64, newStock decimal.Decimal, expectedVersion int64) error {
	p, ok := tx.data().products[productID]
	if !ok {
		return inventory.ErrProductNotFound
	}
	if p.Version != expectedVersion {
		return fmt.Errorf("%w: product %d", inventory.ErrVersionConflict, productID)
	}
	p.CurrentStock = newStock
	p.Version++
	p.UpdatedAt = tx.store.now()
	tx.data().products[productID] = p
	return nil
}

// ClaimProduct implements inventory.LedgerTx.
func (tx *Tx) ClaimProduct(ctx context.Context, productID, expectedVersion int64) error {
	p, ok := tx.data().products[productID]
	if !ok {
		return inventory.ErrProductNotFound
	}
	if tx.store.staleClaims > 0 {
		tx.store.staleClaims--
		p.Version++
	}
	if p.Version != expectedVersion {
		return fmt.Errorf("%w: product %d", inventory.ErrVersionConflict, productID)
	}
	p.Version++
	p.UpdatedAt = tx.store.now()
	tx.data().products[productID] = p
	return nil
}

// InsertMovement implements inventory.LedgerTx.
func (tx *Tx) InsertMovement(ctx context.Context, m inventory.StockMovement) (inventory.StockMovement, error) {
	if !m.NewStock.Equal(m.PreviousStock.Add(m.Quantity)) {
		return inventory.StockMovement{}, fmt.Errorf("memstore: movement violates new = previous + quantity")
	}
	m.ID = tx.store.id()
	tx.data().movements = append(tx.data().movements, m)
	return m, nil
}

// ProductsExist fails with NotFound unless every product belongs to the business.
func (tx *Tx) ProductsExist(ctx context.Context, businessID int64, productIDs []int64) error {
	for _, id := range productIDs {
		if _, err := tx.store.product(businessID, id); err != nil {
			return err
		}
	}
	return nil
}

// GetPurchaseOrderForUpdate implements procurement.TxRepository.
func (tx *Tx) GetPurchaseOrderForUpdate(ctx context.Context, businessID, id int64) (procurement.PurchaseOrder, error) {
	return tx.store.purchaseOrder(businessID, id)
}

// InsertPurchaseOrder implements procurement.TxRepository.
func (tx *Tx) InsertPurchaseOrder(ctx context.Context, po procurement.PurchaseOrder) (procurement.PurchaseOrder, error) {
	po.ID = tx.store.id()
	po.CreatedAt, po.UpdatedAt = tx.store.now(), tx.store.now()
	po.Lines = tx.numberPOLines(po.ID, po.Lines)
	tx.data().orders[po.ID] = clonePO(po)
	return po, nil
}

func (tx *Tx) numberPOLines(poID int64, lines []procurement.PurchaseOrderLine) []procurement.PurchaseOrderLine {
	out := make([]procurement.PurchaseOrderLine, len(lines))
	for i, l := range lines {
		l.ID = tx.store.id()
		l.PurchaseOrderID = poID
		out[i] = l
	}
	return out
}

// ReplacePurchaseOrderLines implements procurement.TxRepository.
func (tx *Tx) ReplacePurchaseOrderLines(ctx context.Context, poID int64, lines []procurement.PurchaseOrderLine) ([]procurement.PurchaseOrderLine, error) {
	po, ok := tx.data().orders[poID]
	if !ok {
		return nil, procurement.ErrPurchaseOrderNotFound
	}
	po.Lines = tx.numberPOLines(poID, lines)
	tx.data().orders[poID] = clonePO(po)
	return po.Lines, nil
}

// UpdatePurchaseOrder persists header fields; lines are stored separately.
func (tx *Tx) UpdatePurchaseOrder(ctx context.Context, po procurement.PurchaseOrder) error {
	stored, ok := tx.data().orders[po.ID]
	if !ok {
		return procurement.ErrPurchaseOrderNotFound
	}
	stored.Status = po.Status
	stored.ConfirmedDeliveryDate = po.ConfirmedDeliveryDate
	stored.CancelReason = po.CancelReason
	stored.UpdatedAt = tx.store.now()
	tx.data().orders[po.ID] = stored
	return nil
}

// UpdatePurchaseOrderLine persists one line. Received quantity never decreases.
func (tx *Tx) UpdatePurchaseOrderLine(ctx context.Context, line procurement.PurchaseOrderLine) error {
	po, ok := tx.data().orders[line.PurchaseOrderID]
	if !ok {
		return procurement.ErrPurchaseOrderNotFound
	}
	idx := po.LineIndex(line.ID)
	if idx < 0 {
		return procurement.ErrLineNotFound
	}
	if line.QuantityReceived.LessThan(po.Lines[idx].QuantityReceived) {
		return fmt.Errorf("%w: purchase order line %d", shared.ErrConcurrencyConflict, line.ID)
	}
	po = clonePO(po)
	po.Lines[idx] = line
	tx.data().orders[po.ID] = po
	return nil
}

// DeletePurchaseOrder implements procurement.TxRepository.
func (tx *Tx) DeletePurchaseOrder(ctx context.Context, id int64) error {
	delete(tx.data().orders, id)
	return nil
}

// GetReceiptForUpdate implements procurement.TxRepository.
func (tx *Tx) GetReceiptForUpdate(ctx context.Context, businessID, id int64) (procurement.Receipt, error) {
	return tx.store.receipt(businessID, id)
}

// InsertReceipt implements procurement.TxRepository.
func (tx *Tx) InsertReceipt(ctx context.Context, r procurement.Receipt) (procurement.Receipt, error) {
	r.ID = tx.store.id()
	r.CreatedAt, r.UpdatedAt = tx.store.now(), tx.store.now()
	r.Lines = append([]procurement.ReceiptLine(nil), r.Lines...)
	for i := range r.Lines {
		r.Lines[i].ID = tx.store.id()
		r.Lines[i].ReceiptID = r.ID
	}
	tx.data().receipts[r.ID] = cloneReceipt(r)
	return r, nil
}

// UpdateReceipt persists status and notes.
func (tx *Tx) UpdateReceipt(ctx context.Context, r procurement.Receipt) error {
	stored, ok := tx.data().receipts[r.ID]
	if !ok {
		return procurement.ErrReceiptNotFound
	}
	stored.Status = r.Status
	stored.VarianceNotes = r.VarianceNotes
	stored.RejectReason = r.RejectReason
	stored.CompletedAt = r.CompletedAt
	stored.UpdatedAt = tx.store.now()
	tx.data().receipts[r.ID] = stored
	return nil
}

// DeleteReceipt implements procurement.TxRepository.
func (tx *Tx) DeleteReceipt(ctx context.Context, id int64) error {
	delete(tx.data().receipts, id)
	return nil
}

// GetSalesOrderForUpdate implements sales.TxRepository.
func (tx *Tx) GetSalesOrderForUpdate(ctx context.Context, businessID, id int64) (sales.SalesOrder, error) {
	return tx.store.salesOrder(businessID, id)
}

// InsertSalesOrder implements sales.TxRepository.
func (tx *Tx) InsertSalesOrder(ctx context.Context, o sales.SalesOrder) (sales.SalesOrder, error) {
	o.ID = tx.store.id()
	o.CreatedAt, o.UpdatedAt = tx.store.now(), tx.store.now()
	o.Lines = append([]sales.SalesOrderLine(nil), o.Lines...)
	for i := range o.Lines {
		o.Lines[i].ID = tx.store.id()
		o.Lines[i].SalesOrderID = o.ID
	}
	tx.data().sales[o.ID] = cloneSalesOrder(o)
	return o, nil
}

// UpdateSalesOrder persists header fields.
func (tx *Tx) UpdateSalesOrder(ctx context.Context, o sales.SalesOrder) error {
	stored, ok := tx.data().sales[o.ID]
	if !ok {
		return sales.ErrSalesOrderNotFound
	}
	stored.Status = o.Status
	stored.HeldFrom = o.HeldFrom
	stored.Carrier = o.Carrier
	stored.TrackingNumber = o.TrackingNumber
	stored.ShippedAt = o.ShippedAt
	stored.DeliveredAt = o.DeliveredAt
	stored.StatusReason = o.StatusReason
	stored.UpdatedAt = tx.store.now()
	tx.data().sales[o.ID] = stored
	return nil
}

// UpdateSalesOrderLine persists one line.
func (tx *Tx) UpdateSalesOrderLine(ctx context.Context, line sales.SalesOrderLine) error {
	o, ok := tx.data().sales[line.SalesOrderID]
	if !ok {
		return sales.ErrSalesOrderNotFound
	}
	idx := o.LineIndex(line.ID)
	if idx < 0 {
		return fmt.Errorf("%w: sales order line %d", shared.ErrNotFound, line.ID)
	}
	o = cloneSalesOrder(o)
	o.Lines[idx] = line
	tx.data().sales[o.ID] = o
	return nil
}

// DeleteSalesOrder implements sales.TxRepository.
func (tx *Tx) DeleteSalesOrder(ctx context.Context, id int64) error {
	delete(tx.data().sales, id)
	return nil
}

// SumReserved totals uncommitted allocations of a product on other orders.
func (tx *Tx) SumReserved(ctx context.Context, businessID, productID, excludeOrderID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, o := range tx.data().sales {
		if o.BusinessID != businessID || o.ID == excludeOrderID {
			continue
		}
		for _, l := range o.Lines {
			if l.ProductID == productID {
				total = total.Add(l.Reserved())
			}
		}
	}
	return total, nil
}
