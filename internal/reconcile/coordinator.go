// Package reconcile applies cross-aggregate effects as single transactions:
// receipt completion (ledger, purchase order lines, purchase order, receipt)
// and sales order shipment (ledger, sales order lines, sales order).
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/procurement"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sales"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// TxRepository groups the per-package stores bound to one transaction.
type TxRepository interface {
	Procurement() procurement.TxRepository
	Sales() sales.TxRepository
	Stock() inventory.LedgerTx
	Events() outbox.Writer
}

// UnitOfWork opens retrying transactions.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// StockNotifier is told about movements after they commit.
type StockNotifier interface {
	StockChanged(ctx context.Context, businessID int64, movements []inventory.StockMovement)
}

// Observer records reconciliation outcomes.
type Observer interface {
	ObserveReconciliation(kind string, err error, elapsed time.Duration)
}

const (
	kindReceipt  = "receipt"
	kindShipment = "shipment"
)

// Params groups Coordinator dependencies.
type Params struct {
	UnitOfWork       UnitOfWork
	Ledger           *inventory.Ledger
	Notifier         StockNotifier
	Metrics          Observer
	Logger           *slog.Logger
	AllowOverReceipt bool
}

// Coordinator owns the atomicity boundary of every cascade.
type Coordinator struct {
	uow       UnitOfWork
	ledger    *inventory.Ledger
	notifier  StockNotifier
	metrics   Observer
	logger    *slog.Logger
	allowOver bool
	now       func() time.Time
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(p Params) *Coordinator {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		uow:       p.UnitOfWork,
		ledger:    p.Ledger,
		notifier:  p.Notifier,
		metrics:   p.Metrics,
		logger:    logger,
		allowOver: p.AllowOverReceipt,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileReceipt posts StockIn for every received line, advances the
// purchase order lines and aggregate, and marks the receipt Completed. All of
// it commits together or not at all.
func (c *Coordinator) ReconcileReceipt(ctx context.Context, scope shared.Scope, receiptID int64) (procurement.Receipt, error) {
	start := time.Now()
	var (
		receipt   procurement.Receipt
		movements []inventory.StockMovement
	)
	err := c.uow.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movements = movements[:0]
		var err error
		receipt, err = tx.Procurement().GetReceiptForUpdate(ctx, scope.BusinessID, receiptID)
		if err != nil {
			return err
		}
		if err := receipt.CanComplete(); err != nil {
			return err
		}
		po, err := tx.Procurement().GetPurchaseOrderForUpdate(ctx, scope.BusinessID, receipt.PurchaseOrderID)
		if err != nil {
			return err
		}
		if !po.Status.AcceptsReceipts() {
			return fmt.Errorf("%w: purchase order %s is %s and cannot receive goods", shared.ErrInvalidStateTransition, po.OrderNumber, po.Status)
		}
		if po.Status == procurement.POStatusConfirmed {
			po.Status = procurement.POStatusReceiving
		}

		lines := append([]procurement.ReceiptLine(nil), receipt.Lines...)
		sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
		for _, line := range lines {
			if !line.QuantityReceived.IsPositive() {
				continue
			}
			poLine, err := po.ReceiveLine(line.PurchaseOrderLineID, line.QuantityReceived, c.allowOver)
			if err != nil {
				return err
			}
			movement, err := c.ledger.Apply(ctx, tx.Stock(), inventory.MovementInput{
				BusinessID: scope.BusinessID,
				ProductID:  poLine.ProductID,
				Type:       inventory.MovementStockIn,
				Quantity:   line.QuantityReceived,
				Reference:  inventory.Reference{Type: inventory.ReferencePurchaseReceipt, ID: receipt.ID, LineID: line.ID},
				ActorID:    scope.Actor.ID,
				Note:       receipt.ReceiptNumber,
			})
			if err != nil {
				return err
			}
			movements = append(movements, movement)
			if err := tx.Procurement().UpdatePurchaseOrderLine(ctx, poLine); err != nil {
				return err
			}
		}

		po.Status = procurement.RecomputeStatus(po)
		if err := tx.Procurement().UpdatePurchaseOrder(ctx, po); err != nil {
			return err
		}
		completedAt := c.now()
		receipt.Status = procurement.ReceiptStatusCompleted
		receipt.CompletedAt = &completedAt
		if err := tx.Procurement().UpdateReceipt(ctx, receipt); err != nil {
			return err
		}
		return outbox.Emit(ctx, tx.Events(), outbox.DomainEvent{
			BusinessID:    scope.BusinessID,
			EventType:     outbox.EventReceiptCompleted,
			AggregateType: outbox.AggregateReceipt,
			AggregateID:   receipt.ID,
			Actor:         &outbox.ActorRef{ID: scope.Actor.ID, Name: scope.Actor.Name},
			OccurredAt:    completedAt,
			Data: map[string]any{
				"receiptNumber":       receipt.ReceiptNumber,
				"purchaseOrderId":     po.ID,
				"purchaseOrderNumber": po.OrderNumber,
				"purchaseOrderStatus": po.Status,
				"hasVariances":        receipt.HasVariances,
				"quantityReceived":    totalMoved(movements),
				"movements":           len(movements),
			},
		})
	})
	c.observe(kindReceipt, err, start)
	if err != nil {
		return procurement.Receipt{}, err
	}
	c.notify(ctx, scope.BusinessID, movements)
	c.logger.Info("receipt reconciled",
		slog.Int64("business_id", scope.BusinessID),
		slog.Int64("receipt_id", receipt.ID),
		slog.Int("movements", len(movements)))
	return receipt, nil
}

// ReconcileShipment posts StockOut for every packed line not yet committed to
// the ledger and moves the lines and the order to Shipped.
func (c *Coordinator) ReconcileShipment(ctx context.Context, scope shared.Scope, orderID int64, input sales.ShipmentInput) (sales.SalesOrder, error) {
	start := time.Now()
	if input.ShippedAt.IsZero() {
		input.ShippedAt = c.now()
	}
	var (
		order     sales.SalesOrder
		movements []inventory.StockMovement
	)
	err := c.uow.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movements = movements[:0]
		var err error
		order, err = tx.Sales().GetSalesOrderForUpdate(ctx, scope.BusinessID, orderID)
		if err != nil {
			return err
		}
		if err := order.ShipGuard(); err != nil {
			return err
		}

		idx := make([]int, 0, len(order.Lines))
		for i, l := range order.Lines {
			if l.Active() {
				idx = append(idx, i)
			}
		}
		sort.SliceStable(idx, func(a, b int) bool { return order.Lines[idx[a]].ProductID < order.Lines[idx[b]].ProductID })
		for _, i := range idx {
			line := order.Lines[i]
			quantity := line.QuantityPicked
			if !line.StockCommitted && quantity.IsPositive() {
				movement, err := c.ledger.Apply(ctx, tx.Stock(), inventory.MovementInput{
					BusinessID: scope.BusinessID,
					ProductID:  line.ProductID,
					Type:       inventory.MovementStockOut,
					Quantity:   quantity,
					Reference:  inventory.Reference{Type: inventory.ReferenceSalesShipment, ID: order.ID, LineID: line.ID},
					ActorID:    scope.Actor.ID,
					Note:       order.OrderNumber,
				})
				if err != nil {
					return err
				}
				movements = append(movements, movement)
			}
			line.QuantityShipped = quantity
			line.StockCommitted = true
			line.Status = sales.LineStatusShipped
			if err := tx.Sales().UpdateSalesOrderLine(ctx, line); err != nil {
				return err
			}
			order.Lines[i] = line
		}
		if !order.LinesAtLeast(sales.LineStatusShipped) {
			return fmt.Errorf("%w: sales order %s has unshipped lines", shared.ErrInvalidStateTransition, order.OrderNumber)
		}

		shippedAt := input.ShippedAt.UTC()
		order.Status = sales.StatusShipped
		order.Carrier = input.Carrier
		order.TrackingNumber = input.TrackingNumber
		order.ShippedAt = &shippedAt
		if err := tx.Sales().UpdateSalesOrder(ctx, order); err != nil {
			return err
		}
		return outbox.Emit(ctx, tx.Events(), outbox.DomainEvent{
			BusinessID:    scope.BusinessID,
			EventType:     outbox.EventSalesOrderShipped,
			AggregateType: outbox.AggregateSalesOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ID: scope.Actor.ID, Name: scope.Actor.Name},
			OccurredAt:    shippedAt,
			Data: map[string]any{
				"orderNumber":    order.OrderNumber,
				"customerId":     order.CustomerID,
				"carrier":        order.Carrier,
				"trackingNumber": order.TrackingNumber,
				"movements":      len(movements),
			},
		})
	})
	c.observe(kindShipment, err, start)
	if err != nil {
		return sales.SalesOrder{}, err
	}
	c.notify(ctx, scope.BusinessID, movements)
	c.logger.Info("shipment reconciled",
		slog.Int64("business_id", scope.BusinessID),
		slog.Int64("sales_order_id", order.ID),
		slog.Int("movements", len(movements)))
	return order, nil
}

func (c *Coordinator) notify(ctx context.Context, businessID int64, movements []inventory.StockMovement) {
	if c.notifier != nil && len(movements) > 0 {
		c.notifier.StockChanged(ctx, businessID, movements)
	}
}

func (c *Coordinator) observe(kind string, err error, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveReconciliation(kind, err, time.Since(start))
	}
}

func totalMoved(movements []inventory.StockMovement) decimal.Decimal {
	total := decimal.Zero
	for _, m := range movements {
		total = total.Add(m.Quantity.Abs())
	}
	return total
}
