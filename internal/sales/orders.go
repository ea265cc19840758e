package sales

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/outbox"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/sequence"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// LineInput describes an ordered product.
type LineInput struct {
	ProductID int64
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// CreateInput describes a new sales order.
type CreateInput struct {
	CustomerID int64
	Priority   Priority
	Lines      []LineInput
	Notes      string
}

// Create opens a Draft order with a freshly issued order number.
func (s *Service) Create(ctx context.Context, scope shared.Scope, input CreateInput) (SalesOrder, error) {
	if err := scope.Validate(); err != nil {
		return SalesOrder{}, err
	}
	if input.CustomerID == 0 {
		return SalesOrder{}, fmt.Errorf("%w: customer required", shared.ErrValidation)
	}
	priority := input.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return SalesOrder{}, fmt.Errorf("%w: unknown priority %q", shared.ErrValidation, priority)
	}
	lines := make([]SalesOrderLine, 0, len(input.Lines))
	productIDs := make([]int64, 0, len(input.Lines))
	for i, in := range input.Lines {
		if in.ProductID == 0 {
			return SalesOrder{}, fmt.Errorf("%w: line %d product required", shared.ErrValidation, i+1)
		}
		if in.Quantity.IsNegative() || in.UnitPrice.IsNegative() {
			return SalesOrder{}, fmt.Errorf("%w: line %d quantity and price must not be negative", shared.ErrValidation, i+1)
		}
		lines = append(lines, SalesOrderLine{
			ProductID:       in.ProductID,
			QuantityOrdered: in.Quantity,
			UnitPrice:       in.UnitPrice,
			Status:          LineStatusPending,
		})
		productIDs = append(productIDs, in.ProductID)
	}
	if err := s.customers.CustomerExists(ctx, scope.BusinessID, input.CustomerID); err != nil {
		return SalesOrder{}, err
	}
	number, err := s.numbers.Next(ctx, scope.BusinessID, sequence.DocSalesOrder)
	if err != nil {
		return SalesOrder{}, err
	}
	order := SalesOrder{
		BusinessID:  scope.BusinessID,
		OrderNumber: number,
		CustomerID:  input.CustomerID,
		Status:      StatusDraft,
		Priority:    priority,
		Lines:       lines,
		Notes:       strings.TrimSpace(input.Notes),
		CreatedBy:   scope.Actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ProductsExist(ctx, scope.BusinessID, productIDs); err != nil {
			return err
		}
		created, err := tx.InsertSalesOrder(ctx, order)
		if err != nil {
			return err
		}
		order = created
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned(ctx, scope, order, map[string]any{"number": order.OrderNumber})
	return order, nil
}

// Submit moves Draft to Submitted once every line orders a positive quantity.
func (s *Service) Submit(ctx context.Context, scope shared.Scope, orderID int64) (SalesOrder, error) {
	order, err := s.mutate(ctx, scope, orderID, func(_ context.Context, _ TxRepository, o *SalesOrder) error {
		if !o.Status.CanTransitionTo(StatusSubmitted) {
			return transitionError(*o, StatusSubmitted)
		}
		if len(o.Lines) == 0 {
			return fmt.Errorf("%w: sales order %s has no lines", shared.ErrValidation, o.OrderNumber)
		}
		for _, l := range o.Lines {
			if !l.QuantityOrdered.IsPositive() {
				return fmt.Errorf("%w: sales order %s line %d quantity must be positive", shared.ErrValidation, o.OrderNumber, l.ID)
			}
		}
		o.Status = StatusSubmitted
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned(ctx, scope, order, nil)
	return order, nil
}

// Confirm allocates every line against available-to-promise stock. With the
// confirm policy it also posts StockOut for each line.
func (s *Service) Confirm(ctx context.Context, scope shared.Scope, orderID int64) (SalesOrder, error) {
	var movements []inventory.StockMovement
	order, err := s.mutate(ctx, scope, orderID, func(ctx context.Context, tx TxRepository, o *SalesOrder) error {
		movements = movements[:0]
		if !o.Status.CanTransitionTo(StatusConfirmed) {
			return transitionError(*o, StatusConfirmed)
		}
		need := make(map[int64]decimal.Decimal)
		for _, l := range o.Lines {
			if l.Active() {
				need[l.ProductID] = need[l.ProductID].Add(l.QuantityOrdered)
			}
		}
		productIDs := make([]int64, 0, len(need))
		for id := range need {
			productIDs = append(productIDs, id)
		}
		sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })
		for _, productID := range productIDs {
			product, err := tx.Stock().GetProductForUpdate(ctx, scope.BusinessID, productID)
			if err != nil {
				return err
			}
			reserved, err := tx.SumReserved(ctx, scope.BusinessID, productID, o.ID)
			if err != nil {
				return err
			}
			available := product.CurrentStock.Sub(reserved)
			if available.LessThan(need[productID]) {
				return fmt.Errorf("%w: product %s has %s available, order %s needs %s",
					shared.ErrInsufficientStock, product.SKU, available, o.OrderNumber, need[productID])
			}
			// Reservations do not write the product row; claim it so a concurrent
			// confirm holding an older snapshot conflicts and retries.
			if err := tx.Stock().ClaimProduct(ctx, productID, product.Version); err != nil {
				return err
			}
		}
		for i, l := range o.Lines {
			if !l.Active() {
				continue
			}
			l.QuantityAllocated = l.QuantityOrdered
			l.Status = LineStatusAllocated
			if s.policy == DecrementAtConfirm && !l.StockCommitted {
				movement, err := s.ledger.Apply(ctx, tx.Stock(), inventory.MovementInput{
					BusinessID: scope.BusinessID,
					ProductID:  l.ProductID,
					Type:       inventory.MovementStockOut,
					Quantity:   l.QuantityOrdered,
					Reference:  inventory.Reference{Type: inventory.ReferenceSalesShipment, ID: o.ID, LineID: l.ID},
					ActorID:    scope.Actor.ID,
					Note:       o.OrderNumber,
				})
				if err != nil {
					return err
				}
				movements = append(movements, movement)
				l.StockCommitted = true
			}
			if err := tx.UpdateSalesOrderLine(ctx, l); err != nil {
				return err
			}
			o.Lines[i] = l
		}
		o.Status = StatusConfirmed
		return outbox.Emit(ctx, tx.Events(), outbox.DomainEvent{
			BusinessID:    scope.BusinessID,
			EventType:     outbox.EventSalesOrderConfirmed,
			AggregateType: outbox.AggregateSalesOrder,
			AggregateID:   o.ID,
			Actor:         &outbox.ActorRef{ID: scope.Actor.ID, Name: scope.Actor.Name},
			Data: map[string]any{
				"orderNumber":    o.OrderNumber,
				"customerId":     o.CustomerID,
				"stockCommitted": s.policy == DecrementAtConfirm,
				"total":          o.Total(),
			},
		})
	})
	if err != nil {
		return SalesOrder{}, err
	}
	if s.notifier != nil {
		s.notifier.StockChanged(ctx, scope.BusinessID, movements)
	}
	s.transitioned(ctx, scope, order, map[string]any{"policy": string(s.policy)})
	return order, nil
}

// ReleaseForPicking moves Confirmed to AwaitingPickup.
func (s *Service) ReleaseForPicking(ctx context.Context, scope shared.Scope, orderID int64) (SalesOrder, error) {
	return s.step(ctx, scope, orderID, StatusAwaitingPickup)
}

// StartPicking moves AwaitingPickup to Picking.
func (s *Service) StartPicking(ctx context.Context, scope shared.Scope, orderID int64) (SalesOrder, error) {
	return s.step(ctx, scope, orderID, StatusPicking)
}

// CompletePicking commits picked quantities and moves Picking to Picked. Lines
// left out keep their allocated quantity; a line picked at zero is cancelled.
func (s *Service) CompletePicking(ctx context.Context, scope shared.Scope, orderID int64, picked []PickedLine) (SalesOrder, error) {
	order, err := s.mutate(ctx, scope, orderID, func(ctx context.Context, tx TxRepository, o *SalesOrder) error {
		if !o.Status.CanTransitionTo(StatusPicked) {
			return transitionError(*o, StatusPicked)
		}
		quantities := make(map[int64]decimal.Decimal, len(picked))
		for _, p := range picked {
			if _, dup := quantities[p.LineID]; dup {
				return fmt.Errorf("%w: line %d listed twice", shared.ErrValidation, p.LineID)
			}
			idx := o.LineIndex(p.LineID)
			if idx < 0 {
				return fmt.Errorf("%w: sales order line %d", shared.ErrNotFound, p.LineID)
			}
			line := o.Lines[idx]
			if !line.Active() {
				return fmt.Errorf("%w: line %d is cancelled", shared.ErrValidation, line.ID)
			}
			if p.QuantityPicked.IsNegative() || p.QuantityPicked.GreaterThan(line.QuantityOrdered) {
				return fmt.Errorf("%w: line %d picked %s outside [0, %s]", shared.ErrValidation, line.ID, p.QuantityPicked, line.QuantityOrdered)
			}
			quantities[p.LineID] = p.QuantityPicked
		}
		remaining := 0
		for i, l := range o.Lines {
			if !l.Active() {
				continue
			}
			qty, ok := quantities[l.ID]
			if !ok {
				qty = l.QuantityAllocated
			}
			l.QuantityPicked = qty
			if qty.IsZero() {
				l.Status = LineStatusCancelled
				l.QuantityAllocated = decimal.Zero
			} else {
				l.Status = LineStatusPicked
				l.QuantityAllocated = qty
				remaining++
			}
			if err := tx.UpdateSalesOrderLine(ctx, l); err != nil {
				return err
			}
			o.Lines[i] = l
		}
		if remaining == 0 {
			return fmt.Errorf("%w: sales order %s must pick at least one line", shared.ErrValidation, o.OrderNumber)
		}
		o.Status = StatusPicked
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned(ctx, scope, order, map[string]any{"lines": len(picked)})
	return order, nil
}

// StartPacking moves Picked to Packing.
func (s *Service) StartPacking(ctx context.Context, scope shared.Scope, orderID int64) (SalesOrder, error) {
	return s.step(ctx, scope, orderID, StatusPacking)
}

// CompletePacking marks every picked line packed and moves Packing to Packed.
func (s *Service) CompletePacking(ctx context.Context, scope shared.Scope, orderID int64) (SalesOrder, error) {
	order, err := s.mutate(ctx, scope, orderID, func(ctx context.Context, tx TxRepository, o *SalesOrder) error {
		if !o.Status.CanTransitionTo(StatusPacked) {
			return transitionError(*o, StatusPacked)
		}
		if !o.LinesAtLeast(LineStatusPicked) {
			return fmt.Errorf("%w: sales order %s has lines not picked", shared.ErrInvalidStateTransition, o.OrderNumber)
		}
		for i, l := range o.Lines {
			if l.Status != LineStatusPicked {
				continue
			}
			l.Status = LineStatusPacked
			if err := tx.UpdateSalesOrderLine(ctx, l); err != nil {
				return err
			}
			o.Lines[i] = l
		}
		o.Status = StatusPacked
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned(ctx, scope, order, nil)
	return order, nil
}

// Ship hands the order to the carrier; stock leaves the ledger here unless it
// was committed at confirm.
func (s *Service) Ship(ctx context.Context, scope shared.Scope, orderID int64, input ShipmentInput) (SalesOrder, error) {
	if err := scope.Validate(); err != nil {
		return SalesOrder{}, err
	}
	input.Carrier = strings.TrimSpace(input.Carrier)
	input.TrackingNumber = strings.TrimSpace(input.TrackingNumber)
	if input.Carrier == "" {
		return SalesOrder{}, fmt.Errorf("%w: carrier required", shared.ErrValidation)
	}
	if input.ShippedAt.IsZero() {
		input.ShippedAt = time.Now().UTC()
	}
	order, err := s.shipper.ReconcileShipment(ctx, scope, orderID, input)
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned(ctx, scope, order, map[string]any{"carrier": order.Carrier, "tracking_number": order.TrackingNumber})
	return order, nil
}

// MarkDelivered moves Shipped to Delivered.
func (s *Service) MarkDelivered(ctx context.Context, scope shared.Scope, orderID int64, deliveredAt time.Time) (SalesOrder, error) {
	if deliveredAt.IsZero() {
		deliveredAt = time.Now().UTC()
	}
	order, err := s.mutate(ctx, scope, orderID, func(_ context.Context, _ TxRepository, o *SalesOrder) error {
		if !o.Status.CanTransitionTo(StatusDelivered) {
			return transitionError(*o, StatusDelivered)
		}
		if o.ShippedAt != nil && deliveredAt.Before(*o.ShippedAt) {
			return fmt.Errorf("%w: delivery precedes shipment", shared.ErrValidation)
		}
		at := deliveredAt.UTC()
		o.DeliveredAt = &at
		o.Status = StatusDelivered
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned(ctx, scope, order, nil)
	return order, nil
}

// Hold parks an order; Release returns it to the status it was held from.
func (s *Service) Hold(ctx context.Context, scope shared.Scope, orderID int64, reason string) (SalesOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return SalesOrder{}, fmt.Errorf("%w: hold reason required", shared.ErrValidation)
	}
	order, err := s.mutate(ctx, scope, orderID, func(_ context.Context, _ TxRepository, o *SalesOrder) error {
		if !o.Status.CanTransitionTo(StatusOnHold) {
			return transitionError(*o, StatusOnHold)
		}
		o.HeldFrom = o.Status
		o.StatusReason = reason
		o.Status = StatusOnHold
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned(ctx, scope, order, map[string]any{"reason": reason, "held_from": string(order.HeldFrom)})
	return order, nil
}

// Release resumes a held order.
func (s *Service) Release(ctx context.Context, scope shared.Scope, orderID int64) (SalesOrder, error) {
	order, err := s.mutate(ctx, scope, orderID, func(_ context.Context, _ TxRepository, o *SalesOrder) error {
		if o.Status != StatusOnHold || !o.HeldFrom.Linear() {
			return fmt.Errorf("%w: sales order %s is not on hold", shared.ErrInvalidStateTransition, o.OrderNumber)
		}
		o.Status = o.HeldFrom
		o.HeldFrom = ""
		o.StatusReason = ""
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned(ctx, scope, order, nil)
	return order, nil
}

// Cancel terminates an order before shipment and releases its reservations.
// Stock already committed stays out; no compensating movement is posted.
func (s *Service) Cancel(ctx context.Context, scope shared.Scope, orderID int64, reason string) (SalesOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return SalesOrder{}, fmt.Errorf("%w: cancellation reason required", shared.ErrValidation)
	}
	order, err := s.mutate(ctx, scope, orderID, func(ctx context.Context, tx TxRepository, o *SalesOrder) error {
		if !o.Status.CanTransitionTo(StatusCancelled) {
			return transitionError(*o, StatusCancelled)
		}
		for i, l := range o.Lines {
			if !l.Active() {
				continue
			}
			l.Status = LineStatusCancelled
			l.QuantityAllocated = decimal.Zero
			if err := tx.UpdateSalesOrderLine(ctx, l); err != nil {
				return err
			}
			o.Lines[i] = l
		}
		o.HeldFrom = ""
		o.StatusReason = reason
		o.Status = StatusCancelled
		return nil
	})
	if err != nil {
		return SalesOrder{}, err
	}
	s.transitioned(ctx, scope, order, map[string]any{"reason": reason})
	return order, nil
}

// Delete removes a Draft order.
func (s *Service) Delete(ctx context.Context, scope shared.Scope, orderID int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetSalesOrderForUpdate(ctx, scope.BusinessID, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusDraft {
			return fmt.Errorf("%w: sales order %s is %s; cancel it instead", shared.ErrInvalidStateTransition, o.OrderNumber, o.Status)
		}
		return tx.DeleteSalesOrder(ctx, o.ID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, scope, "SALES_ORDER_DELETE", orderID, nil)
	return nil
}

// Get loads an order with its lines.
func (s *Service) Get(ctx context.Context, scope shared.Scope, orderID int64) (SalesOrder, error) {
	return s.repo.GetSalesOrder(ctx, scope.BusinessID, orderID)
}

// List lists orders of the scope's business.
func (s *Service) List(ctx context.Context, scope shared.Scope, filter Filter) ([]SalesOrder, error) {
	filter.BusinessID = scope.BusinessID
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListSalesOrders(ctx, filter)
}
