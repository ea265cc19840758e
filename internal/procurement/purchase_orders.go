package procurement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

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

// CreatePurchaseOrderInput describes creation payload.
type CreatePurchaseOrderInput struct {
	SupplierID           int64
	Lines                []LineInput
	TaxAmount            decimal.Decimal
	ShippingCost         decimal.Decimal
	ExpectedDeliveryDate *time.Time
	Notes                string
}

const entityPurchaseOrder = "purchase_order"

func buildLines(inputs []LineInput) ([]PurchaseOrderLine, []int64, error) {
	lines := make([]PurchaseOrderLine, 0, len(inputs))
	ids := make([]int64, 0, len(inputs))
	for i, in := range inputs {
		if in.ProductID == 0 {
			return nil, nil, fmt.Errorf("%w: line %d product required", shared.ErrValidation, i+1)
		}
		if in.Quantity.IsNegative() || in.UnitPrice.IsNegative() {
			return nil, nil, fmt.Errorf("%w: line %d quantity and price must not be negative", shared.ErrValidation, i+1)
		}
		lines = append(lines, PurchaseOrderLine{
			ProductID:       in.ProductID,
			QuantityOrdered: in.Quantity,
			UnitPrice:       in.UnitPrice,
			Status:          LineStatusPending,
		})
		ids = append(ids, in.ProductID)
	}
	return lines, ids, nil
}

// CreatePurchaseOrder creates a Draft order with a freshly issued order number.
func (s *Service) CreatePurchaseOrder(ctx context.Context, scope shared.Scope, input CreatePurchaseOrderInput) (PurchaseOrder, error) {
	if err := scope.Validate(); err != nil {
		return PurchaseOrder{}, err
	}
	if input.SupplierID == 0 {
		return PurchaseOrder{}, fmt.Errorf("%w: supplier required", shared.ErrValidation)
	}
	if input.TaxAmount.IsNegative() || input.ShippingCost.IsNegative() {
		return PurchaseOrder{}, fmt.Errorf("%w: tax and shipping must not be negative", shared.ErrValidation)
	}
	lines, productIDs, err := buildLines(input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if err := s.suppliers.SupplierExists(ctx, scope.BusinessID, input.SupplierID); err != nil {
		return PurchaseOrder{}, err
	}
	number, err := s.numbers.Next(ctx, scope.BusinessID, sequence.DocPurchaseOrder)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po := PurchaseOrder{
		BusinessID:           scope.BusinessID,
		OrderNumber:          number,
		SupplierID:           input.SupplierID,
		Status:               POStatusDraft,
		Lines:                lines,
		TaxAmount:            input.TaxAmount,
		ShippingCost:         input.ShippingCost,
		ExpectedDeliveryDate: input.ExpectedDeliveryDate,
		Notes:                input.Notes,
		CreatedBy:            scope.Actor.ID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ProductsExist(ctx, scope.BusinessID, productIDs); err != nil {
			return err
		}
		created, err := tx.InsertPurchaseOrder(ctx, po)
		if err != nil {
			return err
		}
		po = created
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.transitioned(ctx, scope, entityPurchaseOrder, po.ID, string(po.Status), map[string]any{"number": po.OrderNumber})
	return po, nil
}

// UpdateDraftLines replaces the lines of a Draft order.
func (s *Service) UpdateDraftLines(ctx context.Context, scope shared.Scope, poID int64, inputs []LineInput) (PurchaseOrder, error) {
	if err := scope.Validate(); err != nil {
		return PurchaseOrder{}, err
	}
	lines, productIDs, err := buildLines(inputs)
	if err != nil {
		return PurchaseOrder{}, err
	}
	var po PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPurchaseOrderForUpdate(ctx, scope.BusinessID, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return fmt.Errorf("%w: purchase order %s lines are fixed once %s", shared.ErrInvalidStateTransition, po.OrderNumber, po.Status)
		}
		if err := tx.ProductsExist(ctx, scope.BusinessID, productIDs); err != nil {
			return err
		}
		po.Lines, err = tx.ReplacePurchaseOrderLines(ctx, po.ID, lines)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, scope, "PURCHASE_ORDER_LINES", entityPurchaseOrder, po.ID, map[string]any{"lines": len(po.Lines)})
	return po, nil
}

// mutatePurchaseOrder loads the order under lock, applies fn and persists header changes.
func (s *Service) mutatePurchaseOrder(ctx context.Context, scope shared.Scope, poID int64, fn func(context.Context, TxRepository, *PurchaseOrder) error) (PurchaseOrder, error) {
	if err := scope.Validate(); err != nil {
		return PurchaseOrder{}, err
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, err = tx.GetPurchaseOrderForUpdate(ctx, scope.BusinessID, poID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &po); err != nil {
			return err
		}
		return tx.UpdatePurchaseOrder(ctx, po)
	})
	return po, err
}

// SubmitPurchaseOrder moves Draft to Submitted.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, scope shared.Scope, poID int64) (PurchaseOrder, error) {
	po, err := s.mutatePurchaseOrder(ctx, scope, poID, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		if !po.Status.CanTransitionTo(POStatusSubmitted) {
			return poTransitionError(*po, POStatusSubmitted)
		}
		if len(po.Lines) == 0 {
			return fmt.Errorf("%w: purchase order %s has no lines", shared.ErrValidation, po.OrderNumber)
		}
		for _, l := range po.Lines {
			if !l.QuantityOrdered.IsPositive() {
				return fmt.Errorf("%w: purchase order %s line %d quantity must be positive", shared.ErrValidation, po.OrderNumber, l.ID)
			}
		}
		po.Status = POStatusSubmitted
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.transitioned(ctx, scope, entityPurchaseOrder, po.ID, string(po.Status), nil)
	return po, nil
}

// ConfirmPurchaseOrder records the supplier-confirmed delivery date and moves Submitted to Confirmed.
func (s *Service) ConfirmPurchaseOrder(ctx context.Context, scope shared.Scope, poID int64, confirmedDeliveryDate time.Time) (PurchaseOrder, error) {
	if confirmedDeliveryDate.IsZero() {
		return PurchaseOrder{}, fmt.Errorf("%w: confirmed delivery date required", shared.ErrValidation)
	}
	po, err := s.mutatePurchaseOrder(ctx, scope, poID, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		if !po.Status.CanTransitionTo(POStatusConfirmed) {
			return poTransitionError(*po, POStatusConfirmed)
		}
		date := confirmedDeliveryDate.UTC()
		po.ConfirmedDeliveryDate = &date
		po.Status = POStatusConfirmed
		return outbox.Emit(ctx, tx.Events(), outbox.DomainEvent{
			BusinessID:    scope.BusinessID,
			EventType:     outbox.EventPurchaseOrderConfirmed,
			AggregateType: outbox.AggregatePurchaseOrder,
			AggregateID:   po.ID,
			Actor:         actorRef(scope),
			Data: map[string]any{
				"orderNumber":           po.OrderNumber,
				"supplierId":            po.SupplierID,
				"confirmedDeliveryDate": date.Format("2006-01-02"),
				"total":                 po.Total(),
			},
		})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.transitioned(ctx, scope, entityPurchaseOrder, po.ID, string(po.Status), map[string]any{"confirmed_delivery_date": po.ConfirmedDeliveryDate})
	return po, nil
}

// CancelPurchaseOrder cancels a non-terminal order. Open lines become Cancelled;
// stock already received stays on hand.
func (s *Service) CancelPurchaseOrder(ctx context.Context, scope shared.Scope, poID int64, reason string) (PurchaseOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return PurchaseOrder{}, fmt.Errorf("%w: cancellation reason required", shared.ErrValidation)
	}
	po, err := s.mutatePurchaseOrder(ctx, scope, poID, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		if !po.Status.CanTransitionTo(POStatusCancelled) {
			return poTransitionError(*po, POStatusCancelled)
		}
		for i, l := range po.Lines {
			if !l.Open() {
				continue
			}
			l.Status = LineStatusCancelled
			l.CloseReason = reason
			if err := tx.UpdatePurchaseOrderLine(ctx, l); err != nil {
				return err
			}
			po.Lines[i] = l
		}
		po.Status = POStatusCancelled
		po.CancelReason = reason
		return outbox.Emit(ctx, tx.Events(), outbox.DomainEvent{
			BusinessID:    scope.BusinessID,
			EventType:     outbox.EventPurchaseOrderCancelled,
			AggregateType: outbox.AggregatePurchaseOrder,
			AggregateID:   po.ID,
			Actor:         actorRef(scope),
			Data:          map[string]any{"orderNumber": po.OrderNumber, "reason": reason},
		})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.transitioned(ctx, scope, entityPurchaseOrder, po.ID, string(po.Status), map[string]any{"reason": reason})
	return po, nil
}

// DeletePurchaseOrder removes a Draft order.
func (s *Service) DeletePurchaseOrder(ctx context.Context, scope shared.Scope, poID int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPurchaseOrderForUpdate(ctx, scope.BusinessID, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return fmt.Errorf("%w: purchase order %s is %s; cancel it instead", shared.ErrInvalidStateTransition, po.OrderNumber, po.Status)
		}
		return tx.DeletePurchaseOrder(ctx, po.ID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, scope, "PURCHASE_ORDER_DELETE", entityPurchaseOrder, poID, nil)
	return nil
}

// ClosePurchaseOrderLineShort marks an open line ShortShipped and recomputes the order status.
func (s *Service) ClosePurchaseOrderLineShort(ctx context.Context, scope shared.Scope, poID, lineID int64, reason string) (PurchaseOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return PurchaseOrder{}, fmt.Errorf("%w: short-ship reason required", shared.ErrValidation)
	}
	po, err := s.mutatePurchaseOrder(ctx, scope, poID, func(ctx context.Context, tx TxRepository, po *PurchaseOrder) error {
		if !po.Status.AcceptsReceipts() {
			return fmt.Errorf("%w: purchase order %s is %s", shared.ErrInvalidStateTransition, po.OrderNumber, po.Status)
		}
		idx := po.LineIndex(lineID)
		if idx < 0 {
			return ErrLineNotFound
		}
		line := po.Lines[idx]
		if !line.Open() {
			return fmt.Errorf("%w: line %d is %s", shared.ErrInvalidStateTransition, line.ID, line.Status)
		}
		line.Status = LineStatusShortShipped
		line.CloseReason = reason
		if err := tx.UpdatePurchaseOrderLine(ctx, line); err != nil {
			return err
		}
		po.Lines[idx] = line
		po.Status = RecomputeStatus(*po)
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.transitioned(ctx, scope, entityPurchaseOrder, po.ID, string(po.Status), map[string]any{"short_shipped_line": lineID, "reason": reason})
	return po, nil
}

// GetPurchaseOrder loads an order with its lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, scope shared.Scope, poID int64) (PurchaseOrder, error) {
	return s.repo.GetPurchaseOrder(ctx, scope.BusinessID, poID)
}

// ListPurchaseOrders lists orders of the scope's business.
func (s *Service) ListPurchaseOrders(ctx context.Context, scope shared.Scope, filter POFilter) ([]PurchaseOrder, error) {
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
	return s.repo.ListPurchaseOrders(ctx, filter)
}
