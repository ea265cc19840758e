package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/sequence"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// ReceiptLineInput describes what arrived for one purchase order line.
// A nil QuantityReceived defaults to the full outstanding quantity.
type ReceiptLineInput struct {
	PurchaseOrderLineID int64
	QuantityReceived    *decimal.Decimal
	UnitPriceReceived   decimal.NullDecimal
	Condition           Condition
}

// CreateReceiptInput describes an inbound delivery. Empty Lines receives every
// outstanding line in full.
type CreateReceiptInput struct {
	PurchaseOrderID      int64
	SupplierDeliveryNote string
	Lines                []ReceiptLineInput
}

const entityReceipt = "receipt"

// CreateReceipt records a delivery against a Confirmed, Receiving or
// PartiallyReceived order. Receipts with variances start in PendingValidation.
func (s *Service) CreateReceipt(ctx context.Context, scope shared.Scope, input CreateReceiptInput) (Receipt, error) {
	if err := scope.Validate(); err != nil {
		return Receipt{}, err
	}
	if input.PurchaseOrderID == 0 {
		return Receipt{}, fmt.Errorf("%w: purchase order required", shared.ErrValidation)
	}
	number, err := s.numbers.Next(ctx, scope.BusinessID, sequence.DocReceipt)
	if err != nil {
		return Receipt{}, err
	}
	var receipt Receipt
	poMoved := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPurchaseOrderForUpdate(ctx, scope.BusinessID, input.PurchaseOrderID)
		if err != nil {
			return err
		}
		if !po.Status.AcceptsReceipts() {
			return fmt.Errorf("%w: purchase order %s is %s and cannot receive goods", shared.ErrInvalidStateTransition, po.OrderNumber, po.Status)
		}
		lines, err := s.buildReceiptLines(po, input.Lines)
		if err != nil {
			return err
		}
		receipt = Receipt{
			BusinessID:           scope.BusinessID,
			PurchaseOrderID:      po.ID,
			ReceiptNumber:        number,
			Status:               ReceiptStatusInProgress,
			Lines:                lines,
			SupplierDeliveryNote: strings.TrimSpace(input.SupplierDeliveryNote),
			CreatedBy:            scope.Actor.ID,
		}
		for _, l := range lines {
			if l.HasVariance() {
				receipt.HasVariances = true
			}
		}
		if receipt.HasVariances {
			receipt.Status = ReceiptStatusPendingValidation
		}
		poMoved = false
		if po.Status == POStatusConfirmed {
			po.Status = POStatusReceiving
			if err := tx.UpdatePurchaseOrder(ctx, po); err != nil {
				return err
			}
			poMoved = true
		}
		receipt, err = tx.InsertReceipt(ctx, receipt)
		return err
	})
	if err != nil {
		return Receipt{}, err
	}
	if poMoved {
		s.transitioned(ctx, scope, entityPurchaseOrder, receipt.PurchaseOrderID, string(POStatusReceiving), map[string]any{"receipt": receipt.ReceiptNumber})
	}
	s.transitioned(ctx, scope, entityReceipt, receipt.ID, string(receipt.Status), map[string]any{"number": receipt.ReceiptNumber, "has_variances": receipt.HasVariances})
	return receipt, nil
}

func (s *Service) buildReceiptLines(po PurchaseOrder, inputs []ReceiptLineInput) ([]ReceiptLine, error) {
	if len(inputs) == 0 {
		for _, l := range po.Lines {
			if l.Outstanding().IsPositive() {
				inputs = append(inputs, ReceiptLineInput{PurchaseOrderLineID: l.ID})
			}
		}
	}
	lines := make([]ReceiptLine, 0, len(inputs))
	seen := make(map[int64]bool, len(inputs))
	anyPositive := false
	for _, in := range inputs {
		if seen[in.PurchaseOrderLineID] {
			return nil, fmt.Errorf("%w: purchase order line %d listed twice", shared.ErrValidation, in.PurchaseOrderLineID)
		}
		seen[in.PurchaseOrderLineID] = true
		idx := po.LineIndex(in.PurchaseOrderLineID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %d on order %s", ErrLineNotFound, in.PurchaseOrderLineID, po.OrderNumber)
		}
		poLine := po.Lines[idx]
		if !poLine.Open() {
			return nil, fmt.Errorf("%w: line %d is %s", shared.ErrValidation, poLine.ID, poLine.Status)
		}
		qty := poLine.Outstanding()
		if in.QuantityReceived != nil {
			qty = *in.QuantityReceived
		}
		if qty.IsNegative() {
			return nil, fmt.Errorf("%w: line %d received quantity must not be negative", shared.ErrValidation, poLine.ID)
		}
		if qty.GreaterThan(poLine.Outstanding()) && !s.allowOver {
			return nil, fmt.Errorf("%w: line %d receives %s but only %s outstanding", shared.ErrValidation, poLine.ID, qty, poLine.Outstanding())
		}
		if in.UnitPriceReceived.Valid && in.UnitPriceReceived.Decimal.IsNegative() {
			return nil, fmt.Errorf("%w: line %d price must not be negative", shared.ErrValidation, poLine.ID)
		}
		condition := in.Condition
		if condition == "" {
			condition = ConditionGood
		}
		if !condition.Valid() {
			return nil, fmt.Errorf("%w: unknown condition %q", shared.ErrValidation, condition)
		}
		line := ReceiptLine{
			PurchaseOrderLineID: poLine.ID,
			ProductID:           poLine.ProductID,
			QuantityReceived:    qty,
			UnitPriceReceived:   in.UnitPriceReceived,
			Condition:           condition,
		}
		computeVariance(&line, poLine)
		if qty.IsPositive() {
			anyPositive = true
		}
		lines = append(lines, line)
	}
	if !anyPositive {
		return nil, fmt.Errorf("%w: receipt must receive a positive quantity on at least one line", shared.ErrValidation)
	}
	return lines, nil
}

func (s *Service) mutateReceipt(ctx context.Context, scope shared.Scope, receiptID int64, fn func(*Receipt) error) (Receipt, error) {
	if err := scope.Validate(); err != nil {
		return Receipt{}, err
	}
	var receipt Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		receipt, err = tx.GetReceiptForUpdate(ctx, scope.BusinessID, receiptID)
		if err != nil {
			return err
		}
		if err := fn(&receipt); err != nil {
			return err
		}
		return tx.UpdateReceipt(ctx, receipt)
	})
	if err != nil {
		return Receipt{}, err
	}
	s.transitioned(ctx, scope, entityReceipt, receipt.ID, string(receipt.Status), nil)
	return receipt, nil
}

// SubmitReceipt sends an InProgress receipt to manual validation.
func (s *Service) SubmitReceipt(ctx context.Context, scope shared.Scope, receiptID int64) (Receipt, error) {
	return s.mutateReceipt(ctx, scope, receiptID, func(r *Receipt) error {
		if !r.Status.CanTransitionTo(ReceiptStatusPendingValidation) {
			return receiptTransitionError(*r, ReceiptStatusPendingValidation)
		}
		r.Status = ReceiptStatusPendingValidation
		return nil
	})
}

// ApproveReceipt validates a receipt. Variance notes are required when the receipt has variances.
func (s *Service) ApproveReceipt(ctx context.Context, scope shared.Scope, receiptID int64, varianceNotes string) (Receipt, error) {
	varianceNotes = strings.TrimSpace(varianceNotes)
	return s.mutateReceipt(ctx, scope, receiptID, func(r *Receipt) error {
		if !r.Status.CanTransitionTo(ReceiptStatusValidated) {
			return receiptTransitionError(*r, ReceiptStatusValidated)
		}
		if r.HasVariances && varianceNotes == "" {
			return fmt.Errorf("%w: variance notes required to approve receipt %s", shared.ErrValidation, r.ReceiptNumber)
		}
		r.VarianceNotes = varianceNotes
		r.Status = ReceiptStatusValidated
		return nil
	})
}

// RejectReceipt terminates a receipt awaiting validation. Stock is not touched.
func (s *Service) RejectReceipt(ctx context.Context, scope shared.Scope, receiptID int64, reason string) (Receipt, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Receipt{}, fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}
	return s.mutateReceipt(ctx, scope, receiptID, func(r *Receipt) error {
		if !r.Status.CanTransitionTo(ReceiptStatusRejected) {
			return receiptTransitionError(*r, ReceiptStatusRejected)
		}
		r.RejectReason = reason
		r.Status = ReceiptStatusRejected
		return nil
	})
}

// CompleteReceipt applies the receipt to stock and its purchase order. A second
// call fails with an invalid state transition and changes nothing.
func (s *Service) CompleteReceipt(ctx context.Context, scope shared.Scope, receiptID int64) (Receipt, error) {
	if err := scope.Validate(); err != nil {
		return Receipt{}, err
	}
	receipt, err := s.reconciler.ReconcileReceipt(ctx, scope, receiptID)
	if err != nil {
		s.logger.Debug("complete receipt rejected", slog.Int64("receipt_id", receiptID), slog.Any("error", err))
		return Receipt{}, err
	}
	s.transitioned(ctx, scope, entityReceipt, receipt.ID, string(receipt.Status), map[string]any{"number": receipt.ReceiptNumber})
	return receipt, nil
}

// DeleteReceipt removes a receipt that has not been completed.
func (s *Service) DeleteReceipt(ctx context.Context, scope shared.Scope, receiptID int64) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.GetReceiptForUpdate(ctx, scope.BusinessID, receiptID)
		if err != nil {
			return err
		}
		if r.Status == ReceiptStatusCompleted {
			return fmt.Errorf("%w: receipt %s is completed", shared.ErrInvalidStateTransition, r.ReceiptNumber)
		}
		return tx.DeleteReceipt(ctx, r.ID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, scope, "RECEIPT_DELETE", entityReceipt, receiptID, nil)
	return nil
}

// GetReceipt loads a receipt with its lines.
func (s *Service) GetReceipt(ctx context.Context, scope shared.Scope, receiptID int64) (Receipt, error) {
	return s.repo.GetReceipt(ctx, scope.BusinessID, receiptID)
}

// ListReceipts lists receipts of a purchase order.
func (s *Service) ListReceipts(ctx context.Context, scope shared.Scope, purchaseOrderID int64) ([]Receipt, error) {
	if _, err := s.repo.GetPurchaseOrder(ctx, scope.BusinessID, purchaseOrderID); err != nil {
		return nil, err
	}
	return s.repo.ListReceipts(ctx, scope.BusinessID, purchaseOrderID)
}
