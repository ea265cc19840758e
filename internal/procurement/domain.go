package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// POStatus is the purchase order lifecycle.
type POStatus string

const (
	POStatusDraft             POStatus = "DRAFT"
	POStatusSubmitted         POStatus = "SUBMITTED"
	POStatusConfirmed         POStatus = "CONFIRMED"
	POStatusReceiving         POStatus = "RECEIVING"
	POStatusPartiallyReceived POStatus = "PARTIALLY_RECEIVED"
	POStatusCompleted         POStatus = "COMPLETED"
	POStatusCancelled         POStatus = "CANCELLED"
)

var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:             {POStatusSubmitted, POStatusCancelled},
	POStatusSubmitted:         {POStatusConfirmed, POStatusCancelled},
	POStatusConfirmed:         {POStatusReceiving, POStatusPartiallyReceived, POStatusCompleted, POStatusCancelled},
	POStatusReceiving:         {POStatusPartiallyReceived, POStatusCompleted, POStatusCancelled},
	POStatusPartiallyReceived: {POStatusCompleted, POStatusCancelled},
}

// CanTransitionTo reports whether the table allows s -> next.
func (s POStatus) CanTransitionTo(next POStatus) bool {
	for _, allowed := range poTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s POStatus) Terminal() bool {
	return s == POStatusCompleted || s == POStatusCancelled
}

// AcceptsReceipts reports whether goods may be received against the order.
func (s POStatus) AcceptsReceipts() bool {
	return s == POStatusConfirmed || s == POStatusReceiving || s == POStatusPartiallyReceived
}

// Valid reports whether s is a known status.
func (s POStatus) Valid() bool {
	switch s {
	case POStatusDraft, POStatusSubmitted, POStatusConfirmed, POStatusReceiving,
		POStatusPartiallyReceived, POStatusCompleted, POStatusCancelled:
		return true
	}
	return false
}

// LineStatus is the purchase order line lifecycle.
type LineStatus string

const (
	LineStatusPending           LineStatus = "PENDING"
	LineStatusPartiallyReceived LineStatus = "PARTIALLY_RECEIVED"
	LineStatusFullyReceived     LineStatus = "FULLY_RECEIVED"
	LineStatusCancelled         LineStatus = "CANCELLED"
	LineStatusShortShipped      LineStatus = "SHORT_SHIPPED"
)

// ReceiptStatus is the receipt lifecycle.
type ReceiptStatus string

const (
	ReceiptStatusInProgress        ReceiptStatus = "IN_PROGRESS"
	ReceiptStatusPendingValidation ReceiptStatus = "PENDING_VALIDATION"
	ReceiptStatusValidated         ReceiptStatus = "VALIDATED"
	ReceiptStatusCompleted         ReceiptStatus = "COMPLETED"
	ReceiptStatusRejected          ReceiptStatus = "REJECTED"
)

var receiptTransitions = map[ReceiptStatus][]ReceiptStatus{
	ReceiptStatusInProgress:        {ReceiptStatusPendingValidation, ReceiptStatusCompleted},
	ReceiptStatusPendingValidation: {ReceiptStatusValidated, ReceiptStatusRejected},
	ReceiptStatusValidated:         {ReceiptStatusCompleted},
}

// CanTransitionTo reports whether the table allows s -> next.
func (s ReceiptStatus) CanTransitionTo(next ReceiptStatus) bool {
	for _, allowed := range receiptTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Condition describes the state goods arrived in.
type Condition string

const (
	ConditionGood      Condition = "GOOD"
	ConditionDamaged   Condition = "DAMAGED"
	ConditionDefective Condition = "DEFECTIVE"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	return c == ConditionGood || c == ConditionDamaged || c == ConditionDefective
}

var (
	// ErrPurchaseOrderNotFound indicates the order is unknown in the business.
	ErrPurchaseOrderNotFound = fmt.Errorf("%w: purchase order", shared.ErrNotFound)
	// ErrReceiptNotFound indicates the receipt is unknown in the business.
	ErrReceiptNotFound = fmt.Errorf("%w: receipt", shared.ErrNotFound)
	// ErrLineNotFound indicates a purchase order line id that is not on the order.
	ErrLineNotFound = fmt.Errorf("%w: purchase order line", shared.ErrNotFound)
)

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID                    int64               `json:"id"`
	BusinessID            int64               `json:"businessId"`
	OrderNumber           string              `json:"orderNumber"`
	SupplierID            int64               `json:"supplierId"`
	Status                POStatus            `json:"status"`
	Lines                 []PurchaseOrderLine `json:"lines"`
	TaxAmount             decimal.Decimal     `json:"taxAmount"`
	ShippingCost          decimal.Decimal     `json:"shippingCost"`
	ExpectedDeliveryDate  *time.Time          `json:"expectedDeliveryDate,omitempty"`
	ConfirmedDeliveryDate *time.Time          `json:"confirmedDeliveryDate,omitempty"`
	Notes                 string              `json:"notes,omitempty"`
	CancelReason          string              `json:"cancelReason,omitempty"`
	CreatedBy             int64               `json:"createdBy"`
	CreatedAt             time.Time           `json:"createdAt"`
	UpdatedAt             time.Time           `json:"updatedAt"`
}

// PurchaseOrderLine represents an ordered product.
type PurchaseOrderLine struct {
	ID               int64           `json:"id"`
	PurchaseOrderID  int64           `json:"purchaseOrderId"`
	ProductID        int64           `json:"productId"`
	QuantityOrdered  decimal.Decimal `json:"quantityOrdered"`
	QuantityReceived decimal.Decimal `json:"quantityReceived"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	Status           LineStatus      `json:"status"`
	CloseReason      string          `json:"closeReason,omitempty"`
}

// Open reports whether the line still expects goods.
func (l PurchaseOrderLine) Open() bool {
	return l.Status == LineStatusPending || l.Status == LineStatusPartiallyReceived
}

// Outstanding is ordered minus received, zero once the line is closed or over-received.
func (l PurchaseOrderLine) Outstanding() decimal.Decimal {
	if !l.Open() {
		return decimal.Zero
	}
	out := l.QuantityOrdered.Sub(l.QuantityReceived)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// Amount is quantity ordered times unit price.
func (l PurchaseOrderLine) Amount() decimal.Decimal {
	return l.QuantityOrdered.Mul(l.UnitPrice)
}

// Subtotal sums line amounts.
func (po PurchaseOrder) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range po.Lines {
		total = total.Add(l.Amount())
	}
	return total
}

// Total is subtotal plus tax and shipping.
func (po PurchaseOrder) Total() decimal.Decimal {
	return po.Subtotal().Add(po.TaxAmount).Add(po.ShippingCost)
}

// LineIndex returns the position of a line by id or -1.
func (po PurchaseOrder) LineIndex(lineID int64) int {
	for i, l := range po.Lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

// ReceiveLine increments the line's received quantity and recomputes its status.
// Over-receipt is rejected unless allowOver is set.
func (po *PurchaseOrder) ReceiveLine(lineID int64, qty decimal.Decimal, allowOver bool) (PurchaseOrderLine, error) {
	idx := po.LineIndex(lineID)
	if idx < 0 {
		return PurchaseOrderLine{}, ErrLineNotFound
	}
	line := po.Lines[idx]
	if !line.Open() {
		return PurchaseOrderLine{}, fmt.Errorf("%w: line %d is %s", shared.ErrValidation, line.ID, line.Status)
	}
	if qty.IsNegative() {
		return PurchaseOrderLine{}, fmt.Errorf("%w: received quantity must not be negative", shared.ErrValidation)
	}
	received := line.QuantityReceived.Add(qty)
	if received.GreaterThan(line.QuantityOrdered) && !allowOver {
		return PurchaseOrderLine{}, fmt.Errorf("%w: line %d would receive %s of %s ordered", shared.ErrValidation, line.ID, received, line.QuantityOrdered)
	}
	line.QuantityReceived = received
	switch {
	case received.GreaterThanOrEqual(line.QuantityOrdered):
		line.Status = LineStatusFullyReceived
	case received.IsPositive():
		line.Status = LineStatusPartiallyReceived
	}
	po.Lines[idx] = line
	return line, nil
}

// RecomputeStatus derives the aggregate status from the lines. It never moves
// an order backwards and leaves Draft, Submitted and terminal orders alone.
func RecomputeStatus(po PurchaseOrder) POStatus {
	if !po.Status.AcceptsReceipts() {
		return po.Status
	}
	active, closed := 0, 0
	anyReceived := false
	for _, l := range po.Lines {
		if l.Status == LineStatusCancelled {
			continue
		}
		active++
		if l.Status == LineStatusFullyReceived || l.Status == LineStatusShortShipped {
			closed++
		}
		if l.QuantityReceived.IsPositive() {
			anyReceived = true
		}
	}
	switch {
	case active > 0 && closed == active:
		return POStatusCompleted
	case anyReceived:
		return POStatusPartiallyReceived
	default:
		return po.Status
	}
}

// Receipt records an inbound delivery against one purchase order.
type Receipt struct {
	ID                   int64         `json:"id"`
	BusinessID           int64         `json:"businessId"`
	PurchaseOrderID      int64         `json:"purchaseOrderId"`
	ReceiptNumber        string        `json:"receiptNumber"`
	Status               ReceiptStatus `json:"status"`
	Lines                []ReceiptLine `json:"lines"`
	HasVariances         bool          `json:"hasVariances"`
	SupplierDeliveryNote string        `json:"supplierDeliveryNote,omitempty"`
	VarianceNotes        string        `json:"varianceNotes,omitempty"`
	RejectReason         string        `json:"rejectReason,omitempty"`
	CreatedBy            int64         `json:"createdBy"`
	CompletedAt          *time.Time    `json:"completedAt,omitempty"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
}

// ReceiptLine holds the quantity received for one purchase order line.
type ReceiptLine struct {
	ID                  int64               `json:"id"`
	ReceiptID           int64               `json:"receiptId"`
	PurchaseOrderLineID int64               `json:"purchaseOrderLineId"`
	ProductID           int64               `json:"productId"`
	QuantityReceived    decimal.Decimal     `json:"quantityReceived"`
	UnitPriceReceived   decimal.NullDecimal `json:"unitPriceReceived"`
	Condition           Condition           `json:"condition"`
	QuantityVariance    decimal.Decimal     `json:"quantityVariance"`
	PriceVariance       decimal.Decimal     `json:"priceVariance"`
}

// HasVariance reports whether the line deviates from the order. Receiving less
// than outstanding is a partial delivery and does not count.
func (l ReceiptLine) HasVariance() bool {
	return l.QuantityVariance.IsPositive() || !l.PriceVariance.IsZero()
}

// CanComplete returns nil when complete() is allowed from the current status.
func (r Receipt) CanComplete() error {
	switch {
	case r.Status == ReceiptStatusValidated:
		return nil
	case r.Status == ReceiptStatusInProgress && !r.HasVariances:
		return nil
	case r.Status == ReceiptStatusInProgress:
		return fmt.Errorf("%w: receipt %s has variances and must be validated first", shared.ErrInvalidStateTransition, r.ReceiptNumber)
	default:
		return fmt.Errorf("%w: receipt %s is %s", shared.ErrInvalidStateTransition, r.ReceiptNumber, r.Status)
	}
}

// POFilter narrows purchase order listings.
type POFilter struct {
	BusinessID int64
	Status     POStatus
	SupplierID int64
	Limit      int
	Offset     int
}

func computeVariance(line *ReceiptLine, poLine PurchaseOrderLine) {
	line.QuantityVariance = line.QuantityReceived.Sub(poLine.Outstanding())
	if line.UnitPriceReceived.Valid {
		line.PriceVariance = line.UnitPriceReceived.Decimal.Sub(poLine.UnitPrice)
	} else {
		line.PriceVariance = decimal.Zero
	}
}

func poTransitionError(po PurchaseOrder, next POStatus) error {
	return fmt.Errorf("%w: purchase order %s cannot move from %s to %s", shared.ErrInvalidStateTransition, po.OrderNumber, po.Status, next)
}

func receiptTransitionError(r Receipt, next ReceiptStatus) error {
	return fmt.Errorf("%w: receipt %s cannot move from %s to %s", shared.ErrInvalidStateTransition, r.ReceiptNumber, r.Status, next)
}
