package sales

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// Status is the sales order lifecycle.
type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusSubmitted      Status = "SUBMITTED"
	StatusConfirmed      Status = "CONFIRMED"
	StatusAwaitingPickup Status = "AWAITING_PICKUP"
	StatusPicking        Status = "PICKING"
	StatusPicked         Status = "PICKED"
	StatusPacking        Status = "PACKING"
	StatusPacked         Status = "PACKED"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusOnHold         Status = "ON_HOLD"
)

// ProgressSteps is the number of linear steps between Draft and Delivered.
const ProgressSteps = 9

var ordinals = map[Status]int{
	StatusDraft:          0,
	StatusSubmitted:      1,
	StatusConfirmed:      2,
	StatusAwaitingPickup: 3,
	StatusPicking:        4,
	StatusPicked:         5,
	StatusPacking:        6,
	StatusPacked:         7,
	StatusShipped:        8,
	StatusDelivered:      9,
	StatusCancelled:      10,
	StatusOnHold:         11,
}

var transitions = map[Status][]Status{
	StatusDraft:          {StatusSubmitted, StatusCancelled},
	StatusSubmitted:      {StatusConfirmed, StatusCancelled, StatusOnHold},
	StatusConfirmed:      {StatusAwaitingPickup, StatusCancelled, StatusOnHold},
	StatusAwaitingPickup: {StatusPicking, StatusCancelled, StatusOnHold},
	StatusPicking:        {StatusPicked, StatusCancelled, StatusOnHold},
	StatusPicked:         {StatusPacking, StatusCancelled, StatusOnHold},
	StatusPacking:        {StatusPacked, StatusCancelled, StatusOnHold},
	StatusPacked:         {StatusShipped, StatusCancelled, StatusOnHold},
	StatusShipped:        {StatusDelivered},
	StatusOnHold:         {StatusCancelled},
}

// Ordinal returns the position of s in the lifecycle.
func (s Status) Ordinal() int {
	if o, ok := ordinals[s]; ok {
		return o
	}
	return -1
}

// Linear reports whether s is on the Draft..Delivered path.
func (s Status) Linear() bool {
	o := s.Ordinal()
	return o >= 0 && o <= ProgressSteps
}

// CanTransitionTo reports whether the table allows s -> next. Leaving OnHold
// for the held-from status is decided by the order, not the table.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Ordinal() >= 0
}

// LineStatus is the per-line fulfilment status.
type LineStatus string

const (
	LineStatusPending   LineStatus = "PENDING"
	LineStatusAllocated LineStatus = "ALLOCATED"
	LineStatusPicked    LineStatus = "PICKED"
	LineStatusPacked    LineStatus = "PACKED"
	LineStatusShipped   LineStatus = "SHIPPED"
	LineStatusCancelled LineStatus = "CANCELLED"
)

var lineRank = map[LineStatus]int{
	LineStatusPending:   0,
	LineStatusAllocated: 1,
	LineStatusPicked:    2,
	LineStatusPacked:    3,
	LineStatusShipped:   4,
}

// Priority orders fulfilment work.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Valid reports whether p is known.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// DecrementPolicy selects when confirmed quantities leave stock.
type DecrementPolicy string

const (
	// DecrementAtShip reserves at confirm and posts StockOut at ship.
	DecrementAtShip DecrementPolicy = "ship"
	// DecrementAtConfirm posts StockOut at confirm.
	DecrementAtConfirm DecrementPolicy = "confirm"
)

// Valid reports whether p is known.
func (p DecrementPolicy) Valid() bool {
	return p == DecrementAtShip || p == DecrementAtConfirm
}

// ErrSalesOrderNotFound indicates the order is unknown in the business.
var ErrSalesOrderNotFound = fmt.Errorf("%w: sales order", shared.ErrNotFound)

// SalesOrder is the customer order aggregate.
type SalesOrder struct {
	ID             int64            `json:"id"`
	BusinessID     int64            `json:"businessId"`
	OrderNumber    string           `json:"orderNumber"`
	CustomerID     int64            `json:"customerId"`
	Status         Status           `json:"status"`
	HeldFrom       Status           `json:"heldFrom,omitempty"`
	Priority       Priority         `json:"priority"`
	Lines          []SalesOrderLine `json:"lines"`
	Carrier        string           `json:"carrier,omitempty"`
	TrackingNumber string           `json:"trackingNumber,omitempty"`
	ShippedAt      *time.Time       `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time       `json:"deliveredAt,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	StatusReason   string           `json:"statusReason,omitempty"`
	CreatedBy      int64            `json:"createdBy"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// SalesOrderLine is one ordered product.
type SalesOrderLine struct {
	ID                int64           `json:"id"`
	SalesOrderID      int64           `json:"salesOrderId"`
	ProductID         int64           `json:"productId"`
	QuantityOrdered   decimal.Decimal `json:"quantityOrdered"`
	QuantityAllocated decimal.Decimal `json:"quantityAllocated"`
	QuantityPicked    decimal.Decimal `json:"quantityPicked"`
	QuantityShipped   decimal.Decimal `json:"quantityShipped"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	Status            LineStatus      `json:"status"`
	// StockCommitted is set once the line's StockOut has been posted.
	StockCommitted bool `json:"stockCommitted"`
}

// Active reports whether the line still takes part in fulfilment.
func (l SalesOrderLine) Active() bool {
	return l.Status != LineStatusCancelled
}

// Reserved is the quantity held against stock without a ledger entry.
func (l SalesOrderLine) Reserved() decimal.Decimal {
	if !l.Active() || l.StockCommitted {
		return decimal.Zero
	}
	return l.QuantityAllocated.Sub(l.QuantityShipped)
}

// Amount is quantity ordered times unit price.
func (l SalesOrderLine) Amount() decimal.Decimal {
	return l.QuantityOrdered.Mul(l.UnitPrice)
}

// Total sums active line amounts.
func (o SalesOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.Lines {
		if l.Active() {
			total = total.Add(l.Amount())
		}
	}
	return total
}

// Progress returns completed steps out of ProgressSteps. Cancelled orders
// report zero; held orders report the step they were held at.
func (o SalesOrder) Progress() (int, int) {
	switch {
	case o.Status.Linear():
		return o.Status.Ordinal(), ProgressSteps
	case o.Status == StatusOnHold && o.HeldFrom.Linear():
		return o.HeldFrom.Ordinal(), ProgressSteps
	default:
		return 0, ProgressSteps
	}
}

// LinesAtLeast reports whether every active line has reached status.
func (o SalesOrder) LinesAtLeast(status LineStatus) bool {
	active := 0
	for _, l := range o.Lines {
		if !l.Active() {
			continue
		}
		active++
		if lineRank[l.Status] < lineRank[status] {
			return false
		}
	}
	return active > 0
}

// LineIndex returns the position of a line by id or -1.
func (o SalesOrder) LineIndex(lineID int64) int {
	for i, l := range o.Lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

// ShipGuard returns nil when the order may ship.
func (o SalesOrder) ShipGuard() error {
	if !o.Status.CanTransitionTo(StatusShipped) {
		return transitionError(o, StatusShipped)
	}
	if !o.LinesAtLeast(LineStatusPacked) {
		return fmt.Errorf("%w: sales order %s has lines not packed", shared.ErrInvalidStateTransition, o.OrderNumber)
	}
	return nil
}

// ShipmentInput carries the carrier hand-off details.
type ShipmentInput struct {
	Carrier        string
	TrackingNumber string
	ShippedAt      time.Time
}

// PickedLine records the quantity picked for one line.
type PickedLine struct {
	LineID         int64
	QuantityPicked decimal.Decimal
}

// Filter narrows order listings.
type Filter struct {
	BusinessID int64
	Status     Status
	CustomerID int64
	Limit      int
	Offset     int
}

func transitionError(o SalesOrder, next Status) error {
	return fmt.Errorf("%w: sales order %s cannot move from %s to %s", shared.ErrInvalidStateTransition, o.OrderNumber, o.Status, next)
}
