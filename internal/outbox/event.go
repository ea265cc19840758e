// Package outbox stores domain events in the same transaction as the state
// change that produced them and relays them to the message bus afterwards.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the fulfillment core.
const (
	EventPurchaseOrderConfirmed = "purchase_order.confirmed"
	EventPurchaseOrderCancelled = "purchase_order.cancelled"
	EventReceiptCompleted       = "receipt.completed"
	EventSalesOrderConfirmed    = "sales_order.confirmed"
	EventSalesOrderShipped      = "sales_order.shipped"
	EventStockAdjusted          = "stock.adjusted"
)

// Aggregate types.
const (
	AggregatePurchaseOrder = "purchase_order"
	AggregateReceipt       = "receipt"
	AggregateSalesOrder    = "sales_order"
	AggregateProduct       = "product"
)

const envelopeVersion = 1

// Event is a row of outbox_events.
type Event struct {
	ID            uuid.UUID
	BusinessID    int64
	AggregateType string
	AggregateID   int64
	EventType     string
	Payload       json.RawMessage
	OccurredAt    time.Time
	PublishedAt   *time.Time
	Attempts      int
}

// ActorRef identifies who produced the event.
type ActorRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	BusinessID int64           `json:"businessId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DomainEvent is what services hand to NewEvent.
type DomainEvent struct {
	BusinessID    int64
	EventType     string
	AggregateType string
	AggregateID   int64
	Actor         *ActorRef
	Data          any
	OccurredAt    time.Time
}

// Writer appends events inside the caller's transaction.
type Writer interface {
	Append(ctx context.Context, event Event) error
}

// NewEvent wraps the domain payload into the envelope and assigns an id.
func NewEvent(evt DomainEvent) (Event, error) {
	if evt.BusinessID == 0 || evt.EventType == "" || evt.AggregateType == "" {
		return Event{}, errors.New("outbox: business, event type and aggregate type required")
	}
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return Event{}, err
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	id := uuid.New()
	payload, err := json.Marshal(PayloadEnvelope{
		Version:    envelopeVersion,
		EventID:    id.String(),
		BusinessID: evt.BusinessID,
		OccurredAt: evt.OccurredAt,
		Actor:      evt.Actor,
		Data:       data,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:            id,
		BusinessID:    evt.BusinessID,
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       payload,
		OccurredAt:    evt.OccurredAt,
	}, nil
}

// Emit builds the event and appends it through w.
func Emit(ctx context.Context, w Writer, evt DomainEvent) error {
	if w == nil {
		return errors.New("outbox: writer required")
	}
	event, err := NewEvent(evt)
	if err != nil {
		return err
	}
	return w.Append(ctx, event)
}
