package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	pending   []Event
	published []Event
	failures  int
}

func (s *memoryStore) ClaimBatch(ctx context.Context, limit int, fn func(context.Context, []Event) error) (int, error) {
	n := limit
	if n > len(s.pending) {
		n = len(s.pending)
	}
	if n == 0 {
		return 0, nil
	}
	batch := append([]Event(nil), s.pending[:n]...)
	if err := fn(ctx, batch); err != nil {
		s.failures++
		return 0, err
	}
	s.pending = s.pending[n:]
	s.published = append(s.published, batch...)
	return n, nil
}

type recordingPublisher struct {
	batches [][]Event
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, events []Event) error {
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, events)
	return nil
}

func mustEvent(t *testing.T, aggregateID int64) Event {
	t.Helper()
	evt, err := NewEvent(DomainEvent{
		BusinessID:    7,
		EventType:     EventReceiptCompleted,
		AggregateType: AggregateReceipt,
		AggregateID:   aggregateID,
		Actor:         &ActorRef{ID: 3, Name: "warehouse"},
		Data:          map[string]any{"receiptId": aggregateID},
	})
	require.NoError(t, err)
	return evt
}

func TestNewEventWrapsEnvelope(t *testing.T) {
	evt := mustEvent(t, 42)
	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(evt.Payload, &env))
	require.Equal(t, envelopeVersion, env.Version)
	require.Equal(t, evt.ID.String(), env.EventID)
	require.Equal(t, int64(7), env.BusinessID)
	require.Equal(t, int64(3), env.Actor.ID)
	require.JSONEq(t, `{"receiptId":42}`, string(env.Data))
}

func TestNewEventRequiresScope(t *testing.T) {
	_, err := NewEvent(DomainEvent{EventType: EventStockAdjusted, AggregateType: AggregateProduct})
	require.Error(t, err)
}

func TestRelayDrainsInBatches(t *testing.T) {
	store := &memoryStore{}
	for i := int64(1); i <= 5; i++ {
		store.pending = append(store.pending, mustEvent(t, i))
	}
	pub := &recordingPublisher{}
	relay := NewRelay(store, pub, nil, 2)

	n, err := relay.Drain(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Len(t, pub.batches, 3)
	require.Empty(t, store.pending)
}

func TestRelayKeepsEventsOnPublishFailure(t *testing.T) {
	store := &memoryStore{pending: []Event{mustEvent(t, 1)}}
	relay := NewRelay(store, &recordingPublisher{err: errors.New("broker down")}, nil, 10)

	n, err := relay.Drain(context.Background(), 1)
	require.Error(t, err)
	require.Zero(t, n)
	require.Len(t, store.pending, 1)
	require.Equal(t, 1, store.failures)
}

func TestKafkaMessagesKeyedByAggregate(t *testing.T) {
	msgs := toMessages([]Event{mustEvent(t, 9)})
	require.Len(t, msgs, 1)
	require.Equal(t, "receipt:9", string(msgs[0].Key))
	require.Equal(t, EventReceiptCompleted, string(msgs[0].Headers[0].Value))
}

type sliceWriter struct{ events []Event }

func (w *sliceWriter) Append(ctx context.Context, event Event) error {
	w.events = append(w.events, event)
	return nil
}

func TestEmitAppends(t *testing.T) {
	w := &sliceWriter{}
	require.NoError(t, Emit(context.Background(), w, DomainEvent{BusinessID: 1, EventType: EventStockAdjusted, AggregateType: AggregateProduct, AggregateID: 5}))
	require.Len(t, w.events, 1)
	require.Error(t, Emit(context.Background(), nil, DomainEvent{}))
}
