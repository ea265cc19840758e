package outbox

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to a Kafka topic keyed by aggregate id.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
		RequiredAcks: kafka.RequireAll,
	}}
}

// Publish writes the batch synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	return p.writer.WriteMessages(ctx, toMessages(events)...)
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toMessages(events []Event) []kafka.Message {
	msgs := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		msgs = append(msgs, kafka.Message{
			Key:   []byte(evt.AggregateType + ":" + strconv.FormatInt(evt.AggregateID, 10)),
			Value: evt.Payload,
			Time:  evt.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(evt.EventType)},
				{Key: "event_id", Value: []byte(evt.ID.String())},
				{Key: "business_id", Value: []byte(strconv.FormatInt(evt.BusinessID, 10))},
			},
		})
	}
	return msgs
}
