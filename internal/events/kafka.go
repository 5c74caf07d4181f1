package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards every outbox entry to a topic, keyed by aggregate id
// so events of one booking stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("events: at least one kafka broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("events: kafka topic cannot be empty")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	return &KafkaPublisher{writer: writer}, nil
}

func newKafkaPublisherWithWriter(w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

type kafkaEnvelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Handle(ctx context.Context, entry Entry) error {
	value, err := json.Marshal(kafkaEnvelope{
		ID:          entry.ID.String(),
		Type:        entry.Type,
		AggregateID: entry.AggregateID.String(),
		OccurredAt:  entry.CreatedAt,
		Payload:     entry.Payload,
	})
	if err != nil {
		return fmt.Errorf("events: marshal kafka envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(entry.AggregateID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(entry.Type)},
		},
		Time: entry.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", entry.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
