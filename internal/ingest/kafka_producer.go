// Package ingest publishes trip events to Kafka.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/superapp-dispatch/internal/models"
)

const DefaultTopic = "trip-events"

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaProducerWithWriter(w)
}

func NewKafkaProducerWithWriter(w MessageWriter) *KafkaProducer {
	return &KafkaProducer{writer: w, timeout: 2 * time.Second}
}

// PublishTripEvent writes e keyed by trip id so every event of a trip lands on
// the same partition in order.
func (k *KafkaProducer) PublishTripEvent(ctx context.Context, e models.TripEvent) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode trip event: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.TripID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
