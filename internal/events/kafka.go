// Package events publishes committed energy events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"energytiles/internal/db"
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each event as JSON, keyed by username so one user's
// events stay ordered within a partition.
type KafkaPublisher struct {
	w       MessageWriter
	timeout time.Duration
}

// NewWriter builds the writer for topic on brokers. Events are written one
// at a time from the accrual path, so a batch of one flushes each write
// without waiting out BatchTimeout.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaPublisher wraps w. Each publish is bounded by a five second
// timeout.
func NewKafkaPublisher(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w, timeout: 5 * time.Second}
}

// Publish sends one event.
func (p *KafkaPublisher) Publish(ctx context.Context, ev db.EnergyEvent) error {
	msg, err := Message(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Message encodes an event for the bus.
func Message(ev db.EnergyEvent) (kafka.Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode energy event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(ev.Username),
		Value: body,
		Time:  ev.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID)},
			{Key: "source", Value: []byte(ev.Source)},
		},
	}, nil
}
