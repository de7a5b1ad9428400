// Package events appends chat lifecycle events to a Kafka topic for
// downstream consumers (notifications, analytics). Publishing is best effort.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Type string

const (
	MessageSent               Type = "message.sent"
	MessageEdited             Type = "message.edited"
	MessageDeletedForMe       Type = "message.deleted_for_me"
	MessageDeletedForEveryone Type = "message.deleted_for_everyone"
	MessageDelivered          Type = "message.delivered"
	ChatRead                  Type = "chat.read"
	ChatCleared               Type = "chat.cleared"
	ChatCreated               Type = "chat.created"
	UserPresence              Type = "user.presence"
)

type Event struct {
	Type      Type        `json:"type"`
	ChatID    string      `json:"chatId,omitempty"`
	MessageID string      `json:"messageId,omitempty"`
	ActorID   string      `json:"actorId"`
	At        time.Time   `json:"at"`
	Data      interface{} `json:"data,omitempty"`
}

// Key partitions by chat so a chat's events stay ordered.
func (e Event) Key() string {
	if e.ChatID != "" {
		return e.ChatID
	}
	return e.ActorID
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("event delivery failed", zap.Int("count", len(msgs)), zap.Error(err))
			}
		},
	}
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.Key()),
		Value: b,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Nop drops every event; used when kafka.enabled is false.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
