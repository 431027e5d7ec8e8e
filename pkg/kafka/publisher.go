// Package kafka publishes transaction events to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/transfa/transfer-service/internal/domain"
)

const (
	TopicTransactionCompleted = "transactions-completed"
	TopicTransactionFailed    = "transactions-failed"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer messageWriter
}

// NewPublisher builds a publisher for a comma-separated broker list.
func NewPublisher(brokers string) *Publisher {
	addrs := make([]string, 0)
	for _, broker := range strings.Split(brokers, ",") {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}

	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(addrs...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		},
	}
}

// Publish writes event to topic keyed by transaction id, so events of one
// transfer stay on one partition.
func (p *Publisher) Publish(ctx context.Context, topic string, event domain.TransactionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(event.TransactionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
}

func (p *Publisher) PublishTransactionCompleted(ctx context.Context, event domain.TransactionEvent) error {
	return p.Publish(ctx, TopicTransactionCompleted, event)
}

func (p *Publisher) PublishTransactionFailed(ctx context.Context, event domain.TransactionEvent) error {
	return p.Publish(ctx, TopicTransactionFailed, event)
}

func (p *Publisher) Close() {
	_ = p.writer.Close()
}
