/**
 * @description
 * This package provides a producer for publishing transaction events to RabbitMQ.
 * Events go to a durable topic exchange, routed by outcome.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - internal/domain: For the event payload.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/transfa/transfer-service/internal/domain"
)

const (
	RoutingKeyTransactionCompleted = "transactions-completed"
	RoutingKeyTransactionFailed    = "transactions-failed"
	DefaultExchange                = "transfa.events"
)

// Publisher is the interface implemented by types that can publish transaction events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body interface{}) error
	PublishTransactionCompleted(ctx context.Context, event domain.TransactionEvent) error
	PublishTransactionFailed(ctx context.Context, event domain.TransactionEvent) error
	Close()
}

// amqpChannel is the subset of *amqp091.Channel the producer uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  amqpChannel
	declared bool
	exchange string
	reopen   func() (amqpChannel, error)
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" routing_key=%s", routingKey)
	return nil
}

func (p *EventProducerFallback) PublishTransactionCompleted(ctx context.Context, event domain.TransactionEvent) error {
	return p.Publish(ctx, RoutingKeyTransactionCompleted, event)
}

func (p *EventProducerFallback) PublishTransactionFailed(ctx context.Context, event domain.TransactionEvent) error {
	return p.Publish(ctx, RoutingKeyTransactionFailed, event)
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// Drop stray characters before the scheme.
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials RabbitMQ and opens a publishing channel.
func NewEventProducer(amqpURL, exchange string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	producer := newEventProducer(ch, exchange, func() (amqpChannel, error) {
		return conn.Channel()
	})
	producer.conn = conn
	return producer, nil
}

func newEventProducer(ch amqpChannel, exchange string, reopen func() (amqpChannel, error)) *EventProducer {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &EventProducer{channel: ch, exchange: exchange, reopen: reopen}
}

// Publish sends body as JSON to the producer's exchange with routingKey. A failed
// publish reopens the channel and retries once.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=rabbitmq_producer msg=\"json marshal failed\" exchange=%s routing_key=%s err=%v", p.exchange, routingKey, err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, routingKey, jsonBody)
	if err == nil {
		return nil
	}

	log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; reopening channel\" exchange=%s routing_key=%s err=%v", p.exchange, routingKey, err)
	if p.reopen == nil {
		return err
	}
	ch, chErr := p.reopen()
	if chErr != nil {
		return chErr
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.channel = ch
	p.declared = false
	return p.publishLocked(ctx, routingKey, jsonBody)
}

func (p *EventProducer) publishLocked(ctx context.Context, routingKey string, body []byte) error {
	if !p.declared {
		if err := p.channel.ExchangeDeclare(
			p.exchange, // name
			"topic",    // type
			true,       // durable
			false,      // autoDelete
			false,      // internal
			false,      // noWait
			nil,        // args
		); err != nil {
			return err
		}
		p.declared = true
	}

	return p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// PublishTransactionCompleted publishes to the transactions-completed routing key.
func (p *EventProducer) PublishTransactionCompleted(ctx context.Context, event domain.TransactionEvent) error {
	return p.Publish(ctx, RoutingKeyTransactionCompleted, event)
}

// PublishTransactionFailed publishes to the transactions-failed routing key.
func (p *EventProducer) PublishTransactionFailed(ctx context.Context, event domain.TransactionEvent) error {
	return p.Publish(ctx, RoutingKeyTransactionFailed, event)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
