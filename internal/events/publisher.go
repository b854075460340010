// Package events publishes session lifecycle events to RabbitMQ for downstream consumers
// (receipts, analytics). Delivery is best effort and never blocks a session from finishing.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cx-tal-miterani/parking-session-system/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher emits session events
type Publisher interface {
	PublishSessionEvent(ctx context.Context, event models.SessionEvent) error
}

// AMQPPublisher publishes to a durable queue named after the event type.
// The connection is dialled lazily and re-dialled after the broker drops it.
type AMQPPublisher struct {
	url  string
	mu   sync.Mutex
	conn *amqp.Connection
}

func NewAMQPPublisher(url string) *AMQPPublisher {
	return &AMQPPublisher{url: url}
}

func (p *AMQPPublisher) PublishSessionEvent(ctx context.Context, event models.SessionEvent) error {
	pub, err := publishing(event)
	if err != nil {
		return err
	}

	ch, err := p.channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		event.Type, // name
		true,       // durable
		false,      // autoDelete
		false,      // exclusive
		false,      // noWait
		nil,        // args
	); err != nil {
		return fmt.Errorf("rabbitmq: queue declare failed: %w", err)
	}

	if err := ch.PublishWithContext(ctx, "", event.Type, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
		}
		p.conn = conn
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}
	return ch, nil
}

// Close shuts the connection down
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

func publishing(event models.SessionEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("rabbitmq: marshal event failed: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.SessionID + ":" + string(event.Status),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// LogPublisher writes events to the process log when no broker is configured
type LogPublisher struct{}

func (LogPublisher) PublishSessionEvent(_ context.Context, event models.SessionEvent) error {
	log.Printf("Session event %s: session=%s status=%s amount=%s %s",
		event.Type, event.SessionID, event.Status, event.Amount.StringFixed(2), event.Currency)
	return nil
}
