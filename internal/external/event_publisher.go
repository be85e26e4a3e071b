package external

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"pool-api/internal/models"
)

// EventPublisher delivers domain events to the message broker. Delivery is
// best-effort: a publish failure is logged and never fails the operation
// that produced the event, since the funds movement already committed.
type EventPublisher interface {
	Publish(ctx context.Context, events ...models.Event)
	Close() error
}

type rabbitPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	timeout  time.Duration
	mu       sync.Mutex
}

type PublisherConfig struct {
	URL            string
	Exchange       string
	PublishTimeout time.Duration
}

func NewEventPublisher(config *PublisherConfig) (EventPublisher, error) {
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = 5 * time.Second
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		config.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &rabbitPublisher{
		conn:     conn,
		channel:  channel,
		exchange: config.Exchange,
		timeout:  config.PublishTimeout,
	}, nil
}

// Publish sends each event with its name as the routing key, so consumers
// bind to patterns like "transaction.*" or "pool.alert".
func (p *rabbitPublisher) Publish(ctx context.Context, events ...models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, event := range events {
		body, err := json.Marshal(event)
		if err != nil {
			logrus.WithError(err).WithField("event", event.Name).Error("Failed to encode event")
			continue
		}

		publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err = p.channel.PublishWithContext(publishCtx, p.exchange, event.Name, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID,
			Timestamp:    event.Timestamp,
			Body:         body,
		})
		cancel()
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"event":    event.Name,
				"event_id": event.EventID,
			}).Error("Failed to publish event")
		}
	}
}

func (p *rabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoopPublisher drops events, for setups without a broker.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, events ...models.Event) {}
func (NoopPublisher) Close() error                                       { return nil }
