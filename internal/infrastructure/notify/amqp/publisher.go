// Package amqp publishes notification events to a RabbitMQ topic exchange.
// Each event is one persistent JSON message routed by "notification.<type>".
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/domain/event"
)

const publishTimeout = 5 * time.Second

// channel is the part of *amqp091.Channel the publisher needs
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// Publisher sends notification events to an exchange
type Publisher struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	pub      channel
	exchange string
	logger   *zap.Logger

	mu sync.Mutex
}

// Dial connects to url and declares a durable topic exchange
func Dial(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p := newPublisher(ch, exchange, logger)
	p.conn = conn
	p.ch = ch
	return p, nil
}

func newPublisher(pub channel, exchange string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{pub: pub, exchange: exchange, logger: logger}
}

// RoutingKey is the key an event is published under
func RoutingKey(t event.Type) string {
	return "notification." + string(t)
}

// Publish sends one event. It matches dispatcher.Handler.
func (p *Publisher) Publish(ctx context.Context, evt *event.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	err = p.pub.PublishWithContext(
		ctx,
		p.exchange,
		RoutingKey(evt.Type),
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     evt.ID,
			CorrelationId: evt.CorrelationID,
			Type:          string(evt.Type),
			Timestamp:     evt.Timestamp,
			Body:          body,
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}

	p.logger.Debug("Published notification",
		zap.String("event_id", evt.ID),
		zap.String("type", string(evt.Type)),
		zap.String("recipient_id", evt.RecipientID),
		zap.String("exchange", p.exchange))
	return nil
}

// Close closes the channel and the connection
func (p *Publisher) Close() error {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
