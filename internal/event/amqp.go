package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// amqpChannel is the subset of *amqp.Channel the forwarder uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPForwarder relays bus events to a topic exchange, using the event type
// as routing key. Broker failures are logged and never reach the publisher.
type AMQPForwarder struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

func DialAMQPForwarder(url string, exchange string) (*AMQPForwarder, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}

	return &AMQPForwarder{conn: conn, channel: ch, exchange: exchange}, nil
}

func newForwarder(ch amqpChannel, exchange string) *AMQPForwarder {
	return &AMQPForwarder{channel: ch, exchange: exchange}
}

func (f *AMQPForwarder) Forward(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := f.channel.PublishWithContext(ctx, f.exchange, string(e.Type), false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Run forwards events from the bus until ctx is cancelled.
func (f *AMQPForwarder) Run(ctx context.Context, bus Bus) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := f.Forward(ctx, e); err != nil {
				slog.Warn("event forward failed", "type", e.Type, "error", err)
			}
		}
	}
}

func (f *AMQPForwarder) Close() error {
	if f.channel != nil {
		_ = f.channel.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
