// internal/app/system/events/publisher.go

// Package events publishes domain events to a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends one event under a routing key such as
// "membership.request_approved".
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// ErrUnavailable is returned while the broker is down and a redial is
// not yet due.
var ErrUnavailable = errors.New("events: broker unavailable")

// redialBackoff spaces reconnect attempts after a failed dial.
const redialBackoff = 5 * time.Second

// AMQPPublisher publishes JSON events to a durable topic exchange.
// amqp channels are not safe for concurrent publishing, so Publish
// serializes on mu. A closed channel is redialed on the next Publish.
type AMQPPublisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	log        *zap.Logger
	dial       func() (*amqp.Connection, *amqp.Channel, error)
	retryAfter time.Time
	now        func() time.Time
}

// DialAMQP connects and declares the exchange.
func DialAMQP(uri, exchange string, log *zap.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		exchange: exchange,
		log:      log,
		dial:     func() (*amqp.Connection, *amqp.Channel, error) { return dialExchange(uri, exchange) },
		now:      time.Now,
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	log.Info("event publisher connected", zap.String("exchange", exchange))
	return p, nil
}

func dialExchange(uri, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return conn, ch, nil
}

// connect dials a fresh connection. Callers hold mu.
func (p *AMQPPublisher) connect() error {
	conn, ch, err := p.dial()
	if err != nil {
		p.retryAfter = p.now().Add(redialBackoff)
		return err
	}
	p.conn, p.ch = conn, ch
	p.retryAfter = time.Time{}
	return nil
}

// ensureChannel redials when the channel has closed. Callers hold mu.
func (p *AMQPPublisher) ensureChannel() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	if p.now().Before(p.retryAfter) {
		return ErrUnavailable
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	if err := p.connect(); err != nil {
		p.log.Warn("event publisher reconnect failed", zap.Error(err))
		return err
	}
	p.log.Info("event publisher reconnected", zap.String("exchange", p.exchange))
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureChannel(); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	err = p.ch.PublishWithContext(pubCtx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	defer func() { p.conn, p.ch = nil, nil }()
	if p.ch != nil && !p.ch.IsClosed() {
		if err := p.ch.Close(); err != nil {
			p.conn.Close()
			return err
		}
	}
	if p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

// Nop discards every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close() error                               { return nil }

// Message is one event captured by a Recorder.
type Message struct {
	RoutingKey string
	Body       []byte
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Publish(_ context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{RoutingKey: routingKey, Body: body})
	return nil
}

func (r *Recorder) Close() error { return nil }

// Messages returns a copy of everything published so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
