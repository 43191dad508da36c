/**
 * @description
 * Publishes posting events to RabbitMQ. The producer keeps one connection and
 * one confirm-mode channel; a publish returns only after the broker acks it.
 * A failed publish gets one retry on a freshly opened channel.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

const dialTimeout = 10 * time.Second

// ErrNacked is returned when the broker refuses a message.
var ErrNacked = errors.New("rabbitmq: message not acknowledged by broker")

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducer publishes JSON events to durable topic exchanges.
type EventProducer struct {
	mu        sync.Mutex
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	exchanges map[string]struct{}
}

// NoopPublisher stands in when RabbitMQ is not configured or unreachable at
// startup. Events are dropped with a warning.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq mode=noop msg=\"event dropped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (NoopPublisher) Close() {}

// normalizeURL strips quotes and anything before the scheme, which env files
// and secret managers tend to leave behind.
func normalizeURL(raw string) (string, error) {
	s := strings.Trim(strings.TrimSpace(raw), "\"'")
	if i := strings.Index(strings.ToLower(s), "amqp"); i > 0 {
		s = s[i:]
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse amqp url: %w", err)
	}
	switch u.Scheme {
	case "amqp", "amqps":
		return s, nil
	default:
		return "", fmt.Errorf("amqp url must start with amqp:// or amqps://, got scheme %q", u.Scheme)
	}
}

// NewEventProducer dials RabbitMQ and opens a confirm-mode channel.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	addr, err := normalizeURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(addr, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	p := &EventProducer{conn: conn}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// openChannel replaces the current channel. Callers hold mu or own p
// exclusively.
func (p *EventProducer) openChannel() error {
	if p.conn == nil || p.conn.IsClosed() {
		return amqp091.ErrClosed
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}
	if p.channel != nil {
		p.channel.Close()
	}
	p.channel = ch
	p.exchanges = make(map[string]struct{})
	return nil
}

// Publish sends body as a persistent JSON message and waits for the broker's
// confirmation.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", routingKey, err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         routingKey,
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	firstErr := p.send(ctx, exchange, routingKey, msg)
	if firstErr == nil || ctx.Err() != nil {
		return firstErr
	}
	log.Printf("level=warn component=rabbitmq msg=\"publish failed, retrying on new channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, firstErr)
	if err := p.openChannel(); err != nil {
		return errors.Join(firstErr, err)
	}
	return p.send(ctx, exchange, routingKey, msg)
}

func (p *EventProducer) send(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	if p.channel == nil || p.channel.IsClosed() {
		return amqp091.ErrClosed
	}
	if _, ok := p.exchanges[exchange]; !ok {
		// durable topic exchange, not auto-deleted, not internal
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		p.exchanges[exchange] = struct{}{}
	}

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return err
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNacked
	}
	return nil
}

// Close closes the channel and the connection.
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
