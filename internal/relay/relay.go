// Package relay forwards notifications between API instances over a
// RabbitMQ fanout exchange, so a participant connected to instance A still
// hears about a transition performed on instance B.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/ride-dispatch/internal/observability"
)

const DefaultExchange = "ride.notifications"

// Message targets one participant. Envelope is the already-encoded
// {"event","data"} frame.
type Message struct {
	Origin    string          `json:"origin"`
	Namespace string          `json:"namespace"`
	ID        string          `json:"id"`
	Envelope  json.RawMessage `json:"envelope"`
}

// Deliver is called for every message published by another instance.
type Deliver func(namespace, id string, envelope []byte)

type RabbitRelay struct {
	url      string
	exchange string
	instance string
	logger   *slog.Logger

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects with retries and declares the fanout exchange.
func Dial(ctx context.Context, url, instance string, logger *slog.Logger) (*RabbitRelay, error) {
	r := &RabbitRelay{url: url, exchange: DefaultExchange, instance: instance, logger: logger}
	delay := time.Second
	const attempts = 5
	for i := 1; i <= attempts; i++ {
		err := r.connect()
		if err == nil {
			logger.Info("relay connected", "exchange", r.exchange, "instance", instance, "attempt", i)
			return r, nil
		}
		logger.Warn("relay connect failed", "attempt", i, "error", err)
		if i == attempts {
			return nil, fmt.Errorf("relay: connect after %d attempts: %w", attempts, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, fmt.Errorf("relay: unreachable")
}

func (r *RabbitRelay) connect() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("channel: %w", err)
	}
	if err := ch.ExchangeDeclare(r.exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	r.mu.Lock()
	r.conn, r.ch = conn, ch
	r.mu.Unlock()
	return nil
}

func (r *RabbitRelay) Instance() string { return r.instance }

func (r *RabbitRelay) Publish(ctx context.Context, namespace, id string, envelope []byte) error {
	body, err := json.Marshal(Message{Origin: r.instance, Namespace: namespace, ID: id, Envelope: envelope})
	if err != nil {
		return err
	}
	r.mu.RLock()
	ch := r.ch
	r.mu.RUnlock()
	if ch == nil {
		return fmt.Errorf("relay: channel not available")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err = ch.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err == nil {
		observability.RelayMessages.WithLabelValues("out").Inc()
	}
	return err
}

// Consume binds an exclusive auto-delete queue to the exchange and calls
// deliver until ctx is done or the channel closes.
func (r *RabbitRelay) Consume(ctx context.Context, deliver Deliver) error {
	r.mu.RLock()
	ch := r.ch
	r.mu.RUnlock()
	if ch == nil {
		return fmt.Errorf("relay: channel not available")
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("relay: delivery channel closed")
			}
			r.handle(d.Body, deliver)
		}
	}
}

func (r *RabbitRelay) handle(body []byte, deliver Deliver) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		r.logger.Warn("relay message dropped", "error", err)
		return
	}
	if m.Origin == r.instance {
		return
	}
	observability.RelayMessages.WithLabelValues("in").Inc()
	deliver(m.Namespace, m.ID, m.Envelope)
}

func (r *RabbitRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
