package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"

	"github.com/hackgods/konsultasi-scheduling/internal/konsultasi"
)

// Publisher sends committed konsultasi transitions to a topic exchange with
// publisher confirms. It satisfies konsultasi.EventPublisher.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
	ch *amqp091.Channel
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp091.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &Publisher{conn: conn, exchange: exchange, ch: ch}, nil
}

// RoutingKey is konsultasi.<new status>, lowercased.
func RoutingKey(ev konsultasi.TransitionEvent) string {
	return "konsultasi." + strings.ToLower(string(ev.NewStatus))
}

func encode(ev konsultasi.TransitionEvent) (amqp091.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("encode event: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    ev.KonsultasiID.String() + ":" + string(ev.Action) + ":" + ev.OccurredAt.Format("20060102T150405.000000000"),
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Action),
		Body:         body,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, ev konsultasi.TransitionEvent) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, RoutingKey(ev), false, false, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", RoutingKey(ev), err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return errors.New("broker nacked event")
	}
	return nil
}

// Ping reports whether the broker connection is still open.
func (p *Publisher) Ping(context.Context) error {
	if p.conn.IsClosed() {
		return amqp091.ErrClosed
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
		return err
	}
	return p.conn.Close()
}
