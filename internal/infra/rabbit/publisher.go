package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"concept-master-quiz/internal/grading"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// AttemptExchange is the topic exchange attempt events are published to.
	AttemptExchange = "attempt.events"
	// SubmittedRoutingKey is the routing key of "attempt submitted" events.
	SubmittedRoutingKey = "attempt.submitted"
)

// link is an open connection plus the channel events are published on.
type link interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// Publisher sends attempt events to RabbitMQ. It implements grading.EventPublisher.
// A link closed by the broker is reopened on the next publish.
type Publisher struct {
	open func() (link, error)

	mu   sync.Mutex
	link link
}

// NewPublisher dials the broker and declares the attempt exchange.
func NewPublisher(url string) (*Publisher, error) {
	return newPublisher(func() (link, error) { return dial(url) })
}

func newPublisher(open func() (link, error)) (*Publisher, error) {
	l, err := open()
	if err != nil {
		return nil, err
	}
	return &Publisher{open: open, link: l}, nil
}

func (p *Publisher) PublishSubmitted(ctx context.Context, event grading.SubmittedEvent) error {
	msg, err := submittedMessage(event)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	l, err := p.currentLocked()
	if err != nil {
		return err
	}
	err = l.PublishWithContext(ctx, AttemptExchange, SubmittedRoutingKey, false, false, msg)
	if err != nil && l.IsClosed() {
		// the broker dropped the channel under us; one retry on a fresh link
		if l, err = p.currentLocked(); err != nil {
			return err
		}
		err = l.PublishWithContext(ctx, AttemptExchange, SubmittedRoutingKey, false, false, msg)
	}
	return err
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.link == nil {
		return nil
	}
	err := p.link.Close()
	p.link = nil
	return err
}

// currentLocked returns the live link, reopening it when the broker closed it.
func (p *Publisher) currentLocked() (link, error) {
	if p.link != nil && !p.link.IsClosed() {
		return p.link, nil
	}
	if p.link != nil {
		_ = p.link.Close()
		p.link = nil
	}
	l, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("reopen rabbitmq link: %w", err)
	}
	slog.Info("rabbitmq link reopened")
	p.link = l
	return l, nil
}

type amqpLink struct {
	conn *amqp.Connection
	*amqp.Channel
}

// IsClosed reports whether either the channel or its connection is gone.
func (l *amqpLink) IsClosed() bool {
	return l.Channel.IsClosed() || l.conn.IsClosed()
}

func (l *amqpLink) Close() error {
	_ = l.Channel.Close()
	return l.conn.Close()
}

func dial(url string) (link, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		AttemptExchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &amqpLink{conn: conn, Channel: ch}, nil
}

func submittedMessage(event grading.SubmittedEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.AttemptID,
		Timestamp:    event.SubmittedAt,
		Type:         SubmittedRoutingKey,
		Body:         body,
	}, nil
}
