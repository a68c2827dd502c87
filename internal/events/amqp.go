package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes outbox events to a durable topic exchange. The
// routing key is the event type. A broken connection is redialed on the next
// delivery.
type AMQPPublisher struct {
	url      string
	exchange string
	logger   *zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel amqpChannel
	dial    func() (amqpChannel, error)
}

func NewAMQPPublisher(cfg config.AMQPConfig, logger *zerolog.Logger) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	p := &AMQPPublisher{
		url:      cfg.URL,
		exchange: cfg.Exchange,
		logger:   logger,
	}
	p.dial = p.dialBroker

	if _, err := p.ensureChannel(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) Name() string {
	return "amqp"
}

func (p *AMQPPublisher) dialBroker() (amqpChannel, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}

	// Idempotent; durable so bindings survive broker restarts.
	if err := ch.ExchangeDeclare(
		p.exchange, // name
		"topic",    // kind
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: exchange declare failed: %w", err)
	}

	p.conn = conn
	return ch, nil
}

func (p *AMQPPublisher) ensureChannel() (amqpChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil && (p.conn == nil || !p.conn.IsClosed()) {
		return p.channel, nil
	}

	ch, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.channel = ch
	return ch, nil
}

func (p *AMQPPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Deliver(ctx context.Context, task *models.OutboxTask) error {
	ch, err := p.ensureChannel()
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%d", task.ID),
		Timestamp:    time.Now().UTC(),
		Type:         task.EventType,
		Body:         []byte(task.Payload),
	}

	if err := ch.PublishWithContext(ctx, p.exchange, task.EventType, false, false, pub); err != nil {
		p.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("rabbitmq: publish failed")
		p.reset()
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.reset()
	return nil
}
