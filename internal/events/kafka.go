package events

import (
	"context"
	"errors"
	"strconv"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/models"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes outbox events to a topic keyed by booking id, so all
// events of one booking land in the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(cfg config.KafkaConfig, logger *zerolog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // Hash by key for ordering
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
		Logger:       kafka.LoggerFunc(func(string, ...interface{}) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error().Msgf(msg, args...)
		}),
	}

	return &KafkaPublisher{writer: writer, topic: cfg.Topic}, nil
}

func (p *KafkaPublisher) Name() string {
	return "kafka"
}

func (p *KafkaPublisher) Deliver(ctx context.Context, task *models.OutboxTask) error {
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(task.BookingID, 10)),
		Value: []byte(task.Payload),
		Time:  task.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(task.EventType)},
			{Key: "outbox-id", Value: []byte(strconv.FormatInt(task.ID, 10))},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
