package events

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sampleTask(t *testing.T, status models.BookingStatus) *models.OutboxTask {
	t.Helper()
	start := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)
	task, err := OutboxFactory(models.Actor{UserID: 3})(&models.Booking{
		ID: 11, UserID: 3, RoomID: 4, Title: "Design_review",
		StartTime: start, EndTime: start.Add(time.Hour), Status: status, Version: 1,
	})
	require.NoError(t, err)
	task.ID = 99
	return task
}

type fakeSink struct {
	name  string
	err   error
	calls int
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(context.Context, *models.OutboxTask) error {
	f.calls++
	return f.err
}

func TestMultiSink(t *testing.T) {
	ok := &fakeSink{name: "ok"}
	bad := &fakeSink{name: "bad", err: errors.New("down")}

	sink := NewMultiSink(ok, nil, bad)
	assert.Equal(t, 2, sink.Len())
	assert.Equal(t, "ok,bad", sink.Name())

	err := sink.Deliver(context.Background(), &models.OutboxTask{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, bad.calls)

	empty := NewMultiSink()
	assert.Equal(t, "none", empty.Name())
	assert.NoError(t, empty.Deliver(context.Background(), &models.OutboxTask{}))
	assert.NoError(t, empty.Close())
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	logger := zerolog.New(io.Discard)

	t.Run("Validation", func(t *testing.T) {
		_, err := NewKafkaPublisher(config.KafkaConfig{}, &logger)
		assert.Error(t, err)
		_, err = NewKafkaPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}}, &logger)
		assert.Error(t, err)

		p, err := NewKafkaPublisher(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "bookings"}, &logger)
		require.NoError(t, err)
		assert.Equal(t, "kafka", p.Name())
		assert.NoError(t, p.Close())
	})

	t.Run("Deliver", func(t *testing.T) {
		w := &fakeWriter{}
		p := &KafkaPublisher{writer: w, topic: "bookings"}

		task := sampleTask(t, models.StatusPending)
		require.NoError(t, p.Deliver(context.Background(), task))
		require.Len(t, w.msgs, 1)
		assert.Equal(t, "11", string(w.msgs[0].Key))
		assert.Equal(t, task.Payload, string(w.msgs[0].Value))
		assert.Equal(t, "event-type", w.msgs[0].Headers[0].Key)
		assert.Equal(t, EventBookingCreated, string(w.msgs[0].Headers[0].Value))
	})

	t.Run("DeliverError", func(t *testing.T) {
		p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("no leader")}}
		assert.Error(t, p.Deliver(context.Background(), sampleTask(t, models.StatusPending)))
	})
}

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	logger := zerolog.New(io.Discard)

	t.Run("MissingURL", func(t *testing.T) {
		_, err := NewAMQPPublisher(config.AMQPConfig{}, &logger)
		assert.Error(t, err)
	})

	t.Run("Deliver", func(t *testing.T) {
		ch := &fakeChannel{}
		p := &AMQPPublisher{exchange: "arbiter.bookings", logger: &logger}
		p.dial = func() (amqpChannel, error) { return ch, nil }

		task := sampleTask(t, models.StatusConfirmed)
		require.NoError(t, p.Deliver(context.Background(), task))
		assert.Equal(t, "arbiter.bookings", ch.exchange)
		assert.Equal(t, EventBookingConfirmed, ch.key)
		assert.Equal(t, "application/json", ch.msg.ContentType)
		assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
		assert.Equal(t, "99", ch.msg.MessageId)
	})

	t.Run("RedialAfterFailure", func(t *testing.T) {
		broken := &fakeChannel{err: errors.New("channel closed")}
		healthy := &fakeChannel{}
		dials := 0
		p := &AMQPPublisher{exchange: "x", logger: &logger}
		p.dial = func() (amqpChannel, error) {
			dials++
			if dials == 1 {
				return broken, nil
			}
			return healthy, nil
		}

		task := sampleTask(t, models.StatusPending)
		assert.Error(t, p.Deliver(context.Background(), task))
		assert.True(t, broken.closed)

		require.NoError(t, p.Deliver(context.Background(), task))
		assert.Equal(t, 2, dials)
	})

	t.Run("DialError", func(t *testing.T) {
		p := &AMQPPublisher{exchange: "x", logger: &logger}
		p.dial = func() (amqpChannel, error) { return nil, errors.New("refused") }
		assert.Error(t, p.Deliver(context.Background(), sampleTask(t, models.StatusPending)))
	})
}

type mockTelegramSender struct {
	mock.Mock
}

func (m *mockTelegramSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func TestTelegramNotifier(t *testing.T) {
	t.Run("Validation", func(t *testing.T) {
		_, err := NewTelegramNotifier(config.TelegramConfig{})
		assert.Error(t, err)
		_, err = NewTelegramNotifier(config.TelegramConfig{BotToken: "x"})
		assert.Error(t, err)
	})

	t.Run("PendingBookingToEveryAdmin", func(t *testing.T) {
		sender := new(mockTelegramSender)
		n := &TelegramNotifier{sender: sender, chatIDs: []int64{100, 200}}

		for _, chatID := range []int64{100, 200} {
			chatID := chatID
			sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
				msg, ok := c.(tgbotapi.MessageConfig)
				return ok && msg.ChatID == chatID && msg.ParseMode == tgbotapi.ModeMarkdown &&
					strings.Contains(msg.Text, "#11")
			})).Return(tgbotapi.Message{}, nil).Once()
		}

		require.NoError(t, n.Deliver(context.Background(), sampleTask(t, models.StatusPending)))
		sender.AssertExpectations(t)
	})

	t.Run("OtherEventsIgnored", func(t *testing.T) {
		sender := new(mockTelegramSender)
		n := &TelegramNotifier{sender: sender, chatIDs: []int64{100}}

		require.NoError(t, n.Deliver(context.Background(), sampleTask(t, models.StatusConfirmed)))
		sender.AssertNotCalled(t, "Send", mock.Anything)
	})

	t.Run("SendError", func(t *testing.T) {
		sender := new(mockTelegramSender)
		n := &TelegramNotifier{sender: sender, chatIDs: []int64{100}}
		sender.On("Send", mock.Anything).Return(tgbotapi.Message{}, errors.New("blocked")).Once()

		err := n.Deliver(context.Background(), sampleTask(t, models.StatusPending))
		assert.ErrorContains(t, err, "chat 100")
	})
}

func TestFormatPendingBooking(t *testing.T) {
	task := sampleTask(t, models.StatusPending)
	payload, err := DecodePayload(task)
	require.NoError(t, err)

	text := formatPendingBooking(payload)
	assert.Contains(t, text, "07.01.2030 10:00")
	assert.Contains(t, text, `Design\_review`)
}
