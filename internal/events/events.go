package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"arbiter/internal/domain"
	"arbiter/internal/models"
)

const (
	EventBookingCreated   = "booking_created"
	EventBookingConfirmed = "booking_confirmed"
	EventBookingRejected  = "booking_rejected"
)

// EventForStatus maps a booking status to the event announcing it.
func EventForStatus(status models.BookingStatus) string {
	switch status {
	case models.StatusConfirmed:
		return EventBookingConfirmed
	case models.StatusRejected:
		return EventBookingRejected
	default:
		return EventBookingCreated
	}
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID   int64     `json:"booking_id"`
	UserID      int64     `json:"user_id"`
	RoomID      int64     `json:"room_id"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Version     int64     `json:"version"`
	ChangedByID int64     `json:"changed_by_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func NewBookingEventPayload(booking *models.Booking, actor models.Actor) BookingEventPayload {
	return BookingEventPayload{
		BookingID:   booking.ID,
		UserID:      booking.UserID,
		RoomID:      booking.RoomID,
		Title:       booking.Title,
		Status:      booking.Status.String(),
		StartTime:   booking.StartTime,
		EndTime:     booking.EndTime,
		Version:     booking.Version,
		ChangedByID: actor.UserID,
		OccurredAt:  booking.UpdatedAt,
	}
}

// OutboxFactory returns the factory that turns a stored booking into its
// outbox row. The event type follows the booking's status.
func OutboxFactory(actor models.Actor) domain.OutboxFactory {
	return func(booking *models.Booking) (*models.OutboxTask, error) {
		raw, err := json.Marshal(NewBookingEventPayload(booking, actor))
		if err != nil {
			return nil, fmt.Errorf("encode event payload: %w", err)
		}
		return &models.OutboxTask{
			EventType: EventForStatus(booking.Status),
			BookingID: booking.ID,
			Payload:   string(raw),
			Status:    models.OutboxPending,
		}, nil
	}
}

// DecodePayload parses an outbox task payload.
func DecodePayload(task *models.OutboxTask) (BookingEventPayload, error) {
	var payload BookingEventPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return payload, fmt.Errorf("decode event payload: %w", err)
	}
	return payload, nil
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type and returns the first
// handler error. All handlers run regardless.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var first error
	for _, handler := range handlers {
		if err := handler(event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PublishTask republishes a delivered outbox task on the bus.
func (b *EventBus) PublishTask(task *models.OutboxTask) error {
	if b == nil {
		return nil
	}
	return b.Publish(&Event{
		ID:        task.ID,
		Type:      task.EventType,
		Payload:   []byte(task.Payload),
		CreatedAt: task.CreatedAt,
	})
}
