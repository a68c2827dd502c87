package domain

import (
	"context"
	"time"

	"arbiter/internal/models"
)

// OutboxFactory builds the outbox row for a booking change. It runs inside the
// transaction that performs the change, after the booking row is written.
type OutboxFactory func(booking *models.Booking) (*models.OutboxTask, error)

type BookingRepository interface {
	CheckAvailability(ctx context.Context, roomID int64, start, end time.Time) (bool, error)
	CreateBookingWithLock(ctx context.Context, booking *models.Booking, outbox OutboxFactory) error
	TransitionBookingStatus(
		ctx context.Context,
		id int64,
		from, to models.BookingStatus,
		outbox OutboxFactory,
	) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
}

type RoomRepository interface {
	UpsertRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	ListRooms(ctx context.Context) ([]*models.Room, error)
}

type OutboxRepository interface {
	GetPendingOutboxTasks(ctx context.Context, limit int) ([]models.OutboxTask, error)
	UpdateOutboxTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// RoomLocker serializes writers of a single room. Different rooms never share
// a lock.
type RoomLocker interface {
	Lock(ctx context.Context, roomID int64) (unlock func(), err error)
}

// EventPublisher fans delivered outbox events out in-process.
type EventPublisher interface {
	PublishTask(task *models.OutboxTask) error
}

// EventSink delivers outbox tasks to an external system.
type EventSink interface {
	Name() string
	Deliver(ctx context.Context, task *models.OutboxTask) error
}

type BookingService interface {
	CreateBooking(
		ctx context.Context,
		actor models.Actor,
		roomID int64,
		title string,
		start, end time.Time,
	) (*models.Booking, error)
	Approve(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error)
	Reject(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	CheckAvailability(ctx context.Context, roomID int64, start, end time.Time) (bool, error)
}

type RoomService interface {
	ListRooms(ctx context.Context) ([]*models.Room, error)
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	SyncRooms(ctx context.Context, rooms []models.Room) error
}
