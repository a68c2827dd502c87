package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"arbiter/internal/config"
	"arbiter/internal/domain"
	"arbiter/internal/events"
	"arbiter/internal/metrics"
	"arbiter/internal/models"

	"github.com/rs/zerolog"
)

type BookingService struct {
	repo        domain.BookingRepository
	rooms       domain.RoomRepository
	locker      domain.RoomLocker
	unitTimeout time.Duration
	logger      *zerolog.Logger
}

func NewBookingService(
	repo domain.BookingRepository,
	rooms domain.RoomRepository,
	locker domain.RoomLocker,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	unitTimeout := cfg.UnitTimeout
	if unitTimeout <= 0 {
		unitTimeout = models.DefaultUnitTimeout
	}
	return &BookingService{
		repo:        repo,
		rooms:       rooms,
		locker:      locker,
		unitTimeout: unitTimeout,
		logger:      logger,
	}
}

// CreateBooking reserves [start, end) in the room for the actor. The
// availability check and the insert run under the room lock and inside one
// transaction; a competing booking for an overlapping range gets ErrConflict.
func (s *BookingService) CreateBooking(
	ctx context.Context,
	actor models.Actor,
	roomID int64,
	title string,
	start, end time.Time,
) (*models.Booking, error) {
	if actor.IsAnonymous() {
		return nil, domain.ErrUnauthenticated
	}
	if roomID <= 0 {
		return nil, fmt.Errorf("%w: room_id must be positive", domain.ErrValidation)
	}
	if utf8.RuneCountInString(title) > models.DefaultTitleMaxLength {
		return nil, fmt.Errorf("%w: title is longer than %d characters", domain.ErrValidation, models.DefaultTitleMaxLength)
	}
	if !(models.Interval{Start: start, End: end}).Valid() {
		return nil, domain.ErrInvalidRange
	}

	ctx, cancel := context.WithTimeout(ctx, s.unitTimeout)
	defer cancel()

	waitStart := time.Now()
	unlock, err := s.locker.Lock(ctx, roomID)
	metrics.ObserveLockWait(time.Since(waitStart))
	if err != nil {
		return nil, asTimeout(err)
	}
	defer unlock()

	booking := &models.Booking{
		UserID:    actor.UserID,
		RoomID:    roomID,
		Title:     title,
		StartTime: start,
		EndTime:   end,
		Status:    models.StatusPending,
	}

	if err := s.repo.CreateBookingWithLock(ctx, booking, events.OutboxFactory(actor)); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.IncBookingConflict()
		}
		return nil, asTimeout(err)
	}

	metrics.IncBookingCreated()
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("room_id", roomID).
		Int64("user_id", actor.UserID).
		Time("start", booking.StartTime).
		Time("end", booking.EndTime).
		Msg("booking created")

	return booking, nil
}

// Approve confirms a pending booking. Only admins may approve.
func (s *BookingService) Approve(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error) {
	return s.transition(ctx, actor, bookingID, models.StatusConfirmed)
}

// Reject rejects a pending booking, freeing its range. Only admins may reject.
func (s *BookingService) Reject(ctx context.Context, actor models.Actor, bookingID int64) (*models.Booking, error) {
	return s.transition(ctx, actor, bookingID, models.StatusRejected)
}

func (s *BookingService) transition(
	ctx context.Context,
	actor models.Actor,
	bookingID int64,
	to models.BookingStatus,
) (*models.Booking, error) {
	if actor.IsAnonymous() {
		return nil, domain.ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}

	ctx, cancel := context.WithTimeout(ctx, s.unitTimeout)
	defer cancel()

	booking, err := s.repo.TransitionBookingStatus(ctx, bookingID, models.StatusPending, to, events.OutboxFactory(actor))
	if err != nil {
		return nil, asTimeout(err)
	}

	metrics.IncTransition(to.String())
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Str("status", to.String()).
		Int64("admin_id", actor.UserID).
		Msg("booking status changed")

	return booking, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

// ListBookings returns bookings overlapping the filter window, or all bookings
// when the window is not fully set. Status is not filtered.
func (s *BookingService) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	return s.repo.ListBookings(ctx, filter)
}

// CheckAvailability reports whether [start, end) is free in the room.
func (s *BookingService) CheckAvailability(ctx context.Context, roomID int64, start, end time.Time) (bool, error) {
	if !(models.Interval{Start: start, End: end}).Valid() {
		return false, domain.ErrInvalidRange
	}
	if s.rooms != nil {
		room, err := s.rooms.GetRoom(ctx, roomID)
		if err != nil {
			return false, err
		}
		if !room.IsActive {
			return false, fmt.Errorf("%w: room %d is inactive", domain.ErrRoomNotFound, roomID)
		}
	}
	return s.repo.CheckAvailability(ctx, roomID, start, end)
}

// asTimeout maps an expired unit of work to the retryable ErrTimeout.
func asTimeout(err error) error {
	if errors.Is(err, domain.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return err
}
