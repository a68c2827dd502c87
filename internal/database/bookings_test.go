package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"arbiter/internal/domain"
	"arbiter/internal/models"
	"arbiter/internal/models/modelstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBooking(roomID int64, start, end time.Time) *models.Booking {
	return &models.Booking{
		UserID:    42,
		RoomID:    roomID,
		Title:     "Standup",
		StartTime: start,
		EndTime:   end,
	}
}

func TestCheckAvailability_SharedCases(t *testing.T) {
	cases, err := modelstest.LoadOverlapCases(modelstest.CasesPath())
	require.NoError(t, err)

	ctx := context.Background()
	for i, tt := range cases {
		t.Run(tt.Name, func(t *testing.T) {
			db := setupTestDB(t)
			roomID := int64(i + 1)
			seedRoom(t, db, roomID, true)

			existing, candidate, err := tt.Intervals(testDay)
			require.NoError(t, err)

			require.NoError(t, db.CreateBookingWithLock(ctx, newBooking(roomID, existing.Start, existing.End), nil))

			available, err := db.CheckAvailability(ctx, roomID, candidate.Start, candidate.End)
			require.NoError(t, err)
			assert.Equal(t, !tt.Expected, available)
		})
	}
}

func TestCreateBookingWithLock(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedRoom(t, db, 1, true)
	seedRoom(t, db, 2, true)
	seedRoom(t, db, 3, false)

	t.Run("Success", func(t *testing.T) {
		b := newBooking(1, at(10, 0), at(11, 0))
		b.Status = models.StatusConfirmed // ignored

		var seen *models.Booking
		err := db.CreateBookingWithLock(ctx, b, func(created *models.Booking) (*models.OutboxTask, error) {
			seen = created
			return &models.OutboxTask{EventType: "booking_created", BookingID: created.ID, Payload: "{}"}, nil
		})
		require.NoError(t, err)

		assert.NotZero(t, b.ID)
		assert.Equal(t, models.StatusPending, b.Status)
		assert.Equal(t, int64(1), b.Version)
		require.NotNil(t, seen)
		assert.Equal(t, b.ID, seen.ID)

		stored, err := db.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "Standup", stored.Title)
		assert.True(t, stored.StartTime.Equal(at(10, 0)))
		assert.True(t, stored.EndTime.Equal(at(11, 0)))
		assert.Equal(t, models.StatusPending, stored.Status)

		tasks, err := db.GetPendingOutboxTasks(ctx, 10)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, b.ID, tasks[0].BookingID)
	})

	t.Run("Conflict", func(t *testing.T) {
		b := newBooking(1, at(10, 30), at(11, 30))
		err := db.CreateBookingWithLock(ctx, b, nil)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Zero(t, b.ID)
	})

	t.Run("BackToBack", func(t *testing.T) {
		require.NoError(t, db.CreateBookingWithLock(ctx, newBooking(1, at(11, 0), at(12, 0)), nil))
		require.NoError(t, db.CreateBookingWithLock(ctx, newBooking(1, at(9, 0), at(10, 0)), nil))
	})

	t.Run("OtherRoomIndependent", func(t *testing.T) {
		require.NoError(t, db.CreateBookingWithLock(ctx, newBooking(2, at(10, 0), at(11, 0)), nil))
	})

	t.Run("InvalidRange", func(t *testing.T) {
		err := db.CreateBookingWithLock(ctx, newBooking(2, at(12, 0), at(12, 0)), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidRange)
		err = db.CreateBookingWithLock(ctx, newBooking(2, at(13, 0), at(12, 0)), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidRange)
	})

	t.Run("UnknownRoom", func(t *testing.T) {
		err := db.CreateBookingWithLock(ctx, newBooking(99, at(10, 0), at(11, 0)), nil)
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("InactiveRoom", func(t *testing.T) {
		err := db.CreateBookingWithLock(ctx, newBooking(3, at(10, 0), at(11, 0)), nil)
		assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	})

	t.Run("OutboxFailureRollsBack", func(t *testing.T) {
		b := newBooking(2, at(15, 0), at(16, 0))
		err := db.CreateBookingWithLock(ctx, b, func(*models.Booking) (*models.OutboxTask, error) {
			return nil, fmt.Errorf("encode failed")
		})
		require.Error(t, err)

		available, err := db.CheckAvailability(ctx, 2, at(15, 0), at(16, 0))
		require.NoError(t, err)
		assert.True(t, available, "nothing must be written when the unit fails")
	})
}

func TestRejectedBookingFreesRoom(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedRoom(t, db, 1, true)

	b := newBooking(1, at(10, 0), at(11, 0))
	require.NoError(t, db.CreateBookingWithLock(ctx, b, nil))

	_, err := db.TransitionBookingStatus(ctx, b.ID, models.StatusPending, models.StatusRejected, nil)
	require.NoError(t, err)

	available, err := db.CheckAvailability(ctx, 1, at(10, 0), at(11, 0))
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, db.CreateBookingWithLock(ctx, newBooking(1, at(10, 0), at(11, 0)), nil))
}

func TestTransitionBookingStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedRoom(t, db, 1, true)

	b := newBooking(1, at(10, 0), at(11, 0))
	require.NoError(t, db.CreateBookingWithLock(ctx, b, nil))

	t.Run("Approve", func(t *testing.T) {
		updated, err := db.TransitionBookingStatus(ctx, b.ID, models.StatusPending, models.StatusConfirmed,
			func(booking *models.Booking) (*models.OutboxTask, error) {
				return &models.OutboxTask{EventType: "booking_confirmed", BookingID: booking.ID, Payload: "{}"}, nil
			})
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, updated.Status)
		assert.Equal(t, int64(2), updated.Version)
		assert.True(t, updated.StartTime.Equal(b.StartTime), "interval is immutable")
	})

	t.Run("SecondApprove", func(t *testing.T) {
		_, err := db.TransitionBookingStatus(ctx, b.ID, models.StatusPending, models.StatusConfirmed, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		stored, err := db.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored.Version)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := db.TransitionBookingStatus(ctx, 9999, models.StatusPending, models.StatusConfirmed, nil)
		assert.ErrorIs(t, err, domain.ErrBookingNotFound)
	})

	t.Run("IllegalEdge", func(t *testing.T) {
		_, err := db.TransitionBookingStatus(ctx, b.ID, models.StatusConfirmed, models.StatusRejected, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestGetBooking_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.GetBooking(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestGetBooking_UnknownStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedRoom(t, db, 1, true)

	b := newBooking(1, testDay.Add(10*time.Hour), testDay.Add(11*time.Hour))
	require.NoError(t, db.CreateBookingWithLock(ctx, b, nil))

	_, err := db.ExecContext(ctx, db.rebind(`UPDATE bookings SET status = ? WHERE id = ?`), "cancelled", b.ID)
	require.NoError(t, err)

	_, err = db.GetBooking(ctx, b.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown status")
}

func TestCreateBookingWithLock_EmptyInterval(t *testing.T) {
	db := setupTestDB(t)
	seedRoom(t, db, 1, true)

	start := testDay.Add(10 * time.Hour)
	err := db.CreateBookingWithLock(context.Background(), newBooking(1, start, start), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRange)
}

func TestListBookings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedRoom(t, db, 1, true)
	seedRoom(t, db, 2, true)

	late := newBooking(1, at(14, 0), at(15, 0))
	early := newBooking(1, at(9, 0), at(10, 0))
	other := newBooking(2, at(9, 30), at(10, 30))
	for _, b := range []*models.Booking{late, early, other} {
		require.NoError(t, db.CreateBookingWithLock(ctx, b, nil))
	}
	_, err := db.TransitionBookingStatus(ctx, other.ID, models.StatusPending, models.StatusRejected, nil)
	require.NoError(t, err)

	t.Run("All", func(t *testing.T) {
		list, err := db.ListBookings(ctx, models.BookingFilter{})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, early.ID, list[0].ID)
		assert.Equal(t, other.ID, list[1].ID)
		assert.Equal(t, late.ID, list[2].ID)
	})

	t.Run("WindowIncludesRejected", func(t *testing.T) {
		list, err := db.ListBookings(ctx, models.BookingFilter{From: at(9, 45), To: at(12, 0)})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, models.StatusRejected, list[1].Status)
	})

	t.Run("WindowIsHalfOpen", func(t *testing.T) {
		list, err := db.ListBookings(ctx, models.BookingFilter{From: at(10, 30), To: at(14, 0)})
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("OnlyFromIgnored", func(t *testing.T) {
		list, err := db.ListBookings(ctx, models.BookingFilter{From: at(20, 0)})
		require.NoError(t, err)
		assert.Len(t, list, 3)
	})

	t.Run("Room", func(t *testing.T) {
		list, err := db.ListBookings(ctx, models.BookingFilter{RoomID: 2})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, other.ID, list[0].ID)
	})

	t.Run("Idempotent", func(t *testing.T) {
		filter := models.BookingFilter{From: testDay, To: testDay.Add(24 * time.Hour)}
		first, err := db.ListBookings(ctx, filter)
		require.NoError(t, err)
		second, err := db.ListBookings(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})
}

func TestNoOverlapInvariant(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedRoom(t, db, 1, true)

	for i := 0; i < 40; i++ {
		start := at(8, 0).Add(time.Duration((i*37)%600) * time.Minute)
		end := start.Add(time.Duration(30+(i*13)%90) * time.Minute)
		err := db.CreateBookingWithLock(ctx, newBooking(1, start, end), nil)
		if err != nil {
			require.ErrorIs(t, err, domain.ErrConflict)
		}
	}

	list, err := db.ListBookings(ctx, models.BookingFilter{RoomID: 1})
	require.NoError(t, err)
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			assert.False(t, list[i].Interval().Overlaps(list[j].Interval()),
				"bookings %d and %d overlap", list[i].ID, list[j].ID)
		}
	}
}
