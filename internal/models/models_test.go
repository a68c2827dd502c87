package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 1, 1, hour, minute, 0, 0, time.UTC)
}

func TestIntervalValid(t *testing.T) {
	assert.True(t, Interval{at(10, 0), at(11, 0)}.Valid())
	assert.False(t, Interval{at(10, 0), at(10, 0)}.Valid())
	assert.False(t, Interval{at(11, 0), at(10, 0)}.Valid())
	assert.True(t, (&Booking{StartTime: at(9, 0), EndTime: at(9, 30)}).Interval().Valid())
}

func TestBookingStatusTransitions(t *testing.T) {
	t.Run("FromPending", func(t *testing.T) {
		assert.True(t, StatusPending.CanTransitionTo(StatusConfirmed))
		assert.True(t, StatusPending.CanTransitionTo(StatusRejected))
		assert.False(t, StatusPending.CanTransitionTo(StatusPending))
	})

	t.Run("TerminalStates", func(t *testing.T) {
		for _, from := range []BookingStatus{StatusConfirmed, StatusRejected} {
			for _, to := range []BookingStatus{StatusPending, StatusConfirmed, StatusRejected} {
				assert.False(t, from.CanTransitionTo(to), "%s -> %s", from, to)
			}
		}
	})

	t.Run("Valid", func(t *testing.T) {
		assert.True(t, StatusRejected.Valid())
		assert.False(t, BookingStatus("cancelled").Valid())
	})
}

func TestBookingFilterWindow(t *testing.T) {
	assert.False(t, BookingFilter{}.HasWindow())
	assert.False(t, BookingFilter{From: at(10, 0)}.HasWindow())
	assert.True(t, BookingFilter{From: at(10, 0), To: at(11, 0)}.HasWindow())
}

func TestActor(t *testing.T) {
	assert.True(t, Actor{}.IsAnonymous())
	assert.False(t, Actor{Role: RoleAdmin}.IsAdmin())
	assert.True(t, Actor{UserID: 1, Role: RoleAdmin}.IsAdmin())
	assert.False(t, Actor{UserID: 1, Role: RoleUser}.IsAdmin())
}
