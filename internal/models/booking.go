package models

import "time"

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusRejected  BookingStatus = "rejected"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Only pending bookings move, and only forward.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	if s != StatusPending {
		return false
	}
	return next == StatusConfirmed || next == StatusRejected
}

func (s BookingStatus) String() string {
	return string(s)
}

type Booking struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"user_id"`
	RoomID    int64         `json:"room_id"`
	Title     string        `json:"title"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Status    BookingStatus `json:"status"`
	Version   int64         `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (b *Booking) Interval() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

// BookingFilter narrows ListBookings. The time window applies only when both
// From and To are set.
type BookingFilter struct {
	From   time.Time
	To     time.Time
	RoomID int64
}

func (f BookingFilter) HasWindow() bool {
	return !f.From.IsZero() && !f.To.IsZero()
}
