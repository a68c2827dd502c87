package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "arbiter"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	bookingsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_created_total",
			Help:      "Bookings inserted by the transaction manager.",
		},
	)

	bookingConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_conflicts_total",
			Help:      "Create attempts refused because the room was taken.",
		},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status.",
		},
		[]string{"status"},
	)

	outboxDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_delivered_total",
			Help:      "Outbox delivery attempts by result.",
		},
		[]string{"result"},
	)

	roomLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "room_lock_wait_seconds",
			Help:      "Time spent waiting for a room lock.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2, 5},
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookingsCreated,
			bookingConflicts,
			bookingTransitions,
			outboxDelivered,
			roomLockWait,
		)
	})
}

// IncHTTP increments the counter for an endpoint and response code.
func IncHTTP(endpoint string, code int) {
	httpRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

func IncBookingCreated() {
	bookingsCreated.Inc()
}

func IncBookingConflict() {
	bookingConflicts.Inc()
}

func IncTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

// IncOutbox records one delivery attempt; result is completed, retry or failed.
func IncOutbox(result string) {
	outboxDelivered.WithLabelValues(result).Inc()
}

func ObserveLockWait(d time.Duration) {
	roomLockWait.Observe(d.Seconds())
}
