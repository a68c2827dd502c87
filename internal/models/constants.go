package models

import "time"

const (
	// DefaultUnitTimeout bounds a whole create-booking unit of work.
	DefaultUnitTimeout = 5 * time.Second

	// DefaultLockWait bounds how long a caller waits for a room lock.
	DefaultLockWait = 2 * time.Second

	// DefaultLockTTL is the lease of a distributed room lock.
	DefaultLockTTL = 10 * time.Second

	// DefaultTitleMaxLength matches the bookings.title column.
	DefaultTitleMaxLength = 255

	// DefaultOutboxBatchSize is how many outbox rows the worker fetches per poll.
	DefaultOutboxBatchSize = 20

	// DefaultOutboxPollInterval is the idle delay between outbox polls.
	DefaultOutboxPollInterval = 2 * time.Second

	// DefaultExportRangeDays is the export window when none is given.
	DefaultExportRangeDays = 30
)
