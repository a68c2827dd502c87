package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"arbiter/internal/domain"
	"arbiter/internal/models"
)

const bookingColumns = `id, user_id, room_id, title, start_time, end_time, status, version, created_at, updated_at`

// overlapCondition is the SQL form of models.Interval.Overlaps. Arguments: end, start.
const overlapCondition = `start_time < ? AND end_time > ?`

func scanBooking(row interface {
	Scan(dest ...interface{}) error
}) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(
		&b.ID, &b.UserID, &b.RoomID, &b.Title, &b.StartTime, &b.EndTime,
		&b.Status, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if !b.Status.Valid() {
		return nil, fmt.Errorf("booking %d has unknown status %q", b.ID, b.Status)
	}
	return &b, nil
}

func (db *DB) CheckAvailability(ctx context.Context, roomID int64, start, end time.Time) (bool, error) {
	available, err := db.checkAvailability(ctx, db.DB, roomID, start, end)
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return available, nil
}

func (db *DB) checkAvailability(ctx context.Context, q queryer, roomID int64, start, end time.Time) (bool, error) {
	query := `SELECT COUNT(*) FROM bookings WHERE room_id = ? AND status <> ? AND ` + overlapCondition
	var count int
	err := q.QueryRowContext(ctx, db.rebind(query),
		roomID, models.StatusRejected, end.UTC(), start.UTC(),
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count == 0, nil
}

// lockRoom reads the room row inside tx, taking a row lock where the dialect
// supports one. Missing and inactive rooms are reported as ErrRoomNotFound.
func (db *DB) lockRoom(ctx context.Context, tx *sql.Tx, roomID int64) error {
	query := `SELECT is_active FROM rooms WHERE id = ?` + db.dialect.lockClause
	var active bool
	err := tx.QueryRowContext(ctx, db.rebind(query), roomID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrRoomNotFound
	}
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("%w: room %d is inactive", domain.ErrRoomNotFound, roomID)
	}
	return nil
}

// CreateBookingWithLock checks availability and inserts the booking in one
// transaction. The outbox row produced by outbox, if any, is written in the
// same transaction. On success booking is updated with the stored values.
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking, outbox domain.OutboxFactory) error {
	if !booking.Interval().Valid() {
		return domain.ErrInvalidRange
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return wrapTxError("failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. Lock the room
	if err := db.lockRoom(ctx, tx, booking.RoomID); err != nil {
		return wrapTxError("failed to lock room", err)
	}

	// 2. Check availability inside transaction
	available, err := db.checkAvailability(ctx, tx, booking.RoomID, booking.StartTime, booking.EndTime)
	if err != nil {
		return wrapTxError("failed to check availability in tx", err)
	}
	if !available {
		return domain.ErrConflict
	}

	// 3. Insert booking
	now := time.Now().UTC()
	created := *booking
	created.StartTime = booking.StartTime.UTC()
	created.EndTime = booking.EndTime.UTC()
	created.Status = models.StatusPending
	created.Version = 1
	created.CreatedAt = now
	created.UpdatedAt = now

	queryInsert := `INSERT INTO bookings (
				user_id, room_id, title, start_time, end_time, status, version, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	created.ID, err = db.insertID(ctx, tx, queryInsert,
		created.UserID,
		created.RoomID,
		created.Title,
		created.StartTime,
		created.EndTime,
		created.Status,
		created.Version,
		created.CreatedAt,
		created.UpdatedAt,
	)
	if err != nil {
		return wrapTxError("failed to insert booking in tx", err)
	}

	// 4. Outbox
	if err := db.writeOutbox(ctx, tx, &created, outbox); err != nil {
		return wrapTxError("failed to write outbox in tx", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapTxError("failed to commit booking", err)
	}

	*booking = created
	return nil
}

// TransitionBookingStatus moves a booking from one status to another. The
// update is conditional on the current status, so of two concurrent
// transitions at most one succeeds; the other gets ErrInvalidTransition.
func (db *DB) TransitionBookingStatus(
	ctx context.Context,
	id int64,
	from, to models.BookingStatus,
	outbox domain.OutboxFactory,
) (*models.Booking, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapTxError("failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND status = ?`
	result, err := tx.ExecContext(ctx, db.rebind(query), to, time.Now().UTC(), id, from)
	if err != nil {
		return nil, wrapTxError("failed to update booking status", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, wrapTxError("failed to update booking status", err)
	}

	if rows == 0 {
		current, getErr := db.getBooking(ctx, tx, id)
		if getErr != nil {
			return nil, wrapTxError("failed to get booking", getErr)
		}
		return nil, fmt.Errorf("%w: booking %d is %s", domain.ErrInvalidTransition, id, current.Status)
	}

	updated, err := db.getBooking(ctx, tx, id)
	if err != nil {
		return nil, wrapTxError("failed to get booking", err)
	}

	if err := db.writeOutbox(ctx, tx, updated, outbox); err != nil {
		return nil, wrapTxError("failed to write outbox in tx", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapTxError("failed to commit transition", err)
	}
	return updated, nil
}

func (db *DB) writeOutbox(ctx context.Context, tx *sql.Tx, booking *models.Booking, outbox domain.OutboxFactory) error {
	if outbox == nil {
		return nil
	}
	task, err := outbox(booking)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}
	return db.insertOutboxTask(ctx, tx, task)
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	booking, err := db.getBooking(ctx, db.DB, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (db *DB) getBooking(ctx context.Context, q queryer, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(q.QueryRowContext(ctx, db.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBookingNotFound
	}
	return booking, err
}

// ListBookings returns bookings ordered by start time. The window filter
// uses the overlap predicate and does not look at status.
func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.HasWindow() {
		conds = append(conds, overlapCondition)
		args = append(args, filter.To.UTC(), filter.From.UTC())
	}
	if filter.RoomID > 0 {
		conds = append(conds, `room_id = ?`)
		args = append(args, filter.RoomID)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY start_time ASC, id ASC`

	rows, err := db.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	bookings := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}
