package database

import (
	"context"
	"fmt"
	"time"

	"arbiter/internal/models"
)

const outboxColumns = `id, event_type, booking_id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at`

func (db *DB) insertOutboxTask(ctx context.Context, q queryer, task *models.OutboxTask) error {
	query := `INSERT INTO event_outbox (event_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if task.Status == "" {
		task.Status = models.OutboxPending
	}
	now := time.Now().UTC()
	id, err := db.insertID(ctx, q, query,
		task.EventType,
		task.BookingID,
		task.Payload,
		task.Status,
		task.RetryCount,
		task.LastError,
		now,
		task.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox task: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	return nil
}

func (db *DB) GetPendingOutboxTasks(ctx context.Context, limit int) ([]models.OutboxTask, error) {
	query := `SELECT ` + outboxColumns + `
              FROM event_outbox
              WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?)
              ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, db.rebind(query), models.OutboxPending, models.OutboxRetry, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbox tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.OutboxTask
	for rows.Next() {
		var t models.OutboxTask
		err := rows.Scan(
			&t.ID, &t.EventType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
			&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) UpdateOutboxTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []interface{}
	now := time.Now().UTC()

	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}
	if nextRetryAt != nil {
		utc := nextRetryAt.UTC()
		nextRetryAt = &utc
	}

	switch status {
	case models.OutboxRetry:
		query = `UPDATE event_outbox SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	case models.OutboxCompleted, models.OutboxFailed:
		query = `UPDATE event_outbox SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, now, id}
	default:
		query = `UPDATE event_outbox SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []interface{}{status, lastError, nextRetryAt, id}
	}

	_, err := db.ExecContext(ctx, db.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update outbox task status: %w", err)
	}
	return nil
}
