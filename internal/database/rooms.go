package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"arbiter/internal/domain"
	"arbiter/internal/models"
)

const roomColumns = `id, name, capacity, location, is_active, created_at, updated_at`

func scanRoom(row interface {
	Scan(dest ...interface{}) error
}) (*models.Room, error) {
	var r models.Room
	if err := row.Scan(&r.ID, &r.Name, &r.Capacity, &r.Location, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertRoom inserts the room or overwrites its attributes, keeping created_at.
func (db *DB) UpsertRoom(ctx context.Context, room *models.Room) error {
	if room.ID <= 0 {
		return fmt.Errorf("%w: room id must be positive", domain.ErrValidation)
	}

	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, db.rebind(db.dialect.upsertRoom),
		room.ID,
		room.Name,
		room.Capacity,
		room.Location,
		room.IsActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert room: %w", err)
	}
	room.UpdatedAt = now
	return nil
}

func (db *DB) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = ?`
	room, err := scanRoom(db.QueryRowContext(ctx, db.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

func (db *DB) ListRooms(ctx context.Context) ([]*models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms ORDER BY id ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]*models.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}
