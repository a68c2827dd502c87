package database

import (
	"strconv"
	"strings"

	"arbiter/internal/config"
)

// dialect holds the SQL that differs between the supported drivers.
type dialect struct {
	name string

	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool

	// appended to the room row read inside a booking transaction
	lockClause string

	// insert returns the new id via RETURNING instead of LastInsertId
	returningID bool

	upsertRoom string
	schema     []string
}

func dialectFor(driver string) (dialect, bool) {
	switch driver {
	case config.DriverSQLite:
		return sqliteDialect, true
	case config.DriverMySQL:
		return mysqlDialect, true
	case config.DriverPostgres:
		return postgresDialect, true
	default:
		return dialect{}, false
	}
}

// rebind rewrites ? placeholders for drivers that number them. Queries in this
// package never contain a literal question mark.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

var sqliteDialect = dialect{
	name: config.DriverSQLite,
	// Writers are serialized by BEGIN IMMEDIATE (see sqliteDSN).
	lockClause: "",
	upsertRoom: `INSERT INTO rooms (id, name, capacity, location, is_active, created_at, updated_at)
	             VALUES (?, ?, ?, ?, ?, ?, ?)
	             ON CONFLICT(id) DO UPDATE SET
	                 name = excluded.name,
	                 capacity = excluded.capacity,
	                 location = excluded.location,
	                 is_active = excluded.is_active,
	                 updated_at = excluded.updated_at`,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            capacity INTEGER NOT NULL DEFAULT 0,
            location TEXT NOT NULL DEFAULT '',
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL,
            room_id INTEGER NOT NULL REFERENCES rooms(id),
            title TEXT NOT NULL,
            start_time DATETIME NOT NULL,
            end_time DATETIME NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            CHECK (start_time < end_time)
        )`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_room_time ON bookings(room_id, start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_status ON event_outbox(status, next_retry_at)`,
	},
}

var mysqlDialect = dialect{
	name:       config.DriverMySQL,
	lockClause: " FOR UPDATE",
	upsertRoom: `INSERT INTO rooms (id, name, capacity, location, is_active, created_at, updated_at)
	             VALUES (?, ?, ?, ?, ?, ?, ?)
	             ON DUPLICATE KEY UPDATE
	                 name = VALUES(name),
	                 capacity = VALUES(capacity),
	                 location = VALUES(location),
	                 is_active = VALUES(is_active),
	                 updated_at = VALUES(updated_at)`,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id BIGINT PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            capacity BIGINT NOT NULL DEFAULT 0,
            location VARCHAR(255) NOT NULL DEFAULT '',
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at DATETIME(6) NOT NULL,
            updated_at DATETIME(6) NOT NULL
        ) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id BIGINT AUTO_INCREMENT PRIMARY KEY,
            user_id BIGINT NOT NULL,
            room_id BIGINT NOT NULL,
            title VARCHAR(255) NOT NULL,
            start_time DATETIME(6) NOT NULL,
            end_time DATETIME(6) NOT NULL,
            status VARCHAR(16) NOT NULL DEFAULT 'pending',
            version BIGINT NOT NULL DEFAULT 1,
            created_at DATETIME(6) NOT NULL,
            updated_at DATETIME(6) NOT NULL,
            INDEX idx_bookings_room_time (room_id, start_time, end_time),
            INDEX idx_bookings_status (status),
            INDEX idx_bookings_user_id (user_id),
            CONSTRAINT fk_bookings_room FOREIGN KEY (room_id) REFERENCES rooms(id)
        ) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
            id BIGINT AUTO_INCREMENT PRIMARY KEY,
            event_type VARCHAR(64) NOT NULL,
            booking_id BIGINT NOT NULL,
            payload TEXT NOT NULL,
            status VARCHAR(16) NOT NULL DEFAULT 'pending',
            retry_count INT NOT NULL DEFAULT 0,
            last_error TEXT NULL,
            created_at DATETIME(6) NOT NULL,
            processed_at DATETIME(6) NULL,
            next_retry_at DATETIME(6) NULL,
            INDEX idx_event_outbox_status (status, next_retry_at)
        ) ENGINE=InnoDB`,
	},
}

var postgresDialect = dialect{
	name:        config.DriverPostgres,
	numbered:    true,
	lockClause:  " FOR UPDATE",
	returningID: true,
	upsertRoom: `INSERT INTO rooms (id, name, capacity, location, is_active, created_at, updated_at)
	             VALUES (?, ?, ?, ?, ?, ?, ?)
	             ON CONFLICT (id) DO UPDATE SET
	                 name = EXCLUDED.name,
	                 capacity = EXCLUDED.capacity,
	                 location = EXCLUDED.location,
	                 is_active = EXCLUDED.is_active,
	                 updated_at = EXCLUDED.updated_at`,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS rooms (
            id BIGINT PRIMARY KEY,
            name TEXT NOT NULL,
            capacity BIGINT NOT NULL DEFAULT 0,
            location TEXT NOT NULL DEFAULT '',
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id BIGSERIAL PRIMARY KEY,
            user_id BIGINT NOT NULL,
            room_id BIGINT NOT NULL REFERENCES rooms(id),
            title TEXT NOT NULL,
            start_time TIMESTAMPTZ NOT NULL,
            end_time TIMESTAMPTZ NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            version BIGINT NOT NULL DEFAULT 1,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL,
            CHECK (start_time < end_time)
        )`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
            id BIGSERIAL PRIMARY KEY,
            event_type TEXT NOT NULL,
            booking_id BIGINT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INT NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at TIMESTAMPTZ NOT NULL,
            processed_at TIMESTAMPTZ,
            next_retry_at TIMESTAMPTZ
        )`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_room_time ON bookings(room_id, start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user_id ON bookings(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_status ON event_outbox(status, next_retry_at)`,
	},
}
