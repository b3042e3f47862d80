package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/synergy/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	is_default BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id   INTEGER NOT NULL,
	aid       TEXT NOT NULL,
	joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (room_id, aid),
	FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
);
`

// SQLiteStore implements store.TopologyStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.TopologyStore = (*SQLiteStore)(nil)

// New opens (creating if needed) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup opens the database and runs setup instead of the default
// schema. Useful for tests that need a custom starting state.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps ":memory:"
	// databases alive across queries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRoom upserts the room and clears its membership.
func (s *SQLiteStore) SaveRoom(ctx context.Context, name string, isDefault bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var roomID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO rooms (name, is_default) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET is_default = excluded.is_default
		RETURNING id
	`, name, isDefault).Scan(&roomID)
	if err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_members WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteRoom removes the room; membership rows cascade.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return expectRow(res, "room "+name)
}

// AddMember inserts a membership row, ignoring duplicates.
func (s *SQLiteStore) AddMember(ctx context.Context, room, aid string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_members (room_id, aid)
		SELECT id, ? FROM rooms WHERE name = ?
	`, aid, room)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Either a duplicate or a missing room; only the latter is an error.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE name = ?)`, room).Scan(&exists); err != nil {
			return fmt.Errorf("check room: %w", err)
		}
		if !exists {
			return fmt.Errorf("room %s: %w", room, store.ErrNotFound)
		}
	}
	return nil
}

// RemoveMember deletes a membership row.
func (s *SQLiteStore) RemoveMember(ctx context.Context, room, aid string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM room_members
		WHERE aid = ? AND room_id = (SELECT id FROM rooms WHERE name = ?)
	`, aid, room)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return expectRow(res, "member "+aid+" of "+room)
}

// LoadRooms returns all rooms ordered by creation, members sorted by aid.
func (s *SQLiteStore) LoadRooms(ctx context.Context) ([]store.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name, r.is_default, m.aid
		FROM rooms r
		LEFT JOIN room_members m ON m.room_id = r.id
		ORDER BY r.id, m.aid
	`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []store.Room
	for rows.Next() {
		var (
			name      string
			isDefault bool
			aid       sql.NullString
		)
		if err := rows.Scan(&name, &isDefault, &aid); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		if len(rooms) == 0 || rooms[len(rooms)-1].Name != name {
			rooms = append(rooms, store.Room{Name: name, Default: isDefault})
		}
		if aid.Valid {
			last := &rooms[len(rooms)-1]
			last.Members = append(last.Members, aid.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}

	return rooms, nil
}

func expectRow(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
