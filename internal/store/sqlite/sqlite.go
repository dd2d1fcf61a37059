package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/actorchat-server/internal/store"
)

// SQLiteStore implements store.Store and store.EventLog on a single
// SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)
var _ store.EventLog = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS rooms (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS room_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	body       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_room_events_room ON room_events (room_id, seq);
`

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
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

// ==== store.Store implementation ====

// CreateUser inserts a new user with a generated id.
func (s *SQLiteStore) CreateUser(ctx context.Context, name string) (*store.User, error) {
	id := uuid.New()
	now := time.Now().UTC()

	query := `INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, id.String(), name, now); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return &store.User{ID: id, Name: name, CreatedAt: now}, nil
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id uuid.UUID) (*store.User, error) {
	query := `SELECT id, name, created_at FROM users WHERE id = ?`

	var (
		rawID string
		user  store.User
	)
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&rawID, &user.Name, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	user.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	return &user, nil
}

// CreateRoom inserts a new room with a generated id.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name, description string) (*store.Room, error) {
	id := uuid.New()
	now := time.Now().UTC()

	query := `INSERT INTO rooms (id, name, description, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, id.String(), name, description, now); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}

	return &store.Room{ID: id, Name: name, Description: description, CreatedAt: now}, nil
}

// GetRoom retrieves a room by id.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*store.Room, error) {
	query := `SELECT id, name, description, created_at FROM rooms WHERE id = ?`

	var (
		rawID string
		room  store.Room
	)
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&rawID, &room.Name, &room.Description, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query room: %w", err)
	}

	room.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse room id: %w", err)
	}
	return &room, nil
}

// SearchRooms returns rooms whose name or description contains the query,
// ordered by name.
func (s *SQLiteStore) SearchRooms(ctx context.Context, query string) ([]store.Room, error) {
	stmt := `
		SELECT id, name, description, created_at
		FROM rooms
		WHERE name LIKE ? OR description LIKE ?
		ORDER BY name
		LIMIT 50
	`
	pattern := "%" + query + "%"

	rows, err := s.db.QueryContext(ctx, stmt, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search rooms: %w", err)
	}
	defer rows.Close()

	var rooms []store.Room
	for rows.Next() {
		var (
			rawID string
			room  store.Room
		)
		if err := rows.Scan(&rawID, &room.Name, &room.Description, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		room.ID, err = uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parse room id: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// ==== store.EventLog implementation ====

// Append durably writes one event and returns its sequence number.
func (s *SQLiteStore) Append(ctx context.Context, ev store.Event) (int64, error) {
	query := `
		INSERT INTO room_events (room_id, user_id, kind, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		ev.RoomID.String(), ev.UserID.String(), string(ev.Kind), ev.Text, ev.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event seq: %w", err)
	}
	return seq, nil
}

// Messages returns the room's message events in append order. Presence
// events are stored but never replayed.
func (s *SQLiteStore) Messages(ctx context.Context, roomID uuid.UUID) ([]store.Event, error) {
	query := `
		SELECT seq, room_id, user_id, kind, body, created_at
		FROM room_events
		WHERE room_id = ? AND kind = ?
		ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query, roomID.String(), string(store.EventMessage))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []store.Event
	for rows.Next() {
		var (
			rawRoom, rawUser, kind string
			ev                     store.Event
		)
		if err := rows.Scan(&ev.Seq, &rawRoom, &rawUser, &kind, &ev.Text, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = store.EventKind(kind)
		if ev.RoomID, err = uuid.Parse(rawRoom); err != nil {
			return nil, fmt.Errorf("parse event room id: %w", err)
		}
		if ev.UserID, err = uuid.Parse(rawUser); err != nil {
			return nil, fmt.Errorf("parse event user id: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
