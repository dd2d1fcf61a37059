package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// User represents a chat user.
type User struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Room represents a chat room.
type Room struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
}

// EventKind classifies a persisted chat event.
type EventKind string

const (
	EventJoin       EventKind = "join"
	EventLeave      EventKind = "leave"
	EventDisconnect EventKind = "disconnect"
	EventMessage    EventKind = "message"
)

// Event is one row of a room's append-only event log. Seq is assigned on
// append and defines the authoritative order of events within a room.
type Event struct {
	Seq       int64
	RoomID    uuid.UUID
	UserID    uuid.UUID
	Kind      EventKind
	Text      string
	CreatedAt time.Time
}

// Store is the persistence gateway for user and room records.
type Store interface {
	CreateUser(ctx context.Context, name string) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	CreateRoom(ctx context.Context, name, description string) (*Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)
	SearchRooms(ctx context.Context, query string) ([]Room, error)

	Close() error
}

// EventLog is the gateway to the durable, ordered per-room event log.
type EventLog interface {
	// Append durably writes the event and returns its sequence number.
	// The event must be on disk before Append returns.
	Append(ctx context.Context, ev Event) (int64, error)
	// Messages returns the room's message events in append order.
	// Presence events (join/leave/disconnect) are not part of replay.
	Messages(ctx context.Context, roomID uuid.UUID) ([]Event, error)
}
