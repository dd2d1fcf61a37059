package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/actorchat-server/internal/cluster"
	"github.com/vovakirdan/actorchat-server/internal/store"
)

type bindKey struct {
	userID uuid.UUID
	roomID uuid.UUID
}

// Manager accepts connection sessions, performs the directory lookups that
// bind each socket to its actor pair, and keeps the (user, room) → session
// binding table. At most one session may be live per pair: a newer session
// supersedes the old one rather than being rejected.
type Manager struct {
	store      store.Store
	dir        *Directory
	transport  cluster.Transport
	sendBuffer int
	log        *zerolog.Logger

	mu       sync.Mutex
	sessions map[bindKey]*Session
}

// NewManager wires the connection manager.
func NewManager(st store.Store, dir *Directory, t cluster.Transport, sendBuffer int, logger *zerolog.Logger) *Manager {
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	return &Manager{
		store:      st,
		dir:        dir,
		transport:  t,
		sendBuffer: sendBuffer,
		log:        logger,
		sessions:   make(map[bindKey]*Session),
	}
}

// CreateUser registers a new user. Exposed to the REST layer.
func (m *Manager) CreateUser(ctx context.Context, name string) (*store.User, error) {
	return m.store.CreateUser(ctx, name)
}

// CreateRoom registers a new room. Exposed to the REST layer.
func (m *Manager) CreateRoom(ctx context.Context, name, description string) (*store.Room, error) {
	return m.store.CreateRoom(ctx, name, description)
}

// SearchRooms finds rooms by name or description. Exposed to the REST layer.
func (m *Manager) SearchRooms(ctx context.Context, query string) ([]store.Room, error) {
	return m.store.SearchRooms(ctx, query)
}

// GetUser loads one user record. Exposed to the REST layer.
func (m *Manager) GetUser(ctx context.Context, id uuid.UUID) (*store.User, error) {
	return m.store.GetUser(ctx, id)
}

// GetRoom loads one room record. Exposed to the REST layer.
func (m *Manager) GetRoom(ctx context.Context, id uuid.UUID) (*store.Room, error) {
	return m.store.GetRoom(ctx, id)
}

// Serve runs one connection session to completion. It resolves the static
// user and room data, materializes both actors through the directory, and
// hands the socket to the session. Blocks until the session closes.
func (m *Manager) Serve(ctx context.Context, userID, roomID uuid.UUID, conn Conn) error {
	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		_ = conn.Reject("unknown room")
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
		}
		return fmt.Errorf("load room: %w", err)
	}

	user, err := m.store.GetUser(ctx, userID)
	if err != nil {
		_ = conn.Reject("unknown user")
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return fmt.Errorf("load user: %w", err)
	}

	roomH, err := m.dir.Room(ctx, *room)
	if err != nil {
		_ = conn.Reject("room unavailable")
		return err
	}
	userH, err := m.dir.User(ctx, *user)
	if err != nil {
		_ = conn.Reject("user unavailable")
		return err
	}

	sessionID := uuid.New()
	logger := m.log.With().
		Str("session_id", sessionID.String()).
		Str("user_id", userID.String()).
		Str("room_id", roomID.String()).
		Logger()

	s := &Session{
		id:    sessionID,
		user:  *user,
		room:  *room,
		conn:  conn,
		sink:  newConnSink(sessionID, m.sendBuffer, logger),
		mgr:   m,
		roomH: roomH,
		userH: userH,
		log:   logger,
	}
	s.state.Store(int32(StateConnecting))

	// Make the sink reachable from other nodes before anything can deliver.
	if err := m.transport.Announce(cluster.KindSink, sessionID, m.sinkHandler(s)); err != nil {
		_ = conn.Reject("transport unavailable")
		return fmt.Errorf("announce sink: %w", err)
	}
	defer m.transport.Withdraw(cluster.KindSink, sessionID)

	key := bindKey{userID: userID, roomID: roomID}
	if prior := m.register(key, s); prior != nil {
		logger.Info().Msg("superseding previous session")
		prior.preempt()
	}
	defer m.deregister(key, s)

	return s.run(ctx)
}

// sinkHandler feeds cross-node deliveries into the session's sink.
func (m *Manager) sinkHandler(s *Session) cluster.Handler {
	return func(_ context.Context, op string, payload []byte) ([]byte, error) {
		if op != opSinkDeliver {
			return nil, fmt.Errorf("unknown sink op %q", op)
		}
		var n Notice
		if err := json.Unmarshal(payload, &n); err != nil {
			return nil, fmt.Errorf("unmarshal notice: %w", err)
		}
		s.sink.Push(n)
		return nil, nil
	}
}

// register installs the session and returns the one it displaces, if any.
func (m *Manager) register(key bindKey, s *Session) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	prior := m.sessions[key]
	m.sessions[key] = s
	return prior
}

// deregister removes the binding unless a newer session already replaced it.
func (m *Manager) deregister(key bindKey, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[key] == s {
		delete(m.sessions, key)
	}
}

// ActiveSessions reports the number of live (user, room) bindings.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
