package core

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/actorchat-server/internal/cluster"
	"github.com/vovakirdan/actorchat-server/internal/store"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// memLog is an in-memory event log gateway with failure injection.
type memLog struct {
	mu      sync.Mutex
	seq     int64
	events  []store.Event
	failErr error
}

func (l *memLog) Append(_ context.Context, ev store.Event) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return 0, l.failErr
	}
	l.seq++
	ev.Seq = l.seq
	l.events = append(l.events, ev)
	return ev.Seq, nil
}

func (l *memLog) Messages(_ context.Context, roomID uuid.UUID) ([]store.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failErr != nil {
		return nil, l.failErr
	}
	var out []store.Event
	for _, ev := range l.events {
		if ev.RoomID == roomID && ev.Kind == store.EventMessage {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (l *memLog) fail(err error) {
	l.mu.Lock()
	l.failErr = err
	l.mu.Unlock()
}

func (l *memLog) all(roomID uuid.UUID) []store.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []store.Event
	for _, ev := range l.events {
		if ev.RoomID == roomID {
			out = append(out, ev)
		}
	}
	return out
}

// memStore is an in-memory persistence gateway.
type memStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]store.User
	rooms map[uuid.UUID]store.Room
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[uuid.UUID]store.User),
		rooms: make(map[uuid.UUID]store.Room),
	}
}

func (m *memStore) CreateUser(_ context.Context, name string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := store.User{ID: uuid.New(), Name: name, CreatedAt: time.Now()}
	m.users[u.ID] = u
	return &u, nil
}

func (m *memStore) GetUser(_ context.Context, id uuid.UUID) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (m *memStore) CreateRoom(_ context.Context, name, description string) (*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := store.Room{ID: uuid.New(), Name: name, Description: description, CreatedAt: time.Now()}
	m.rooms[r.ID] = r
	return &r, nil
}

func (m *memStore) GetRoom(_ context.Context, id uuid.UUID) (*store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (m *memStore) SearchRooms(_ context.Context, query string) ([]store.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Room
	for _, r := range m.rooms {
		out = append(out, r)
	}
	_ = query
	return out, nil
}

func (m *memStore) Close() error { return nil }

// recorder collects delivered notices for one fake participant.
type recorder struct {
	ch chan Notice
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Notice, 64)}
}

func (r *recorder) Bind(context.Context, uuid.UUID, Sink) error { return nil }

func (r *recorder) Unbind(context.Context, uuid.UUID, uuid.UUID) (bool, error) { return true, nil }

func (r *recorder) Deliver(n Notice) { r.ch <- n }

func mustNotice(t *testing.T, ch <-chan Notice, kind store.EventKind) Notice {
	t.Helper()

	select {
	case n := <-ch:
		if n.Kind != kind {
			t.Fatalf("expected %s notice, got %+v", kind, n)
		}
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("expected %s notice not received", kind)
	}
	return Notice{}
}

func expectNoNotice(t *testing.T, ch <-chan Notice) {
	t.Helper()

	select {
	case n := <-ch:
		t.Fatalf("unexpected notice: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestDirectory(grace time.Duration) (*Directory, *memLog) {
	events := &memLog{}
	dir := NewDirectory(cluster.NewLocal(), events, grace, testLogger())
	return dir, events
}

func testRoom() store.Room {
	return store.Room{ID: uuid.New(), Name: "general", Description: "test room"}
}

func testUser(name string) store.User {
	return store.User{ID: uuid.New(), Name: name}
}

// errConnClosed mimics the transport error a dropped socket produces.
var errConnClosed = errors.New("connection closed")

// fakeConn is an in-memory core.Conn for session tests.
type fakeConn struct {
	in  chan Frame
	out chan Frame

	mu       sync.Mutex
	closed   chan struct{}
	once     sync.Once
	rejected bool
	reason   string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan Frame, 16),
		out:    make(chan Frame, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (Frame, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return Frame{}, io.EOF
		}
		return f, nil
	case <-c.closed:
		return Frame{}, errConnClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, f Frame) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	select {
	case c.out <- f:
		return nil
	default:
		return errors.New("test conn buffer full")
	}
}

func (c *fakeConn) Reject(reason string) error {
	c.mu.Lock()
	c.rejected = true
	c.reason = reason
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) wasRejected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

// drop simulates an ungraceful socket loss.
func (c *fakeConn) drop() {
	c.once.Do(func() { close(c.closed) })
}

func mustFrame(t *testing.T, c *fakeConn) Frame {
	t.Helper()

	select {
	case f := <-c.out:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("expected outbound frame not received")
	}
	return Frame{}
}

func expectNoFrame(t *testing.T, c *fakeConn) {
	t.Helper()

	select {
	case f := <-c.out:
		t.Fatalf("unexpected outbound frame: %s", string(f.Data))
	case <-time.After(50 * time.Millisecond):
	}
}
