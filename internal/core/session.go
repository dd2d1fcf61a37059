package core

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/actorchat-server/internal/proto"
	"github.com/vovakirdan/actorchat-server/internal/store"
)

// SessionState is the lifecycle of one connection session.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateJoined
	StateDraining
	StateClosed
)

// Frame is one websocket frame as the core sees it.
type Frame struct {
	Binary bool
	Data   []byte
}

// Conn abstracts the physical socket bound to a session.
type Conn interface {
	Read(ctx context.Context) (Frame, error)
	Write(ctx context.Context, f Frame) error
	// Reject closes the socket with an application-level rejection code
	// during session setup.
	Reject(reason string) error
	Close(reason string) error
}

// drainTimeout bounds the best-effort unbind/disconnect calls during teardown.
const drainTimeout = 5 * time.Second

// connSink buffers notices between a user actor and the session's write
// loop. Push drops when the buffer is full so broadcasts never block.
type connSink struct {
	id  uuid.UUID
	ch  chan Notice
	log zerolog.Logger
}

func newConnSink(id uuid.UUID, buffer int, logger zerolog.Logger) *connSink {
	return &connSink{id: id, ch: make(chan Notice, buffer), log: logger}
}

func (s *connSink) ID() uuid.UUID { return s.id }

func (s *connSink) Push(n Notice) {
	select {
	case s.ch <- n:
	default:
		s.log.Warn().Str("room_id", n.Room.ID.String()).Msg("sink full, dropped notice")
	}
}

// Session binds one physical socket to a (user actor, room actor) pair and
// drives the inbound read loop and outbound write loop. The two loops run
// independently and never block each other.
type Session struct {
	id   uuid.UUID
	user store.User
	room store.Room
	conn Conn
	sink *connSink

	mgr   *Manager
	roomH RoomHandle
	userH UserHandle
	log   zerolog.Logger

	state      atomic.Int32
	superseded atomic.Bool
	left       atomic.Bool
	cancel     context.CancelFunc

	// replayedThrough is the highest event sequence the history backfill
	// covered. Written before the loops start, read by the write loop.
	replayedThrough int64
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// preempt is called when a newer session for the same (user, room) pair
// arrives. The socket is closed but the actors see no leave or disconnect:
// the replacement's bind transparently supersedes ours.
func (s *Session) preempt() {
	s.superseded.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.conn.Close("superseded by a newer connection")
}

// run drives the session from Connecting to Closed. Blocks until the socket
// is gone.
func (s *Session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()

	if err := s.userH.Bind(ctx, s.room.ID, s.sink); err != nil {
		s.state.Store(int32(StateClosed))
		_ = s.conn.Reject("user unavailable")
		return err
	}

	if err := s.roomH.Join(ctx, s.user, s.userH); err != nil {
		s.state.Store(int32(StateClosed))
		s.log.Warn().Err(err).Msg("join failed")
		if _, uerr := s.userH.Unbind(ctx, s.room.ID, s.sink.ID()); uerr != nil {
			s.log.Warn().Err(uerr).Msg("unbind after failed join")
		}
		_ = s.conn.Reject("join failed")
		return err
	}

	// Backfill before going live: one batch with the full message history.
	if err := s.replayHistory(ctx); err != nil {
		s.log.Warn().Err(err).Msg("history replay failed")
		s.drain()
		return err
	}

	s.state.Store(int32(StateJoined))
	s.log.Info().Msg("session joined")

	errCh := make(chan error, 2)
	go func() { errCh <- s.readLoop(ctx) }()
	go func() { errCh <- s.writeLoop(ctx) }()

	err := <-errCh
	cancel() // stop the other loop
	<-errCh

	s.drain()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Session) replayHistory(ctx context.Context) error {
	history, err := s.roomH.History(ctx)
	if err != nil {
		return err
	}
	if len(history) > 0 {
		s.replayedThrough = history[len(history)-1].Seq
	}

	// Attributed user rows are looked up once per distinct author. Events by
	// users that have since vanished are skipped, not fatal.
	users := map[uuid.UUID]*store.User{s.user.ID: &s.user}
	var batch []proto.Response
	for _, ev := range history {
		u, ok := users[ev.UserID]
		if !ok {
			loaded, err := s.mgr.store.GetUser(ctx, ev.UserID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					users[ev.UserID] = nil
					continue
				}
				return err
			}
			users[ev.UserID] = loaded
			u = loaded
		}
		if u == nil {
			continue
		}
		at := ev.CreatedAt
		batch = append(batch, proto.Response{
			User:    proto.User{ID: u.ID, Name: u.Name},
			Room:    &proto.Room{ID: s.room.ID, Name: s.room.Name, Description: s.room.Description},
			Message: proto.Message{Kind: string(ev.Kind), Text: ev.Text, At: &at},
		})
	}

	data, err := proto.EncodeBatch(batch)
	if err != nil {
		return err
	}
	return s.conn.Write(ctx, Frame{Binary: true, Data: data})
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		frame, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}

		if !frame.Binary {
			// A text frame is one chat message.
			s.post(ctx, string(frame.Data))
			continue
		}

		msgs, err := proto.DecodeMessages(frame.Data)
		if err != nil {
			// Parse failure drains the session per protocol.
			return err
		}
		for _, m := range msgs {
			switch m.Kind {
			case proto.KindMessage:
				s.post(ctx, m.Text)
			case proto.KindJoin:
				// Idempotent on the room actor.
				if err := s.roomH.Join(ctx, s.user, s.userH); err != nil {
					s.log.Warn().Err(err).Msg("re-join failed")
				}
			case proto.KindLeave:
				s.left.Store(true)
				if err := s.roomH.Leave(ctx, s.user.ID); err != nil {
					s.log.Warn().Err(err).Msg("leave failed")
				}
				return nil
			case proto.KindDisconnect:
				return nil
			}
		}
	}
}

// post sends one message to the room. NotAParticipant is a client protocol
// violation: logged, ignored. A persistence failure means no broadcast and
// no acknowledgment; the client times out and retries. A stale handle is
// re-resolved once.
func (s *Session) post(ctx context.Context, text string) {
	err := s.roomH.PostMessage(ctx, s.user.ID, text)
	if errors.Is(err, ErrActorGone) {
		if s.refreshRoom(ctx) {
			err = s.roomH.PostMessage(ctx, s.user.ID, text)
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrNotAParticipant):
		s.log.Warn().Msg("post without join ignored")
	default:
		s.log.Error().Err(err).Msg("post failed")
	}
}

// refreshRoom re-resolves the room actor after an eviction race and re-joins.
func (s *Session) refreshRoom(ctx context.Context) bool {
	h, err := s.mgr.dir.Room(ctx, s.room)
	if err != nil {
		s.log.Warn().Err(err).Msg("room re-resolve failed")
		return false
	}
	s.roomH = h
	if err := h.Join(ctx, s.user, s.userH); err != nil {
		s.log.Warn().Err(err).Msg("re-join after eviction failed")
		return false
	}
	return true
}

func (s *Session) writeLoop(ctx context.Context) error {
	for {
		select {
		case n := <-s.sink.ch:
			// A message appended between the join and the history read is
			// both broadcast and backfilled; render it from the backfill
			// only. Presence events never appear in history and always
			// pass through.
			if n.Kind == store.EventMessage && n.Seq <= s.replayedThrough {
				continue
			}
			at := n.At
			data, err := proto.EncodeBatch([]proto.Response{{
				User:    proto.User{ID: n.User.ID, Name: n.User.Name},
				Room:    &proto.Room{ID: n.Room.ID, Name: n.Room.Name, Description: n.Room.Description},
				Message: proto.Message{Kind: string(n.Kind), Text: n.Text, At: &at},
			}})
			if err != nil {
				return err
			}
			if err := s.conn.Write(ctx, Frame{Binary: true, Data: data}); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain tears the session down: unbind, then disconnect (not leave, unless
// the client already left). Best-effort; failures are logged, never retried.
// A superseded session skips the actor calls entirely so the replacement
// observes a transparent rebind. A session displaced through another node's
// manager has no superseded flag to check; the sink-matched unbind covers
// it, and losing the binding means the disconnect belongs to the
// replacement, not to us.
func (s *Session) drain() {
	s.state.Store(int32(StateDraining))

	if !s.superseded.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		owned, err := s.userH.Unbind(ctx, s.room.ID, s.sink.ID())
		if err != nil {
			s.log.Warn().Err(err).Msg("unbind failed")
		}
		switch {
		case !owned && err == nil:
			s.log.Info().Msg("displaced by a newer session, leaving actors untouched")
		case owned && !s.left.Load():
			if err := s.roomH.Disconnect(ctx, s.user.ID); err != nil {
				s.log.Warn().Err(err).Msg("disconnect notification failed")
			}
		}
		cancel()
	}

	_ = s.conn.Close("closing")
	s.state.Store(int32(StateClosed))
	s.log.Info().Msg("session closed")
}
