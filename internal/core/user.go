package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/actorchat-server/internal/store"
)

// Sink receives notices for one bound connection. Push must never block;
// implementations drop when the consumer cannot keep up. ID is a stable
// address so a sink can be reached from another node.
type Sink interface {
	ID() uuid.UUID
	Push(n Notice)
}

// UserHandle is the location-transparent reference to a user actor.
type UserHandle interface {
	// Bind registers (or replaces) the outbound sink for a room. Replacing
	// is how reconnection works: no unbind is required first.
	Bind(ctx context.Context, roomID uuid.UUID, sink Sink) error
	// Unbind removes the sink for a room, but only while sinkID is still
	// the bound sink. A session displaced by a reconnect, possibly through
	// another node, must not tear down its replacement's binding. Returns
	// whether the binding was removed, false meaning the caller had
	// already been displaced.
	Unbind(ctx context.Context, roomID, sinkID uuid.UUID) (bool, error)
	// Deliver routes a notice to the sink bound for its room, if any.
	// Fire-and-forget; never blocks the caller.
	Deliver(n Notice)
}

type userOpKind int

const (
	userBind userOpKind = iota
	userUnbind
	userDeliver
	userIdleCheck
)

type userOp struct {
	kind   userOpKind
	roomID uuid.UUID
	sinkID uuid.UUID
	sink   Sink
	notice Notice
	gen    uint64
	reply  chan userResult
}

type userResult struct {
	owned bool
	err   error
}

// UserActor owns one user's outbound routing across however many rooms that
// user currently has open. All state is confined to the run goroutine.
type UserActor struct {
	info  store.User
	dir   *Directory
	grace time.Duration
	log   zerolog.Logger

	mailbox chan userOp
	done    chan struct{}
	stop    sync.Once

	// run-goroutine state
	bindings  map[uuid.UUID]Sink
	idleGen   uint64
	idleTimer *time.Timer
}

func newUserActor(info store.User, dir *Directory, grace time.Duration, logger *zerolog.Logger) *UserActor {
	return &UserActor{
		info:     info,
		dir:      dir,
		grace:    grace,
		log:      logger.With().Str("actor", "user").Str("user_id", info.ID.String()).Logger(),
		mailbox:  make(chan userOp, 64),
		done:     make(chan struct{}),
		bindings: make(map[uuid.UUID]Sink),
	}
}

func (u *UserActor) run() {
	// Unbound from birth; evict if nothing binds within the grace window.
	u.scheduleIdleCheck()

	for {
		select {
		case op := <-u.mailbox:
			if !u.handle(op) {
				return
			}
		case <-u.done:
			return
		}
	}
}

// handle processes one mailbox operation. Returns false when the actor
// evicted itself.
func (u *UserActor) handle(op userOp) bool {
	switch op.kind {
	case userBind:
		u.idleGen++
		if u.idleTimer != nil {
			u.idleTimer.Stop()
			u.idleTimer = nil
		}
		u.bindings[op.roomID] = op.sink
		op.reply <- userResult{owned: true}

	case userUnbind:
		sink, ok := u.bindings[op.roomID]
		if !ok || sink.ID() != op.sinkID {
			// A newer session's bind already replaced this one. The
			// departing session must leave the live binding alone.
			op.reply <- userResult{owned: false}
			return true
		}
		delete(u.bindings, op.roomID)
		if len(u.bindings) == 0 {
			u.scheduleIdleCheck()
		}
		op.reply <- userResult{owned: true}

	case userDeliver:
		sink, ok := u.bindings[op.notice.Room.ID]
		if !ok {
			// Race between unbind and an in-flight broadcast; the
			// connection is already gone. Dropping is the contract.
			u.log.Debug().Str("room_id", op.notice.Room.ID.String()).Msg("dropped notice without sink")
			return true
		}
		sink.Push(op.notice)

	case userIdleCheck:
		if op.gen == u.idleGen && len(u.bindings) == 0 {
			u.log.Debug().Msg("idle, evicting")
			u.dir.EvictUser(u.info.ID)
			return false
		}
	}
	return true
}

func (u *UserActor) scheduleIdleCheck() {
	u.idleGen++
	gen := u.idleGen
	if u.idleTimer != nil {
		u.idleTimer.Stop()
	}
	u.idleTimer = time.AfterFunc(u.grace, func() {
		select {
		case u.mailbox <- userOp{kind: userIdleCheck, gen: gen}:
		case <-u.done:
		}
	})
}

func (u *UserActor) halt() {
	u.stop.Do(func() { close(u.done) })
}

func (u *UserActor) send(ctx context.Context, op userOp) (userResult, error) {
	select {
	case u.mailbox <- op:
	case <-u.done:
		return userResult{}, ErrActorGone
	case <-ctx.Done():
		return userResult{}, ctx.Err()
	}
	if op.reply == nil {
		return userResult{}, nil
	}
	select {
	case res := <-op.reply:
		return res, res.err
	case <-u.done:
		select {
		case res := <-op.reply:
			return res, res.err
		default:
			return userResult{}, ErrActorGone
		}
	case <-ctx.Done():
		return userResult{}, ctx.Err()
	}
}

// Bind implements UserHandle.
func (u *UserActor) Bind(ctx context.Context, roomID uuid.UUID, sink Sink) error {
	_, err := u.send(ctx, userOp{kind: userBind, roomID: roomID, sink: sink, reply: make(chan userResult, 1)})
	return err
}

// Unbind implements UserHandle.
func (u *UserActor) Unbind(ctx context.Context, roomID, sinkID uuid.UUID) (bool, error) {
	res, err := u.send(ctx, userOp{kind: userUnbind, roomID: roomID, sinkID: sinkID, reply: make(chan userResult, 1)})
	return res.owned, err
}

// Deliver implements UserHandle. Drops when the mailbox is full so a slow
// user never blocks a room broadcast.
func (u *UserActor) Deliver(n Notice) {
	select {
	case u.mailbox <- userOp{kind: userDeliver, notice: n}:
	default:
		u.log.Warn().Str("room_id", n.Room.ID.String()).Msg("mailbox full, dropped notice")
	}
}
