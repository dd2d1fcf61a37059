package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/actorchat-server/internal/store"
)

// RoomHandle is the location-transparent reference to a room actor.
// Operations on one room are strictly serialized by its mailbox; the
// serialization order equals the event log append order and the broadcast
// order seen by every participant.
type RoomHandle interface {
	// Join makes the user a participant and broadcasts the join event to
	// everyone in the room, the new participant included. Idempotent: a
	// second join of the same user is a no-op.
	Join(ctx context.Context, user store.User, h UserHandle) error
	// Leave removes the user deliberately. The leaving user does not
	// receive its own leave event.
	Leave(ctx context.Context, userID uuid.UUID) error
	// Disconnect removes the user after an ungraceful connection loss.
	Disconnect(ctx context.Context, userID uuid.UUID) error
	// PostMessage appends a message with a server-assigned timestamp and
	// broadcasts it to all participants, the sender included.
	PostMessage(ctx context.Context, userID uuid.UUID, text string) error
	// History returns the room's message events in append order. Presence
	// events are not replayed; clients rebuild presence from live events.
	History(ctx context.Context) ([]store.Event, error)
}

type participant struct {
	user     store.User
	handle   UserHandle
	joinedAt time.Time
}

type roomOpKind int

const (
	roomJoin roomOpKind = iota
	roomLeave
	roomDisconnect
	roomPost
	roomHistory
	roomIdleCheck
)

type roomOp struct {
	kind   roomOpKind
	ctx    context.Context
	user   store.User
	handle UserHandle
	userID uuid.UUID
	text   string
	gen    uint64
	reply  chan roomResult
}

type roomResult struct {
	history []store.Event
	err     error
}

// RoomActor owns one room's participant set and message ordering. All state
// is confined to the run goroutine; the mailbox is the only entry point.
type RoomActor struct {
	info   store.Room
	events store.EventLog
	dir    *Directory
	grace  time.Duration
	log    zerolog.Logger

	mailbox chan roomOp
	done    chan struct{}
	stop    sync.Once

	// run-goroutine state
	participants map[uuid.UUID]participant
	idleGen      uint64
	idleTimer    *time.Timer
}

func newRoomActor(info store.Room, events store.EventLog, dir *Directory, grace time.Duration, logger *zerolog.Logger) *RoomActor {
	return &RoomActor{
		info:         info,
		events:       events,
		dir:          dir,
		grace:        grace,
		log:          logger.With().Str("actor", "room").Str("room_id", info.ID.String()).Logger(),
		mailbox:      make(chan roomOp, 16),
		done:         make(chan struct{}),
		participants: make(map[uuid.UUID]participant),
	}
}

func (r *RoomActor) run() {
	// Empty from birth; evict if nobody joins within the grace window.
	r.scheduleIdleCheck()

	for {
		select {
		case op := <-r.mailbox:
			if !r.handle(op) {
				return
			}
		case <-r.done:
			return
		}
	}
}

func (r *RoomActor) handle(op roomOp) bool {
	switch op.kind {
	case roomJoin:
		op.reply <- roomResult{err: r.join(op.ctx, op.user, op.handle)}

	case roomLeave:
		op.reply <- roomResult{err: r.remove(op.ctx, op.userID, store.EventLeave)}

	case roomDisconnect:
		op.reply <- roomResult{err: r.remove(op.ctx, op.userID, store.EventDisconnect)}

	case roomPost:
		op.reply <- roomResult{err: r.post(op.ctx, op.userID, op.text)}

	case roomHistory:
		history, err := r.events.Messages(op.ctx, r.info.ID)
		if err != nil {
			err = fmt.Errorf("%w: read history: %v", ErrPersistence, err)
		}
		op.reply <- roomResult{history: history, err: err}

	case roomIdleCheck:
		if op.gen == r.idleGen && len(r.participants) == 0 {
			r.log.Debug().Msg("idle, evicting")
			r.dir.EvictRoom(r.info.ID)
			return false
		}
	}
	return true
}

func (r *RoomActor) join(ctx context.Context, user store.User, h UserHandle) error {
	if p, ok := r.participants[user.ID]; ok {
		// Already joined: no event, no broadcast. Refresh the handle so a
		// recreated user actor keeps receiving.
		p.handle = h
		r.participants[user.ID] = p
		return nil
	}

	seq, at, err := r.append(ctx, user.ID, store.EventJoin, "")
	if err != nil {
		return err
	}

	r.idleGen++
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	r.participants[user.ID] = participant{user: user, handle: h, joinedAt: at}

	r.broadcast(Notice{Seq: seq, Room: r.info, User: user, Kind: store.EventJoin, At: at}, uuid.Nil)
	return nil
}

func (r *RoomActor) remove(ctx context.Context, userID uuid.UUID, kind store.EventKind) error {
	p, ok := r.participants[userID]
	if !ok {
		return nil
	}

	seq, at, err := r.append(ctx, userID, kind, "")
	if err != nil {
		return err
	}

	delete(r.participants, userID)
	r.broadcast(Notice{Seq: seq, Room: r.info, User: p.user, Kind: kind, At: at}, userID)

	if len(r.participants) == 0 {
		r.scheduleIdleCheck()
	}
	return nil
}

func (r *RoomActor) post(ctx context.Context, userID uuid.UUID, text string) error {
	p, ok := r.participants[userID]
	if !ok {
		return ErrNotAParticipant
	}

	seq, at, err := r.append(ctx, userID, store.EventMessage, text)
	if err != nil {
		return err
	}

	r.broadcast(Notice{Seq: seq, Room: r.info, User: p.user, Kind: store.EventMessage, Text: text, At: at}, uuid.Nil)
	return nil
}

// append durably writes the event before anything is broadcast. The server
// clock is authoritative for timestamps.
func (r *RoomActor) append(ctx context.Context, userID uuid.UUID, kind store.EventKind, text string) (int64, time.Time, error) {
	at := time.Now().UTC()
	seq, err := r.events.Append(ctx, store.Event{
		RoomID:    r.info.ID,
		UserID:    userID,
		Kind:      kind,
		Text:      text,
		CreatedAt: at,
	})
	if err != nil {
		return 0, at, fmt.Errorf("%w: append %s: %v", ErrPersistence, kind, err)
	}
	return seq, at, nil
}

// broadcast fans the notice out to every participant except skip.
// Deliver never blocks, so one slow or unreachable user cannot stall the
// mailbox or delivery to others.
func (r *RoomActor) broadcast(n Notice, skip uuid.UUID) {
	for id, p := range r.participants {
		if id == skip {
			continue
		}
		p.handle.Deliver(n)
	}
}

func (r *RoomActor) scheduleIdleCheck() {
	r.idleGen++
	gen := r.idleGen
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(r.grace, func() {
		select {
		case r.mailbox <- roomOp{kind: roomIdleCheck, gen: gen}:
		case <-r.done:
		}
	})
}

func (r *RoomActor) halt() {
	r.stop.Do(func() { close(r.done) })
}

func (r *RoomActor) send(ctx context.Context, op roomOp) (roomResult, error) {
	if op.ctx == nil {
		op.ctx = ctx
	}
	select {
	case r.mailbox <- op:
	case <-r.done:
		return roomResult{}, ErrActorGone
	case <-ctx.Done():
		return roomResult{}, ctx.Err()
	}
	select {
	case res := <-op.reply:
		return res, res.err
	case <-r.done:
		select {
		case res := <-op.reply:
			return res, res.err
		default:
			return roomResult{}, ErrActorGone
		}
	case <-ctx.Done():
		return roomResult{}, ctx.Err()
	}
}

// Join implements RoomHandle.
func (r *RoomActor) Join(ctx context.Context, user store.User, h UserHandle) error {
	_, err := r.send(ctx, roomOp{kind: roomJoin, ctx: ctx, user: user, handle: h, reply: make(chan roomResult, 1)})
	return err
}

// Leave implements RoomHandle.
func (r *RoomActor) Leave(ctx context.Context, userID uuid.UUID) error {
	_, err := r.send(ctx, roomOp{kind: roomLeave, ctx: ctx, userID: userID, reply: make(chan roomResult, 1)})
	return err
}

// Disconnect implements RoomHandle.
func (r *RoomActor) Disconnect(ctx context.Context, userID uuid.UUID) error {
	_, err := r.send(ctx, roomOp{kind: roomDisconnect, ctx: ctx, userID: userID, reply: make(chan roomResult, 1)})
	return err
}

// PostMessage implements RoomHandle.
func (r *RoomActor) PostMessage(ctx context.Context, userID uuid.UUID, text string) error {
	_, err := r.send(ctx, roomOp{kind: roomPost, ctx: ctx, userID: userID, text: text, reply: make(chan roomResult, 1)})
	return err
}

// History implements RoomHandle.
func (r *RoomActor) History(ctx context.Context) ([]store.Event, error) {
	res, err := r.send(ctx, roomOp{kind: roomHistory, ctx: ctx, reply: make(chan roomResult, 1)})
	return res.history, err
}
