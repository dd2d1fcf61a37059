package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/vovakirdan/actorchat-server/internal/cluster"
	"github.com/vovakirdan/actorchat-server/internal/store"
)

// Operation names on the cluster transport.
const (
	opRoomJoin       = "join"
	opRoomLeave      = "leave"
	opRoomDisconnect = "disconnect"
	opRoomPost       = "post"
	opRoomHistory    = "history"

	opUserBind    = "bind"
	opUserUnbind  = "unbind"
	opUserDeliver = "deliver"

	opSinkDeliver = "deliver"
)

type joinPayload struct {
	User store.User `json:"user"`
}

type memberPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

type postPayload struct {
	UserID uuid.UUID `json:"user_id"`
	Text   string    `json:"text"`
}

type bindPayload struct {
	RoomID uuid.UUID `json:"room_id"`
	SinkID uuid.UUID `json:"sink_id"`
}

type unbindReply struct {
	Owned bool `json:"owned"`
}

// mapRemoteErr restores sentinel identity for errors that crossed the wire
// as strings.
func mapRemoteErr(err error) error {
	if err == nil {
		return nil
	}
	switch err.Error() {
	case ErrNotAParticipant.Error():
		return ErrNotAParticipant
	case ErrActorGone.Error():
		return ErrActorGone
	}
	return err
}

// remoteRoom forwards RoomHandle operations to the node that owns the room.
// Callers cannot tell it apart from a local actor except by latency.
type remoteRoom struct {
	t  cluster.Transport
	id uuid.UUID
}

var _ RoomHandle = (*remoteRoom)(nil)

func (r *remoteRoom) call(ctx context.Context, op string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", op, err)
	}
	out, err := r.t.Call(ctx, cluster.KindRoom, r.id, op, data)
	return out, mapRemoteErr(err)
}

// Join forwards the user's info; the owning node resolves the user handle
// through its own directory, which routes right back here if the user actor
// lives on this node.
func (r *remoteRoom) Join(ctx context.Context, user store.User, _ UserHandle) error {
	_, err := r.call(ctx, opRoomJoin, joinPayload{User: user})
	return err
}

func (r *remoteRoom) Leave(ctx context.Context, userID uuid.UUID) error {
	_, err := r.call(ctx, opRoomLeave, memberPayload{UserID: userID})
	return err
}

func (r *remoteRoom) Disconnect(ctx context.Context, userID uuid.UUID) error {
	_, err := r.call(ctx, opRoomDisconnect, memberPayload{UserID: userID})
	return err
}

func (r *remoteRoom) PostMessage(ctx context.Context, userID uuid.UUID, text string) error {
	_, err := r.call(ctx, opRoomPost, postPayload{UserID: userID, Text: text})
	return err
}

func (r *remoteRoom) History(ctx context.Context) ([]store.Event, error) {
	out, err := r.call(ctx, opRoomHistory, struct{}{})
	if err != nil {
		return nil, err
	}
	var history []store.Event
	if err := json.Unmarshal(out, &history); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return history, nil
}

// remoteUser forwards UserHandle operations to the node that owns the user.
type remoteUser struct {
	t  cluster.Transport
	id uuid.UUID
}

var _ UserHandle = (*remoteUser)(nil)

func (u *remoteUser) Bind(ctx context.Context, roomID uuid.UUID, sink Sink) error {
	data, err := json.Marshal(bindPayload{RoomID: roomID, SinkID: sink.ID()})
	if err != nil {
		return fmt.Errorf("marshal bind: %w", err)
	}
	_, err = u.t.Call(ctx, cluster.KindUser, u.id, opUserBind, data)
	return mapRemoteErr(err)
}

func (u *remoteUser) Unbind(ctx context.Context, roomID, sinkID uuid.UUID) (bool, error) {
	data, err := json.Marshal(bindPayload{RoomID: roomID, SinkID: sinkID})
	if err != nil {
		return false, fmt.Errorf("marshal unbind: %w", err)
	}
	out, err := u.t.Call(ctx, cluster.KindUser, u.id, opUserUnbind, data)
	if err != nil {
		return false, mapRemoteErr(err)
	}
	var rep unbindReply
	if err := json.Unmarshal(out, &rep); err != nil {
		return false, fmt.Errorf("unmarshal unbind reply: %w", err)
	}
	return rep.Owned, nil
}

func (u *remoteUser) Deliver(n Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	// Fire-and-forget, matching the broadcast contract.
	_ = u.t.Cast(cluster.KindUser, u.id, opUserDeliver, data)
}

// remoteSink pushes notices to a sink announced on another node.
type remoteSink struct {
	t  cluster.Transport
	id uuid.UUID
}

var _ Sink = (*remoteSink)(nil)

func (s *remoteSink) ID() uuid.UUID { return s.id }

func (s *remoteSink) Push(n Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	_ = s.t.Cast(cluster.KindSink, s.id, opSinkDeliver, data)
}

// roomHandler serves transport operations addressed to a locally owned room.
func (d *Directory) roomHandler(a *RoomActor) cluster.Handler {
	return func(ctx context.Context, op string, payload []byte) ([]byte, error) {
		switch op {
		case opRoomJoin:
			var p joinPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, fmt.Errorf("unmarshal join: %w", err)
			}
			h, err := d.User(ctx, p.User)
			if err != nil {
				return nil, err
			}
			return nil, a.Join(ctx, p.User, h)

		case opRoomLeave:
			var p memberPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, fmt.Errorf("unmarshal leave: %w", err)
			}
			return nil, a.Leave(ctx, p.UserID)

		case opRoomDisconnect:
			var p memberPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, fmt.Errorf("unmarshal disconnect: %w", err)
			}
			return nil, a.Disconnect(ctx, p.UserID)

		case opRoomPost:
			var p postPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, fmt.Errorf("unmarshal post: %w", err)
			}
			return nil, a.PostMessage(ctx, p.UserID, p.Text)

		case opRoomHistory:
			history, err := a.History(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(history)

		default:
			return nil, fmt.Errorf("unknown room op %q", op)
		}
	}
}

// userHandler serves transport operations addressed to a locally owned user.
func (d *Directory) userHandler(a *UserActor) cluster.Handler {
	return func(ctx context.Context, op string, payload []byte) ([]byte, error) {
		switch op {
		case opUserBind:
			var p bindPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, fmt.Errorf("unmarshal bind: %w", err)
			}
			return nil, a.Bind(ctx, p.RoomID, &remoteSink{t: d.transport, id: p.SinkID})

		case opUserUnbind:
			var p bindPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, fmt.Errorf("unmarshal unbind: %w", err)
			}
			owned, err := a.Unbind(ctx, p.RoomID, p.SinkID)
			if err != nil {
				return nil, err
			}
			return json.Marshal(unbindReply{Owned: owned})

		case opUserDeliver:
			var n Notice
			if err := json.Unmarshal(payload, &n); err != nil {
				return nil, fmt.Errorf("unmarshal notice: %w", err)
			}
			a.Deliver(n)
			return nil, nil

		default:
			return nil, fmt.Errorf("unknown user op %q", op)
		}
	}
}
