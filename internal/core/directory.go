package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/actorchat-server/internal/cluster"
	"github.com/vovakirdan/actorchat-server/internal/store"
)

// Directory gives every room and every user exactly one live actor across
// the cluster. Resolution is get-or-create: if the id runs locally the
// concrete actor is returned, if it runs on another node a forwarding handle
// is returned, and otherwise exactly one caller wins the creation race.
// Creation is deduplicated with singleflight; a factory failure is reported
// to all waiters and the id becomes resolvable again on the next call.
// The cluster-wide single-instance guarantee itself belongs to the
// transport; this layer only adds local dedup and lifecycle.
type Directory struct {
	transport cluster.Transport
	events    store.EventLog
	grace     time.Duration
	log       *zerolog.Logger

	flight singleflight.Group

	mu    sync.RWMutex
	rooms map[uuid.UUID]*RoomActor
	users map[uuid.UUID]*UserActor
}

// NewDirectory builds a directory on the given transport. grace is how long
// an actor may stay idle (no participants, no bindings) before it evicts
// itself.
func NewDirectory(t cluster.Transport, events store.EventLog, grace time.Duration, logger *zerolog.Logger) *Directory {
	return &Directory{
		transport: t,
		events:    events,
		grace:     grace,
		log:       logger,
		rooms:     make(map[uuid.UUID]*RoomActor),
		users:     make(map[uuid.UUID]*UserActor),
	}
}

// Room resolves the room actor for info.ID, creating it if it runs nowhere.
func (d *Directory) Room(ctx context.Context, info store.Room) (RoomHandle, error) {
	d.mu.RLock()
	a := d.rooms[info.ID]
	d.mu.RUnlock()
	if a != nil {
		return a, nil
	}

	if d.transport.Remote(ctx, cluster.KindRoom, info.ID) {
		return &remoteRoom{t: d.transport, id: info.ID}, nil
	}

	v, err, _ := d.flight.Do("room:"+info.ID.String(), func() (any, error) {
		d.mu.RLock()
		a := d.rooms[info.ID]
		d.mu.RUnlock()
		if a != nil {
			return a, nil
		}

		a = newRoomActor(info, d.events, d, d.grace, d.log)
		if err := d.transport.Announce(cluster.KindRoom, info.ID, d.roomHandler(a)); err != nil {
			// Losing the claim race means another node serves the id now;
			// forward to it instead of failing the resolution.
			if errors.Is(err, cluster.ErrAlreadyOwned) {
				return RoomHandle(&remoteRoom{t: d.transport, id: info.ID}), nil
			}
			return nil, fmt.Errorf("announce room: %w", err)
		}

		d.mu.Lock()
		d.rooms[info.ID] = a
		d.mu.Unlock()

		go a.run()
		d.log.Debug().Str("room_id", info.ID.String()).Msg("room actor created")
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: room %s: %v", ErrActorCreationFailed, info.ID, err)
	}
	return v.(RoomHandle), nil
}

// User resolves the user actor for info.ID, creating it if it runs nowhere.
func (d *Directory) User(ctx context.Context, info store.User) (UserHandle, error) {
	d.mu.RLock()
	a := d.users[info.ID]
	d.mu.RUnlock()
	if a != nil {
		return a, nil
	}

	if d.transport.Remote(ctx, cluster.KindUser, info.ID) {
		return &remoteUser{t: d.transport, id: info.ID}, nil
	}

	v, err, _ := d.flight.Do("user:"+info.ID.String(), func() (any, error) {
		d.mu.RLock()
		a := d.users[info.ID]
		d.mu.RUnlock()
		if a != nil {
			return a, nil
		}

		a = newUserActor(info, d, d.grace, d.log)
		if err := d.transport.Announce(cluster.KindUser, info.ID, d.userHandler(a)); err != nil {
			if errors.Is(err, cluster.ErrAlreadyOwned) {
				return UserHandle(&remoteUser{t: d.transport, id: info.ID}), nil
			}
			return nil, fmt.Errorf("announce user: %w", err)
		}

		d.mu.Lock()
		d.users[info.ID] = a
		d.mu.Unlock()

		go a.run()
		d.log.Debug().Str("user_id", info.ID.String()).Msg("user actor created")
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %v", ErrActorCreationFailed, info.ID, err)
	}
	return v.(UserHandle), nil
}

// EvictRoom drops the local room actor instance, if any. Idempotent; safe
// for ids with no instance. Invoked by the actor itself when idle.
func (d *Directory) EvictRoom(id uuid.UUID) {
	d.mu.Lock()
	a := d.rooms[id]
	delete(d.rooms, id)
	d.mu.Unlock()
	if a == nil {
		return
	}
	d.transport.Withdraw(cluster.KindRoom, id)
	a.halt()
}

// EvictUser drops the local user actor instance, if any. Idempotent.
func (d *Directory) EvictUser(id uuid.UUID) {
	d.mu.Lock()
	a := d.users[id]
	delete(d.users, id)
	d.mu.Unlock()
	if a == nil {
		return
	}
	d.transport.Withdraw(cluster.KindUser, id)
	a.halt()
}

// Close evicts every local actor. Used on shutdown.
func (d *Directory) Close() {
	d.mu.Lock()
	rooms := d.rooms
	users := d.users
	d.rooms = make(map[uuid.UUID]*RoomActor)
	d.users = make(map[uuid.UUID]*UserActor)
	d.mu.Unlock()

	for id, a := range rooms {
		d.transport.Withdraw(cluster.KindRoom, id)
		a.halt()
	}
	for id, a := range users {
		d.transport.Withdraw(cluster.KindUser, id)
		a.halt()
	}
}
