package cluster

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Kind names a class of logical actors addressed through the transport.
type Kind string

const (
	KindRoom Kind = "room"
	KindUser Kind = "user"
	// KindSink addresses one connection's outbound sink, so a user actor on
	// another node can deliver to it.
	KindSink Kind = "sink"
)

// ErrNotOwned is returned by Call/Cast when no node in the cluster currently
// owns the addressed actor.
var ErrNotOwned = errors.New("cluster: actor not owned by any node")

// ErrAlreadyOwned is returned by Announce when another node already serves
// the id. The announce is rolled back and may be retried; by then calls
// route to the surviving owner.
var ErrAlreadyOwned = errors.New("cluster: actor already owned by another node")

// Handler serves operations addressed to a locally owned actor. The payload
// and reply are opaque to the transport.
type Handler func(ctx context.Context, op string, payload []byte) ([]byte, error)

// Transport is the cluster messaging primitive the directory builds on:
// reliable at-least-once delivery to a logical id, with the cluster-wide
// single-instance guarantee delegated to the underlying implementation.
// Membership, discovery and failure detection are its concern, not ours.
type Transport interface {
	// Announce claims ownership of the id and installs its operation handler.
	Announce(kind Kind, id uuid.UUID, h Handler) error
	// Withdraw releases ownership. Safe to call for an unannounced id.
	Withdraw(kind Kind, id uuid.UUID)
	// Remote reports whether the id is owned by another node.
	Remote(ctx context.Context, kind Kind, id uuid.UUID) bool
	// Call sends a request/reply operation to the owning node.
	Call(ctx context.Context, kind Kind, id uuid.UUID, op string, payload []byte) ([]byte, error)
	// Cast sends a fire-and-forget operation to the owning node.
	Cast(kind Kind, id uuid.UUID, op string, payload []byte) error

	Close() error
}

// Local is a single-node transport: every actor is owned here, nothing is
// ever remote. It is the default when no cluster is configured and the
// backing for tests.
type Local struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLocal builds an in-process transport.
func NewLocal() *Local {
	return &Local{handlers: make(map[string]Handler)}
}

func key(kind Kind, id uuid.UUID) string {
	return string(kind) + ":" + id.String()
}

func (l *Local) Announce(kind Kind, id uuid.UUID, h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[key(kind, id)] = h
	return nil
}

func (l *Local) Withdraw(kind Kind, id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, key(kind, id))
}

func (l *Local) Remote(context.Context, Kind, uuid.UUID) bool {
	return false
}

func (l *Local) Call(ctx context.Context, kind Kind, id uuid.UUID, op string, payload []byte) ([]byte, error) {
	l.mu.RLock()
	h, ok := l.handlers[key(kind, id)]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrNotOwned
	}
	return h(ctx, op, payload)
}

func (l *Local) Cast(kind Kind, id uuid.UUID, op string, payload []byte) error {
	l.mu.RLock()
	h, ok := l.handlers[key(kind, id)]
	l.mu.RUnlock()
	if !ok {
		return ErrNotOwned
	}
	go h(context.Background(), op, payload) //nolint:errcheck // fire-and-forget
	return nil
}

func (l *Local) Close() error {
	return nil
}
