package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/actorchat-server/internal/cluster"
)

// flakyTransport fails Announce on demand to exercise factory failures.
type flakyTransport struct {
	*cluster.Local

	mu          sync.Mutex
	announceErr error
}

func (f *flakyTransport) Announce(kind cluster.Kind, id uuid.UUID, h cluster.Handler) error {
	f.mu.Lock()
	err := f.announceErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Local.Announce(kind, id, h)
}

func (f *flakyTransport) fail(err error) {
	f.mu.Lock()
	f.announceErr = err
	f.mu.Unlock()
}

func TestDirectorySingleFlightCreation(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(time.Minute)
	defer dir.Close()

	room := testRoom()

	const callers = 32
	handles := make([]RoomHandle, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			h, err := dir.Room(ctx, room)
			if err != nil {
				t.Errorf("resolve %d: %v", i, err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	// Exactly one instance: every caller got the same actor.
	for i := 1; i < callers; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
}

func TestDirectoryUserSingleFlightCreation(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(time.Minute)
	defer dir.Close()

	user := testUser("alice")

	const callers = 32
	handles := make([]UserHandle, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			h, err := dir.User(ctx, user)
			if err != nil {
				t.Errorf("resolve %d: %v", i, err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
}

func TestDirectoryFactoryFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	transport := &flakyTransport{Local: cluster.NewLocal()}
	dir := NewDirectory(transport, &memLog{}, time.Minute, testLogger())
	defer dir.Close()

	room := testRoom()

	transport.fail(errors.New("network down"))
	if _, err := dir.Room(ctx, room); !errors.Is(err, ErrActorCreationFailed) {
		t.Fatalf("expected ErrActorCreationFailed, got %v", err)
	}

	// The id stays resolvable: the next attempt succeeds.
	transport.fail(nil)
	h, err := dir.Room(ctx, room)
	if err != nil {
		t.Fatalf("resolve after failure: %v", err)
	}
	if h == nil {
		t.Fatal("expected a handle")
	}
}

func TestDirectoryLostClaimResolvesRemote(t *testing.T) {
	ctx := context.Background()
	transport := &flakyTransport{Local: cluster.NewLocal()}
	dir := NewDirectory(transport, &memLog{}, time.Minute, testLogger())
	defer dir.Close()

	room := testRoom()

	// Another node won the claim race. Resolution forwards instead of failing.
	transport.fail(cluster.ErrAlreadyOwned)
	h, err := dir.Room(ctx, room)
	if err != nil {
		t.Fatalf("resolve after lost claim: %v", err)
	}
	if _, ok := h.(*remoteRoom); !ok {
		t.Fatalf("expected a forwarding handle, got %T", h)
	}

	uh, err := dir.User(ctx, testUser("alice"))
	if err != nil {
		t.Fatalf("resolve user after lost claim: %v", err)
	}
	if _, ok := uh.(*remoteUser); !ok {
		t.Fatalf("expected a forwarding handle, got %T", uh)
	}
}

func TestDirectoryEvictIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(time.Minute)
	defer dir.Close()

	// Eviction of an id with no instance is a no-op.
	dir.EvictRoom(uuid.New())
	dir.EvictUser(uuid.New())

	room := testRoom()
	h, err := dir.Room(ctx, room)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	dir.EvictRoom(room.ID)
	dir.EvictRoom(room.ID)

	if err := h.PostMessage(ctx, uuid.New(), "x"); !errors.Is(err, ErrActorGone) {
		t.Fatalf("expected ErrActorGone after eviction, got %v", err)
	}
}

func TestDirectoryResolveReturnsRunningInstance(t *testing.T) {
	ctx := context.Background()
	dir, _ := newTestDirectory(time.Minute)
	defer dir.Close()

	room := testRoom()
	h1, _ := dir.Room(ctx, room)
	h2, _ := dir.Room(ctx, room)
	if h1 != h2 {
		t.Fatal("sequential resolutions must return the same instance")
	}
}
