package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLocalCallRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	defer l.Close()

	id := uuid.New()
	err := l.Announce(KindRoom, id, func(_ context.Context, op string, payload []byte) ([]byte, error) {
		if op != "echo" {
			t.Errorf("unexpected op %q", op)
		}
		return payload, nil
	})
	if err != nil {
		t.Fatalf("announce: %v", err)
	}

	reply, err := l.Call(ctx, KindRoom, id, "echo", []byte("ping"))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(reply) != "ping" {
		t.Fatalf("got reply %q", reply)
	}
}

func TestLocalCallUnknownIDIsNotOwned(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	defer l.Close()

	if _, err := l.Call(ctx, KindRoom, uuid.New(), "echo", nil); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned, got %v", err)
	}
}

func TestLocalWithdrawReleasesOwnership(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	defer l.Close()

	id := uuid.New()
	if err := l.Announce(KindUser, id, func(context.Context, string, []byte) ([]byte, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("announce: %v", err)
	}

	l.Withdraw(KindUser, id)
	if _, err := l.Call(ctx, KindUser, id, "bind", nil); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned after withdraw, got %v", err)
	}

	// Withdrawing again is a no-op.
	l.Withdraw(KindUser, id)
}

func TestLocalKindsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	defer l.Close()

	id := uuid.New()
	if err := l.Announce(KindRoom, id, func(context.Context, string, []byte) ([]byte, error) {
		return []byte("room"), nil
	}); err != nil {
		t.Fatalf("announce room: %v", err)
	}
	if err := l.Announce(KindUser, id, func(context.Context, string, []byte) ([]byte, error) {
		return []byte("user"), nil
	}); err != nil {
		t.Fatalf("announce user: %v", err)
	}

	reply, err := l.Call(ctx, KindRoom, id, "whoami", nil)
	if err != nil {
		t.Fatalf("call room: %v", err)
	}
	if string(reply) != "room" {
		t.Fatalf("room call answered by %q", reply)
	}
	reply, err = l.Call(ctx, KindUser, id, "whoami", nil)
	if err != nil {
		t.Fatalf("call user: %v", err)
	}
	if string(reply) != "user" {
		t.Fatalf("user call answered by %q", reply)
	}
}

func TestLocalCastFiresHandler(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	id := uuid.New()
	got := make(chan []byte, 1)
	if err := l.Announce(KindSink, id, func(_ context.Context, _ string, payload []byte) ([]byte, error) {
		got <- payload
		return nil, nil
	}); err != nil {
		t.Fatalf("announce: %v", err)
	}

	if err := l.Cast(KindSink, id, "deliver", []byte("notice")); err != nil {
		t.Fatalf("cast: %v", err)
	}
	select {
	case payload := <-got:
		if string(payload) != "notice" {
			t.Fatalf("got payload %q", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never fired")
	}

	if err := l.Cast(KindSink, uuid.New(), "deliver", nil); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned, got %v", err)
	}
}

func TestLocalNothingIsRemote(t *testing.T) {
	l := NewLocal()
	defer l.Close()

	if l.Remote(context.Background(), KindRoom, uuid.New()) {
		t.Fatal("a single-node transport must never report remote ownership")
	}
}
