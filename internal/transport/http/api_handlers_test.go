package http

import (
	"bytes"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/actorchat-server/internal/auth"
	"github.com/vovakirdan/actorchat-server/internal/cluster"
	"github.com/vovakirdan/actorchat-server/internal/config"
	"github.com/vovakirdan/actorchat-server/internal/core"
	"github.com/vovakirdan/actorchat-server/internal/store/sqlite"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

// newTestServer stands up the full HTTP surface over a throwaway database.
func newTestServer(t *testing.T, tickets *auth.TicketConfig) *httptest.Server {
	t.Helper()

	st, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	transport := cluster.NewLocal()
	dir := core.NewDirectory(transport, st, time.Minute, testLogger())
	t.Cleanup(func() { dir.Close() })
	mgr := core.NewManager(st, dir, transport, 32, testLogger())

	if tickets == nil {
		tickets = &auth.TicketConfig{}
	}
	srv := NewServer(mgr, tickets, config.Config{Addr: "127.0.0.1:0"}, testLogger())

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *stdhttp.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := stdhttp.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *stdhttp.Response) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := stdhttp.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestCreateUser(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts, "/api/users", CreateUserRequest{Name: "alice"})
	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	user := decodeJSON[UserResponse](t, resp)
	if user.Name != "alice" || user.ID == uuid.Nil {
		t.Fatalf("got %+v", user)
	}
}

func TestCreateUserValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts, "/api/users", map[string]string{})
	if resp.StatusCode != stdhttp.StatusBadRequest {
		t.Fatalf("empty name accepted: status %d", resp.StatusCode)
	}
}

func TestCreateRoom(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts, "/api/rooms", CreateRoomRequest{Name: "general", Description: "hello"})
	if resp.StatusCode != stdhttp.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	room := decodeJSON[RoomResponse](t, resp)
	if room.Name != "general" || room.Description != "hello" || room.ID == uuid.Nil {
		t.Fatalf("got %+v", room)
	}
}

func TestSearchRooms(t *testing.T) {
	ts := newTestServer(t, nil)

	postJSON(t, ts, "/api/rooms", CreateRoomRequest{Name: "golang"})
	postJSON(t, ts, "/api/rooms", CreateRoomRequest{Name: "music"})

	resp, err := stdhttp.Get(ts.URL + "/api/rooms/search?query=go")
	if err != nil {
		t.Fatalf("GET search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	rooms := decodeJSON[[]RoomResponse](t, resp)
	if len(rooms) != 1 || rooms[0].Name != "golang" {
		t.Fatalf("got %+v", rooms)
	}
}

func TestConnectDisabledWithoutSecret(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postJSON(t, ts, "/api/connect", ConnectRequest{UserID: uuid.New(), RoomID: uuid.New()})
	if resp.StatusCode != stdhttp.StatusNotImplemented {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestConnectIssuesValidTicket(t *testing.T) {
	tickets := &auth.TicketConfig{Secret: []byte("secret"), Issuer: "actorchat", TTL: time.Minute}
	ts := newTestServer(t, tickets)

	user := decodeJSON[UserResponse](t, postJSON(t, ts, "/api/users", CreateUserRequest{Name: "alice"}))
	room := decodeJSON[RoomResponse](t, postJSON(t, ts, "/api/rooms", CreateRoomRequest{Name: "general"}))

	resp := postJSON(t, ts, "/api/connect", ConnectRequest{UserID: user.ID, RoomID: room.ID})
	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	out := decodeJSON[ConnectResponse](t, resp)

	claims, err := auth.ValidateTicket(tickets, out.Ticket)
	if err != nil {
		t.Fatalf("issued ticket invalid: %v", err)
	}
	if claims.UserID != user.ID || claims.RoomID != room.ID {
		t.Fatalf("ticket identity %s/%s", claims.UserID, claims.RoomID)
	}
}

func TestConnectUnknownIdentity(t *testing.T) {
	tickets := &auth.TicketConfig{Secret: []byte("secret"), Issuer: "actorchat", TTL: time.Minute}
	ts := newTestServer(t, tickets)

	user := decodeJSON[UserResponse](t, postJSON(t, ts, "/api/users", CreateUserRequest{Name: "alice"}))
	room := decodeJSON[RoomResponse](t, postJSON(t, ts, "/api/rooms", CreateRoomRequest{Name: "general"}))

	resp := postJSON(t, ts, "/api/connect", ConnectRequest{UserID: uuid.New(), RoomID: room.ID})
	if resp.StatusCode != stdhttp.StatusNotFound {
		t.Fatalf("unknown user: status %d", resp.StatusCode)
	}

	resp = postJSON(t, ts, "/api/connect", ConnectRequest{UserID: user.ID, RoomID: uuid.New()})
	if resp.StatusCode != stdhttp.StatusNotFound {
		t.Fatalf("unknown room: status %d", resp.StatusCode)
	}
}
