package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/actorchat-server/internal/proto"
)

// ws_smoke creates a throwaway user and room over the REST API, connects to
// the room and posts one message, printing everything the server sends back.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	user := flag.String("user", "tester", "username to register")
	room := flag.String("room", "general", "room name to create")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	userID, err := createResource(ctx, *addr+"/api/users", map[string]string{"name": *user})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	roomID, err := createResource(ctx, *addr+"/api/rooms", map[string]string{"name": *room})
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}

	wsAddr := "ws" + strings.TrimPrefix(*addr, "http") + "/ws?user_id=" + userID + "&room_id=" + roomID
	conn, _, err := websocket.Dial(ctx, wsAddr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	// First frame is the history backfill.
	if _, data, err := conn.Read(ctx); err != nil {
		return fmt.Errorf("read history: %w", err)
	} else {
		fmt.Printf("history: %s\n", data)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(*text)); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var batch []proto.Response
		if err := json.Unmarshal(data, &batch); err != nil {
			return fmt.Errorf("decode: %w", err)
		}
		for _, r := range batch {
			fmt.Printf("event: kind=%s user=%s", r.Message.Kind, r.User.Name)
			if r.Message.Text != "" {
				fmt.Printf(" text=%q", r.Message.Text)
			}
			fmt.Println()
			if r.Message.Kind == proto.KindMessage && r.Message.Text == *text {
				fmt.Println("smoke test OK")
				return nil
			}
		}
	}
}

func createResource(ctx context.Context, url string, body map[string]string) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}
