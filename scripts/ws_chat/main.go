package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"

	"github.com/vovakirdan/actorchat-server/internal/proto"
)

// ws_chat is an interactive terminal client: connect with existing user and
// room ids, type lines to send, /leave to leave deliberately.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	userID := flag.String("user-id", "", "user id (required)")
	roomID := flag.String("room-id", "", "room id (required)")
	flag.Parse()

	if *userID == "" || *roomID == "" {
		return errors.New("both -user-id and -room-id are required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr+"?user_id="+*userID+"&room_id="+*roomID, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	go func() {
		defer cancel()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("read: %v", err)
				}
				return
			}

			var batch []proto.Response
			if err := json.Unmarshal(data, &batch); err != nil {
				log.Printf("decode: %v", err)
				continue
			}
			for _, r := range batch {
				switch r.Message.Kind {
				case proto.KindMessage:
					fmt.Printf("[%s] %s\n", r.User.Name, r.Message.Text)
				default:
					fmt.Printf("* %s %s\n", r.User.Name, r.Message.Kind)
				}
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if line == "/leave" {
			payload, _ := json.Marshal([]proto.Message{{Kind: proto.KindLeave}})
			if err := conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
				return fmt.Errorf("send leave: %w", err)
			}
			return nil
		}
		if err := conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("send: %w", err)
		}
	}
	return scanner.Err()
}
