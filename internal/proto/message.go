package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message kinds on the wire.
const (
	KindJoin       = "join"
	KindLeave      = "leave"
	KindMessage    = "message"
	KindDisconnect = "disconnect"
)

// Message is one event variant as clients send it. A plain text frame is
// shorthand for a single KindMessage; a binary frame carries a JSON array
// of these.
type Message struct {
	Kind string     `json:"kind"`
	Text string     `json:"text,omitempty"`
	At   *time.Time `json:"at,omitempty"`
}

// User identifies the event's attributed user in a response.
type User struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Room identifies the room a response belongs to.
type Room struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

// Response is one outbound event. Outbound frames are always binary JSON
// arrays of these: history replay is one batch with all backfilled
// messages, live events are one-element batches.
type Response struct {
	User    User    `json:"user"`
	Room    *Room   `json:"room,omitempty"`
	Message Message `json:"message"`
}

// DecodeMessages parses an inbound binary frame.
func DecodeMessages(data []byte) ([]Message, error) {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	for i, m := range msgs {
		switch m.Kind {
		case KindJoin, KindLeave, KindMessage, KindDisconnect:
		default:
			return nil, fmt.Errorf("decode messages: unknown kind %q at %d", m.Kind, i)
		}
	}
	return msgs, nil
}

// EncodeBatch serializes one outbound batch.
func EncodeBatch(rs []Response) ([]byte, error) {
	if rs == nil {
		rs = []Response{}
	}
	data, err := json.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}
