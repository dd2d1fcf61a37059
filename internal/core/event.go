package core

import (
	"time"

	"github.com/vovakirdan/actorchat-server/internal/store"
)

// Notice is what a broadcast delivers to each participant: one chat event
// plus the static user and room data needed to render it. Seq is the event
// log sequence number; notices for one room arrive in Seq order.
type Notice struct {
	Seq  int64           `json:"seq"`
	Room store.Room      `json:"room"`
	User store.User      `json:"user"`
	Kind store.EventKind `json:"kind"`
	Text string          `json:"text,omitempty"`
	At   time.Time       `json:"at"`
}
