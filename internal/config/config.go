package config

import (
	"os"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	// NodeName identifies this node in cluster logs and probe replies.
	NodeName string `mapstructure:"node_name" yaml:"node_name"`
	// NATSURL enables the NATS cluster transport; empty runs single-node.
	NATSURL string `mapstructure:"nats_url" yaml:"nats_url"`

	// TicketSecret signs websocket connect tickets. Empty disables ticket
	// auth: the handshake then takes user_id/room_id directly.
	TicketSecret string        `mapstructure:"ticket_secret" yaml:"ticket_secret"`
	TicketTTL    time.Duration `mapstructure:"ticket_ttl" yaml:"ticket_ttl"`

	// IdleEvictionGrace is how long a room or user actor may sit with no
	// participants or bindings before evicting itself.
	IdleEvictionGrace time.Duration `mapstructure:"idle_eviction_grace" yaml:"idle_eviction_grace"`
	// SendBuffer is the per-connection outbound notice buffer; overflow is
	// dropped rather than blocking broadcasts.
	SendBuffer int `mapstructure:"send_buffer" yaml:"send_buffer"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "actorchat"
	}
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "actorchat.db",
		LogLevel:          "info",
		LogFormat:         "console",
		NodeName:          host,
		TicketTTL:         time.Hour,
		IdleEvictionGrace: 30 * time.Second,
		SendBuffer:        32,
	}
}
