package websocket

import "time"

// Config tunes the per-connection transport.
type Config struct {
	WriteQueueSize   int
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageBytes  int64
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the heartbeat and buffering defaults.
func DefaultConfig() Config {
	return Config{
		WriteQueueSize:   100,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageBytes:  128 * 1024,
		HandshakeTimeout: 10 * time.Second,
	}
}
