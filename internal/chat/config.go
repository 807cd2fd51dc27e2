package chat

import (
	"fmt"
	"time"

	"github.com/omochice/chat-relay/pkg/protocol"
)

// Config carries the startup-time settings for the chat core. It is built
// once in main and passed by value to the server; nothing mutates it at
// runtime.
type Config struct {
	// Welcome is the text announced in the INIT line on connect.
	Welcome string

	// HeartbeatEnabled starts the ping/pong liveness protocol after login.
	HeartbeatEnabled bool

	// HeartbeatInterval is the period between PING emissions.
	HeartbeatInterval time.Duration

	// PongTimeout is how long a PONG may take before the connection is
	// presumed dead. Must be strictly less than HeartbeatInterval so a new
	// ping can never fire while a previous pong deadline is still armed.
	PongTimeout time.Duration

	// MaxLineLength caps the unterminated input a connection may buffer
	// before it is force-closed.
	MaxLineLength int
}

// DefaultConfig returns the settings the server binary uses unless flags
// override them.
func DefaultConfig() Config {
	return Config{
		Welcome:           "Welcome to chat-relay " + protocol.Version,
		HeartbeatEnabled:  true,
		HeartbeatInterval: 10 * time.Second,
		PongTimeout:       3 * time.Second,
		MaxLineLength:     1024,
	}
}

// Validate checks the invariants the heartbeat and framer rely on.
func (c Config) Validate() error {
	if c.MaxLineLength <= 0 {
		return fmt.Errorf("max line length must be positive, got %d", c.MaxLineLength)
	}
	if !c.HeartbeatEnabled {
		return nil
	}
	if c.HeartbeatInterval <= 0 || c.PongTimeout <= 0 {
		return fmt.Errorf("heartbeat interval and pong timeout must be positive")
	}
	if c.HeartbeatInterval <= c.PongTimeout {
		return fmt.Errorf("heartbeat interval %v must be greater than pong timeout %v",
			c.HeartbeatInterval, c.PongTimeout)
	}
	return nil
}
