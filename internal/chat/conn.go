// Package chat provides the core chat domain logic shared by all transports:
// line framing, the user registry, the per-connection protocol state machine,
// and the heartbeat liveness protocol.
package chat

import "context"

// Conn abstracts a bidirectional connection for both TCP and WebSocket.
// This interface isolates transport details from chat logic.
type Conn interface {
	// Read returns the next chunk of bytes from the peer. Chunks carry no
	// framing guarantees; a chunk may hold several lines or a fragment of
	// one. Returns io.EOF when the peer closes.
	Read(ctx context.Context) ([]byte, error)

	// Write sends raw bytes to the peer.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
