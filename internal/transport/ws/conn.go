// Package ws provides the WebSocket transport adapter for the chat server,
// built on gobwas/ws. WebSocket clients speak the same text-line protocol
// inside text frames.
package ws

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts an upgraded WebSocket net.Conn to the chat.Conn interface.
type Conn struct {
	conn net.Conn
}

// NewConn wraps a net.Conn on which the WebSocket handshake has already
// completed.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Read implements chat.Conn.
// Returns the payload of the next text frame. A frame without a trailing
// line terminator is treated as a complete line, so browser clients may send
// one command per frame without appending a newline themselves.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	data, err := wsutil.ReadClientText(c.conn)
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return nil, io.EOF
		}
		return nil, err
	}
	if n := len(data); n > 0 && data[n-1] != '\n' && data[n-1] != '\r' {
		data = append(data, '\n')
	}
	return data, nil
}

// Write implements chat.Conn.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	return wsutil.WriteServerText(c.conn, data)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, nil)
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
