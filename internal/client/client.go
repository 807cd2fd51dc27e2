// Package client implements a line-protocol chat client over TCP, used by
// the client binary and the integration tests.
package client

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/omochice/chat-relay/pkg/protocol"
)

// Client is a TCP chat client. Incoming server lines are delivered on the
// Lines channel; PING lines are answered with PONG automatically before
// delivery.
type Client struct {
	addr  string
	conn  net.Conn
	lines chan string

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// New creates a client for the given server address.
func New(addr string) *Client {
	return &Client{
		addr:  addr,
		lines: make(chan string, 16),
	}
}

// Connect dials the server and starts the read loop. The Lines channel is
// closed when the connection ends.
func (c *Client) Connect() error {
	conn, err := net.DialTimeout("tcp", c.addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}
	c.conn = conn
	go c.readLoop()
	return nil
}

// Send writes one protocol line to the server.
func (c *Client) Send(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return fmt.Errorf("failed to send %q: %w", line, err)
	}
	return nil
}

// Login sends the IDENT command for name.
func (c *Client) Login(name string) error {
	return c.Send(protocol.CmdIdent + " " + name)
}

// Broadcast sends text to all other logged-in users.
func (c *Client) Broadcast(text string) error {
	return c.Send(protocol.CmdBroadcast + " " + text)
}

// Quit asks the server for a clean disconnect.
func (c *Client) Quit() error {
	return c.Send(protocol.CmdQuit)
}

// Lines returns the channel of incoming server lines.
func (c *Client) Lines() <-chan string {
	return c.lines
}

// Close closes the connection. Safe to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *Client) readLoop() {
	defer close(c.lines)
	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == protocol.CmdPing {
			_ = c.Send(protocol.CmdPong)
		}
		c.lines <- line
	}
}
