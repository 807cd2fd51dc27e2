package chat

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/chat-relay/pkg/protocol"
)

type state int

const (
	stateUnidentified state = iota
	stateIdentified
	stateClosed
)

// Client is the per-connection protocol state machine. It owns the inbound
// read path, the framer, the identity state, and the heartbeat timers; the
// hub holds non-owning references to it. All connection-local state is
// mutated only by the connection's own read loop and its own timers.
type Client struct {
	conn Conn
	hub  *Hub
	cfg  Config
	log  zerolog.Logger

	framer   *LineFramer
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	state    state
	username string
	hb       *heartbeat
}

// NewClient wraps an accepted connection. The caller registers it with the
// hub and then calls Run.
func NewClient(conn Conn, hub *Hub, cfg Config, log zerolog.Logger) *Client {
	return &Client{
		conn:     conn,
		hub:      hub,
		cfg:      cfg,
		log:      log.With().Str("remote", conn.RemoteAddr()).Logger(),
		framer:   NewLineFramer(cfg.MaxLineLength),
		outgoing: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

// Run drives the connection until it closes: announces INIT, then reads
// chunks, frames them into lines, and dispatches each. It returns after
// teardown has completed.
func (c *Client) Run() {
	go c.writeLoop()
	c.send(protocol.Init(c.cfg.Welcome))
	c.readLoop()
}

// Username returns the connection's identity, empty until login succeeds.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Client) readLoop() {
	for {
		chunk, err := c.conn.Read(context.Background())
		if err != nil {
			if !c.closed() {
				if errors.Is(err, io.EOF) {
					c.log.Info().Msg("peer disconnected without QUIT")
				} else {
					c.log.Warn().Err(err).Msg("read failed")
				}
			}
			c.forceClose()
			return
		}

		lines, ferr := c.framer.Push(chunk)
		for _, line := range lines {
			c.dispatch(line)
		}
		if ferr != nil {
			c.log.Warn().Int("pending", c.framer.Pending()).Msg("pending buffer overflow")
			c.disconnect(protocol.ReasonUnterminated)
			return
		}
	}
}

func (c *Client) dispatch(line string) {
	if c.closed() {
		return
	}
	c.log.Debug().Str("dir", "recv").Str("line", line).Msg("line")

	cmd, payload := protocol.ParseCommand(line)
	switch cmd {
	case protocol.CmdIdent:
		c.handleIdent(payload)
	case protocol.CmdBroadcast:
		c.handleBroadcast(payload)
	case protocol.CmdPong:
		c.handlePong()
	case protocol.CmdQuit:
		c.send(protocol.OKGoodbye())
		c.forceClose()
	default:
		c.send(protocol.FailUnknownCommand.Message())
	}
}

// handleIdent checks the login preconditions in order; the first failing one
// wins and leaves all state unchanged.
func (c *Client) handleIdent(name string) {
	c.mu.Lock()
	identified := c.state == stateIdentified
	c.mu.Unlock()

	if identified {
		c.send(protocol.FailAlreadyLoggedIn.Message())
		return
	}
	if !protocol.ValidUsername(name) {
		c.send(protocol.FailBadName.Message())
		return
	}
	if !c.hub.Login(name, c) {
		c.send(protocol.FailNameTaken.Message())
		return
	}

	c.mu.Lock()
	if c.state == stateClosed {
		// Teardown raced the login and already ran with no username to
		// remove; release the just-claimed name instead of completing.
		c.mu.Unlock()
		c.hub.Remove(c, name)
		return
	}
	c.username = name
	c.state = stateIdentified
	if c.cfg.HeartbeatEnabled {
		c.hb = newHeartbeat(c.cfg.HeartbeatInterval, c.cfg.PongTimeout, c.sendPing, c.pongExpired)
		c.hb.start()
	}
	c.mu.Unlock()

	c.log.Info().Str("user", name).Msg("user logged in")
	c.send(protocol.OKIdent(name))
	c.hub.PublishCounts()
}

func (c *Client) handleBroadcast(text string) {
	c.mu.Lock()
	identified := c.state == stateIdentified
	name := c.username
	c.mu.Unlock()

	if !identified {
		c.send(protocol.FailNotLoggedIn.Message())
		return
	}
	c.hub.BroadcastFrom(c, name, text)
}

func (c *Client) handlePong() {
	c.mu.Lock()
	hb := c.hb
	c.mu.Unlock()

	if hb != nil {
		ok, late := hb.pong()
		if ok || late {
			// A pong arriving after its deadline fired lands on a
			// connection that is already closing; replying would race the
			// DSCN notice.
			return
		}
	}
	c.send(protocol.FailUnexpectedPong.Message())
}

func (c *Client) sendPing() {
	c.send(protocol.CmdPing)
}

func (c *Client) pongExpired() {
	c.log.Warn().Str("user", c.Username()).Msg("heartbeat failure, no pong before deadline")
	c.disconnect(protocol.ReasonPongTimeout)
}

// disconnect notifies the peer and force-closes. Used for resource, liveness,
// and shutdown failures.
func (c *Client) disconnect(reason string) {
	c.send(protocol.Disconnect(reason))
	c.forceClose()
}

// forceClose is the single teardown path every failure mode converges on:
// cancel the heartbeat timers, release the writer, drop the hub references.
// It runs exactly once no matter how many triggers race.
func (c *Client) forceClose() {
	c.once.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		name := c.username
		hb := c.hb
		c.mu.Unlock()

		if hb != nil {
			hb.halt()
		}
		close(c.done)
		c.hub.Remove(c, name)
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// send enqueues one outbound line. Writes are fire-and-forget best-effort: a
// full buffer drops the message rather than blocking the caller, and write
// errors surface through the close path.
func (c *Client) send(msg string) {
	if c.closed() {
		return
	}
	c.log.Debug().Str("dir", "send").Str("line", msg).Msg("line")
	select {
	case c.outgoing <- []byte(msg + "\n"):
	default:
		c.log.Warn().Msg("outgoing buffer full, dropping message")
	}
}

// writeLoop owns the transport's write side and its final Close. After the
// connection is torn down it flushes whatever was queued beforehand (the
// DSCN notice in particular) and then releases the transport, which also
// unblocks the read loop.
func (c *Client) writeLoop() {
	defer func() { _ = c.conn.Close() }()
	for {
		select {
		case data := <-c.outgoing:
			if err := c.conn.Write(context.Background(), data); err != nil {
				c.log.Warn().Err(err).Msg("write failed")
				c.forceClose()
				return
			}
		case <-c.done:
			for {
				select {
				case data := <-c.outgoing:
					if err := c.conn.Write(context.Background(), data); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
