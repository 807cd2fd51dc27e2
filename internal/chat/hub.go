package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/omochice/chat-relay/pkg/protocol"
)

// Hub holds the process-wide shared state: the set of all live connections
// and the registry mapping logged-in usernames to their connections. A single
// mutex serializes inserts, removals, and enumerations so concurrent logins,
// teardowns, and broadcasts never observe a half-updated view.
type Hub struct {
	log   zerolog.Logger
	mu    sync.RWMutex
	conns map[*Client]struct{}
	users map[string]*Client
}

// NewHub creates an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:   log.With().Str("component", "hub").Logger(),
		conns: make(map[*Client]struct{}),
		users: make(map[string]*Client),
	}
}

// Register adds a freshly accepted connection to the connection set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

// Login claims name for c. It returns false if the name is already taken,
// leaving the registry unchanged. Check and insert happen under one lock so
// two racing logins for the same name can never both succeed.
func (h *Hub) Login(name string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, taken := h.users[name]; taken {
		return false
	}
	h.users[name] = c
	return true
}

// Remove drops c from the connection set and, when it owns a registry entry,
// from the registry. Safe to call for a connection that was never registered
// or already removed. Updated aggregate counts are reported afterwards.
func (h *Hub) Remove(c *Client, username string) {
	h.mu.Lock()
	delete(h.conns, c)
	if username != "" && h.users[username] == c {
		delete(h.users, username)
	}
	conns, users := len(h.conns), len(h.users)
	h.mu.Unlock()

	h.log.Info().
		Str("user", username).
		Int("connections", conns).
		Int("users", users).
		Msg("connection removed")
}

// BroadcastFrom relays text from the named sender: the sender's own entry
// receives a confirmation carrying the original text, every other registered
// user receives the relayed broadcast. Delivery is attempted for every entry
// present when the call takes its snapshot; a send failure on one connection
// is that connection's problem, not the broadcaster's.
func (h *Hub) BroadcastFrom(sender *Client, name, text string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users))
	for _, c := range h.users {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c == sender {
			c.send(protocol.OKBroadcast(text))
			continue
		}
		c.send(protocol.Broadcast(name, text))
	}
}

// ConnCount returns the number of live connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// UserCount returns the number of logged-in users.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// PublishCounts logs the current aggregate counts.
func (h *Hub) PublishCounts() {
	h.mu.RLock()
	conns, users := len(h.conns), len(h.users)
	h.mu.RUnlock()
	h.log.Info().
		Int("connections", conns).
		Int("users", users).
		Msg("aggregate counts")
}

// CloseAll notifies and force-closes every live connection. Used on server
// shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.disconnect(protocol.ReasonShutdown)
	}
}
