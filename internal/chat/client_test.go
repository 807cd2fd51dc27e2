package chat

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory chat.Conn: pushed chunks come out of Read, writes
// are captured for inspection.
type fakeConn struct {
	in chan []byte

	mu      sync.Mutex
	written strings.Builder

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-f.in:
		return chunk, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written.Write(data)
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) RemoteAddr() string { return "fake:0" }

func (f *fakeConn) push(s string) { f.in <- []byte(s) }

// lines returns the complete lines written so far.
func (f *fakeConn) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.written.String()
	if out == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(out, "\n"), "\n")
}

func (f *fakeConn) hasLine(line string) bool {
	for _, l := range f.lines() {
		if l == line {
			return true
		}
	}
	return false
}

func (f *fakeConn) hasLinePrefix(prefix string) bool {
	for _, l := range f.lines() {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatEnabled = false
	return cfg
}

// startClient wires a client to a fresh fake connection on the given hub and
// runs it. Teardown is handled via t.Cleanup.
func startClient(t *testing.T, hub *Hub, cfg Config) (*Client, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	c := NewClient(conn, hub, cfg, zerolog.Nop())
	hub.Register(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run()
	}()
	t.Cleanup(func() {
		c.forceClose()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("client did not shut down")
		}
	})

	waitFor(t, func() bool { return conn.hasLinePrefix("INIT ") })
	return c, conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 2*time.Millisecond)
}

func TestClient_InitSentOnConnect(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, conn := startClient(t, hub, testConfig())

	require.NotEmpty(t, conn.lines())
	assert.True(t, strings.HasPrefix(conn.lines()[0], "INIT "))
}

func TestClient_Login(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c, conn := startClient(t, hub, testConfig())

	conn.push("IDENT ALICE\n")
	waitFor(t, func() bool { return conn.hasLine("OK IDENT ALICE") })
	assert.Equal(t, "ALICE", c.Username())
	assert.Equal(t, 1, hub.UserCount())
}

func TestClient_LoginTwiceOnSameConnection(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, conn := startClient(t, hub, testConfig())

	conn.push("IDENT ALICE\n")
	waitFor(t, func() bool { return conn.hasLine("OK IDENT ALICE") })

	conn.push("IDENT BOB\n")
	waitFor(t, func() bool { return conn.hasLinePrefix("FAIL04") })
	assert.Equal(t, 1, hub.UserCount())
}

func TestClient_LoginNameGrammar(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"too short", "IDENT ab", "FAIL02"},
		{"too long", "IDENT abcdefghijklmno", "FAIL02"},
		{"illegal character", "IDENT bad-name", "FAIL02"},
		{"missing payload", "IDENT", "FAIL02"},
		{"valid", "IDENT Valid_1", "OK IDENT Valid_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(zerolog.Nop())
			_, conn := startClient(t, hub, testConfig())

			conn.push(tt.line + "\n")
			waitFor(t, func() bool { return conn.hasLinePrefix(tt.want) })
		})
	}
}

func TestClient_LoginNameTaken(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, conn1 := startClient(t, hub, testConfig())
	_, conn2 := startClient(t, hub, testConfig())

	conn1.push("IDENT SAME\n")
	waitFor(t, func() bool { return conn1.hasLine("OK IDENT SAME") })

	conn2.push("IDENT SAME\n")
	waitFor(t, func() bool { return conn2.hasLinePrefix("FAIL01") })
	assert.Equal(t, 1, hub.UserCount())
}

func TestClient_Broadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, connA := startClient(t, hub, testConfig())
	_, connB := startClient(t, hub, testConfig())

	connA.push("IDENT ALICE\n")
	connB.push("IDENT BOB\n")
	waitFor(t, func() bool { return connA.hasLine("OK IDENT ALICE") })
	waitFor(t, func() bool { return connB.hasLine("OK IDENT BOB") })

	connA.push("BCST hi there\n")
	waitFor(t, func() bool { return connA.hasLine("OK BCST hi there") })
	waitFor(t, func() bool { return connB.hasLine("BCST ALICE hi there") })

	// The sender gets the confirmation, not the relayed form.
	assert.False(t, connA.hasLine("BCST ALICE hi there"))
}

func TestClient_BroadcastRequiresLogin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, connA := startClient(t, hub, testConfig())
	_, connB := startClient(t, hub, testConfig())

	connB.push("IDENT BOB\n")
	waitFor(t, func() bool { return connB.hasLine("OK IDENT BOB") })

	connA.push("BCST hello\n")
	waitFor(t, func() bool { return connA.hasLinePrefix("FAIL03") })

	time.Sleep(20 * time.Millisecond)
	assert.False(t, connB.hasLinePrefix("BCST "))
}

func TestClient_UnknownCommand(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, conn := startClient(t, hub, testConfig())

	conn.push("NOPE something\n")
	waitFor(t, func() bool { return conn.hasLinePrefix("FAIL00") })

	// The connection stays open and usable.
	conn.push("IDENT ALICE\n")
	waitFor(t, func() bool { return conn.hasLine("OK IDENT ALICE") })
}

func TestClient_EmptyLine(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, conn := startClient(t, hub, testConfig())

	conn.push("\n")
	waitFor(t, func() bool { return conn.hasLinePrefix("FAIL00") })
}

func TestClient_PongWithoutPing(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	_, conn := startClient(t, hub, testConfig())

	conn.push("PONG\n")
	waitFor(t, func() bool { return conn.hasLinePrefix("FAIL05") })
}

func TestClient_Quit(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c, conn := startClient(t, hub, testConfig())

	conn.push("IDENT ALICE\n")
	waitFor(t, func() bool { return conn.hasLine("OK IDENT ALICE") })

	conn.push("QUIT\n")
	waitFor(t, func() bool { return conn.hasLine("OK Goodbye") })
	waitFor(t, func() bool { return c.closed() })
	waitFor(t, func() bool { return hub.ConnCount() == 0 && hub.UserCount() == 0 })
}

func TestClient_PendingBufferOverflow(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	cfg := testConfig()
	cfg.MaxLineLength = 16

	c, conn := startClient(t, hub, cfg)

	conn.push(strings.Repeat("x", 64))
	waitFor(t, func() bool { return conn.hasLine("DSCN Unterminated message") })
	waitFor(t, func() bool { return c.closed() })
	assert.Equal(t, 0, hub.ConnCount())
}

func TestClient_PeerDisconnectCleansUp(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c, conn := startClient(t, hub, testConfig())

	conn.push("IDENT ALICE\n")
	waitFor(t, func() bool { return conn.hasLine("OK IDENT ALICE") })
	require.Equal(t, 1, hub.ConnCount())

	conn.Close()
	waitFor(t, func() bool { return c.closed() })
	waitFor(t, func() bool { return hub.ConnCount() == 0 && hub.UserCount() == 0 })

	// A new connection can reuse the name immediately.
	_, conn2 := startClient(t, hub, testConfig())
	conn2.push("IDENT ALICE\n")
	waitFor(t, func() bool { return conn2.hasLine("OK IDENT ALICE") })
}

func TestClient_HeartbeatTimeoutDisconnects(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	cfg := testConfig()
	cfg.HeartbeatEnabled = true
	cfg.HeartbeatInterval = 40 * time.Millisecond
	cfg.PongTimeout = 20 * time.Millisecond

	c, conn := startClient(t, hub, cfg)

	conn.push("IDENT ALICE\n")
	waitFor(t, func() bool { return conn.hasLine("OK IDENT ALICE") })

	waitFor(t, func() bool { return conn.hasLine("PING") })
	waitFor(t, func() bool { return conn.hasLine("DSCN Pong timeout") })
	waitFor(t, func() bool { return c.closed() })
	assert.Equal(t, 0, hub.UserCount())
}

func TestClient_HeartbeatPongKeepsConnectionAlive(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	cfg := testConfig()
	cfg.HeartbeatEnabled = true
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.PongTimeout = 25 * time.Millisecond

	c, conn := startClient(t, hub, cfg)

	conn.push("IDENT ALICE\n")
	waitFor(t, func() bool { return conn.hasLine("OK IDENT ALICE") })

	// Answer pings for a few rounds.
	deadline := time.Now().Add(200 * time.Millisecond)
	answered := 0
	for time.Now().Before(deadline) {
		if pings := countLines(conn, "PING"); pings > answered {
			conn.push("PONG\n")
			answered = pings
		}
		time.Sleep(2 * time.Millisecond)
	}

	assert.GreaterOrEqual(t, answered, 2)
	assert.False(t, c.closed())
	assert.False(t, conn.hasLinePrefix("DSCN"))
	// No reply is sent for a timely pong.
	assert.False(t, conn.hasLinePrefix("FAIL05"))
}

func TestClient_HeartbeatNotStartedBeforeLogin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	cfg := testConfig()
	cfg.HeartbeatEnabled = true
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.PongTimeout = 10 * time.Millisecond

	c, conn := startClient(t, hub, cfg)

	time.Sleep(60 * time.Millisecond)
	assert.False(t, conn.hasLine("PING"))
	assert.False(t, c.closed())
}

func TestClient_TeardownDuringLoginReleasesName(t *testing.T) {
	// A teardown triggered off the read goroutine (write error, server
	// shutdown) can interleave with a login in progress. Whatever the
	// interleaving, the claimed name must be released and no timers left
	// running.
	for i := 0; i < 200; i++ {
		hub := NewHub(zerolog.Nop())
		cfg := testConfig()
		cfg.HeartbeatEnabled = true
		conn := newFakeConn()
		c := NewClient(conn, hub, cfg, zerolog.Nop())
		hub.Register(c)

		start := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			c.dispatch("IDENT alice")
		}()
		go func() {
			defer wg.Done()
			<-start
			c.forceClose()
		}()
		close(start)
		wg.Wait()

		require.Zerof(t, hub.UserCount(), "iteration %d left a registry entry", i)
		require.Zerof(t, hub.ConnCount(), "iteration %d left a connection entry", i)
	}
}

func TestClient_LatePongAfterDeadlineSendsNoReply(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	cfg := testConfig()
	cfg.HeartbeatEnabled = true
	conn := newFakeConn()
	c := NewClient(conn, hub, cfg, zerolog.Nop())
	hub.Register(c)

	// A deadline that fired while teardown has not yet closed the
	// connection: the pong lands in the closing window and has no effect.
	hb := newHeartbeat(time.Hour, time.Minute, func() {}, func() {})
	hb.mu.Lock()
	hb.awaiting = true
	hb.mu.Unlock()
	hb.expired()

	c.mu.Lock()
	c.state = stateIdentified
	c.username = "alice"
	c.hb = hb
	c.mu.Unlock()

	c.dispatch("PONG")
	drainOutgoing(c)
	assert.False(t, conn.hasLinePrefix("FAIL05"))
}

func countLines(conn *fakeConn, line string) int {
	n := 0
	for _, l := range conn.lines() {
		if l == line {
			n++
		}
	}
	return n
}
