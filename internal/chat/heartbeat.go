package chat

import (
	"sync"
	"time"
)

// heartbeat runs the per-connection liveness protocol: every interval it
// calls ping and arms a one-shot pong deadline; a pong received in time
// disarms it, otherwise expire fires. At most one deadline is outstanding at
// any instant (Config.Validate guarantees interval > timeout, so a tick never
// fires while the previous deadline is still armed).
type heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	ping     func()
	expire   func()

	mu       sync.Mutex
	awaiting bool
	lapsed   bool
	deadline *time.Timer

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newHeartbeat(interval, timeout time.Duration, ping, expire func()) *heartbeat {
	return &heartbeat{
		interval: interval,
		timeout:  timeout,
		ping:     ping,
		expire:   expire,
		stop:     make(chan struct{}),
	}
}

// start launches the ping loop. Called once, right after a successful login.
func (h *heartbeat) start() {
	h.wg.Add(1)
	go h.run()
}

func (h *heartbeat) run() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.mu.Lock()
			h.awaiting = true
			h.deadline = time.AfterFunc(h.timeout, h.expired)
			h.mu.Unlock()
			h.ping()
		case <-h.stop:
			return
		}
	}
}

func (h *heartbeat) expired() {
	h.mu.Lock()
	if !h.awaiting {
		h.mu.Unlock()
		return
	}
	h.awaiting = false
	h.lapsed = true
	h.deadline = nil
	h.mu.Unlock()
	h.expire()
}

// pong records a received pong. ok is false when no ping is outstanding; late
// additionally distinguishes a pong that arrived after the deadline fired and
// the connection is already on its way down from one that was never solicited.
func (h *heartbeat) pong() (ok, late bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.awaiting {
		return false, h.lapsed
	}
	h.awaiting = false
	if h.deadline != nil {
		h.deadline.Stop()
		h.deadline = nil
	}
	return true, false
}

// halt cancels both timers and stops the ping loop. Idempotent.
func (h *heartbeat) halt() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.mu.Lock()
		if h.deadline != nil {
			h.deadline.Stop()
			h.deadline = nil
		}
		h.awaiting = false
		h.mu.Unlock()
	})
	h.wg.Wait()
}
