package httptransport

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/echovoice/pkg/dialogue"
)

// Inbound websocket commands.
type command struct {
	Action string `json:"action"`
}

type event struct {
	Type       string                 `json:"type"`
	State      *dialogue.SessionState `json:"state,omitempty"`
	Dispatched *bool                  `json:"dispatched,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// wsConn is the part of *websocket.Conn the writer loop needs.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// maxPendingReplies bounds command responses queued for one client.
const maxPendingReplies = 16

// client holds at most one undelivered state: a newer state replaces it.
// Command responses queue separately and are written first.
type client struct {
	conn   wsConn
	signal chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	latest  []byte
	replies [][]byte
	closed  atomic.Bool
}

func newClient(conn wsConn) *client {
	return &client{conn: conn, signal: make(chan struct{}, 1), done: make(chan struct{})}
}

func (c *client) enqueue(ev event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return
	}
	if ev.Type == "state" {
		c.latest = b
	} else if len(c.replies) < maxPendingReplies {
		c.replies = append(c.replies, b)
	}
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *client) loop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.signal:
		}
		c.mu.Lock()
		replies, state := c.replies, c.latest
		c.replies, c.latest = nil, nil
		c.mu.Unlock()

		for _, msg := range replies {
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
		if state != nil {
			if err := c.conn.WriteMessage(websocket.TextMessage, state); err != nil {
				return
			}
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
	c.mu.Unlock()
	_ = c.conn.Close()
}

// handleEvents upgrades to a websocket that receives the session state on
// connect and after every change, and accepts start/stop/send commands.
func (t *Transport) handleEvents(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newClient(conn)
	t.mu.Lock()
	t.clients[c] = struct{}{}
	t.mu.Unlock()
	go c.loop()

	unsubscribe := t.session.Subscribe(func(s dialogue.SessionState) {
		c.enqueue(event{Type: "state", State: &s})
	})
	defer func() {
		unsubscribe()
		t.mu.Lock()
		delete(t.clients, c)
		t.mu.Unlock()
		c.close()
	}()

	st := t.session.State()
	c.enqueue(event{Type: "state", State: &st})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			c.enqueue(event{Type: "error", Error: "invalid command"})
			continue
		}
		switch cmd.Action {
		case "start":
			if err := t.session.Start(t.baseContext()); err != nil {
				c.enqueue(event{Type: "error", Error: err.Error()})
			}
		case "stop":
			t.session.Stop()
		case "send":
			ok := t.session.SendNow()
			c.enqueue(event{Type: "send", Dispatched: &ok})
		default:
			c.enqueue(event{Type: "error", Error: "unknown action: " + cmd.Action})
		}
	}
}
