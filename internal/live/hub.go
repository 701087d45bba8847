// Package live pushes game snapshots to every open page of a session over
// WebSocket and carries the page's actions back.
package live

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	util "github.com/CodeAndHammer/hearsay/internal/util"
)

const (
	writeWait = 5 * time.Second

	// DefaultPongWait is how long a socket may stay silent before it is
	// dropped. Pings go out at half of it.
	DefaultPongWait = 60 * time.Second
)

// Message is what a page sends.
type Message struct {
	Type   string `json:"type"`
	Answer string `json:"answer,omitempty"`
}

const (
	MessagePlay   = "play"
	MessagePlayed = "played"
	MessageAnswer = "answer"
	MessageHint   = "hint"
	MessageSkip   = "skip"
)

// Envelope is what the server sends.
type Envelope struct {
	Type  string `json:"type"`
	State any    `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Client is one open socket. Writes are serialized per socket.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type Hub struct {
	mu       sync.Mutex
	groups   map[string]map[*Client]struct{}
	pongWait time.Duration
}

type Option func(*Hub)

// WithPongWait sets how long a socket may go without a pong.
func WithPongWait(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pongWait = d
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		groups:   make(map[string]map[*Client]struct{}),
		pongWait: DefaultPongWait,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Add registers conn under sessionID and starts pinging it. The caller must
// keep reading from conn; a read fails once no pong arrives within the pong
// wait.
func (h *Hub) Add(sessionID string, conn *websocket.Conn) *Client {
	c := &Client{conn: conn, done: make(chan struct{})}
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	h.mu.Lock()
	group := h.groups[sessionID]
	if group == nil {
		group = make(map[*Client]struct{})
		h.groups[sessionID] = group
	}
	group[c] = struct{}{}
	h.mu.Unlock()

	go h.keepAlive(sessionID, c)
	return c
}

func (h *Hub) keepAlive(sessionID string, c *Client) {
	ticker := time.NewTicker(h.pongWait / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				h.Remove(sessionID, c)
				return
			}
		}
	}
}

func (h *Hub) Remove(sessionID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[sessionID]
	if group == nil {
		return
	}
	delete(group, c)
	c.close()
	if len(group) == 0 {
		delete(h.groups, sessionID)
	}
}

// CloseSession drops every socket of a session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	group := h.groups[sessionID]
	delete(h.groups, sessionID)
	h.mu.Unlock()
	for c := range group {
		c.close()
	}
}

func (h *Hub) Send(c *Client, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (h *Hub) Broadcast(sessionID string, payload any) {
	h.mu.Lock()
	group := h.groups[sessionID]
	clients := make([]*Client, 0, len(group))
	for c := range group {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		util.LogWarn("Failed to encode broadcast for session %s: %v", sessionID, err)
		return
	}
	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.Remove(sessionID, c)
		}
	}
}

// BroadcastState wraps a snapshot in a state envelope.
func (h *Hub) BroadcastState(sessionID string, state any) {
	h.Broadcast(sessionID, Envelope{Type: "state", State: state})
}

func (h *Hub) Count(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[sessionID])
}

func (h *Hub) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, g := range h.groups {
		n += len(g)
	}
	return n
}
