//
// Realtime channels — WebSocket relay between the host process and guest
// companion views. Each guest holds one socket keyed by its caller id;
// envelopes (signaling payloads, hangup notices) flow both ways.
package realtime

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoChannel is returned by Send when no guest socket is attached for
// the channel.
var ErrNoChannel = errors.New("no socket attached for channel")

const (
	// Sockets that miss keepalives this long are swept.
	staleAfter    = time.Minute
	sweepInterval = 30 * time.Second
	pingInterval  = 20 * time.Second
	writeWait     = 10 * time.Second
)

// Envelope is a realtime message that flows through a channel.
type Envelope struct {
	Channel string `json:"channel"`
	From    string `json:"from"`
	Payload any    `json:"payload"`
}

// Manager owns the guest sockets and fans inbound envelopes out to
// subscribers (the stream manager's dispatch loop).
type Manager struct {
	selfID string

	mu    sync.RWMutex
	conns map[string]*client

	listenerMu sync.RWMutex
	listeners  map[chan *Envelope]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

type client struct {
	id   string
	conn *websocket.Conn

	writeMu  sync.Mutex
	lastSeen time.Time
}

// New creates a hub and starts the stale-socket sweep.
func New(selfID string) *Manager {
	m := &Manager{
		selfID:    selfID,
		conns:     make(map[string]*client),
		listeners: make(map[chan *Envelope]struct{}),
		done:      make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Attach binds a freshly upgraded socket to a channel and starts reading.
// A previous socket on the same channel is closed first — reconnects win.
func (m *Manager) Attach(channelID string, conn *websocket.Conn) {
	c := &client{id: channelID, conn: conn, lastSeen: time.Now()}
	conn.SetPongHandler(func(string) error {
		m.touch(channelID)
		return nil
	})

	m.mu.Lock()
	if old, ok := m.conns[channelID]; ok {
		_ = old.conn.Close()
	}
	m.conns[channelID] = c
	m.mu.Unlock()

	log.Printf("REALTIME: channel %s attached", channelID)
	go m.readLoop(c)
	go m.pingLoop(c)
}

// Send relays a payload to the guest on channelID.
func (m *Manager) Send(channelID string, payload any) error {
	m.mu.RLock()
	c, ok := m.conns[channelID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoChannel, channelID)
	}
	env := &Envelope{Channel: channelID, From: m.selfID, Payload: payload}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(env)
}

// Subscribe returns a channel of inbound envelopes. Slow subscribers drop
// envelopes rather than blocking the socket readers.
func (m *Manager) Subscribe() (chan *Envelope, func()) {
	ch := make(chan *Envelope, 32)
	m.listenerMu.Lock()
	m.listeners[ch] = struct{}{}
	m.listenerMu.Unlock()

	cancel := func() {
		m.listenerMu.Lock()
		if _, ok := m.listeners[ch]; ok {
			delete(m.listeners, ch)
			close(ch)
		}
		m.listenerMu.Unlock()
	}
	return ch, cancel
}

// Detach closes and forgets the socket for a channel. Safe to call for
// unknown channels.
func (m *Manager) Detach(channelID string) {
	m.mu.Lock()
	c, ok := m.conns[channelID]
	if ok {
		delete(m.conns, channelID)
	}
	m.mu.Unlock()
	if ok {
		_ = c.conn.Close()
		log.Printf("REALTIME: channel %s detached", channelID)
	}
}

// Connected reports whether a guest socket is attached for the channel.
func (m *Manager) Connected(channelID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[channelID]
	return ok
}

// Close shuts the hub down and closes every socket.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*client)
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.conn.Close()
	}
}

func (m *Manager) readLoop(c *client) {
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			break
		}
		// The socket, not the client, decides identity.
		env.Channel = c.id
		env.From = c.id
		m.touch(c.id)
		m.fanOut(&env)
	}

	m.mu.Lock()
	current, ok := m.conns[c.id]
	if ok && current == c {
		delete(m.conns, c.id)
	}
	m.mu.Unlock()
	_ = c.conn.Close()
	if ok && current == c {
		log.Printf("REALTIME: channel %s dropped", c.id)
		// A dropped socket counts as a hangup for the roster.
		m.fanOut(&Envelope{Channel: c.id, From: c.id, Payload: map[string]any{"type": "hangup"}})
	}
}

func (m *Manager) pingLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-staleAfter)
			m.mu.Lock()
			for id, c := range m.conns {
				if c.lastSeen.Before(cutoff) {
					_ = c.conn.Close()
					delete(m.conns, id)
					log.Printf("REALTIME: channel %s swept (stale)", id)
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Manager) touch(channelID string) {
	m.mu.Lock()
	if c, ok := m.conns[channelID]; ok {
		c.lastSeen = time.Now()
	}
	m.mu.Unlock()
}

func (m *Manager) fanOut(env *Envelope) {
	m.listenerMu.RLock()
	for ch := range m.listeners {
		select {
		case ch <- env:
		default:
		}
	}
	m.listenerMu.RUnlock()
}
