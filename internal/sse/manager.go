package sse

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/listenupapp/listenup-reader/internal/id"
	"github.com/listenupapp/listenup-reader/internal/reader"
	"github.com/listenupapp/listenup-reader/internal/store"
)

const (
	queueSize      = 1000
	clientBuffer   = 256
	clientIDPrefix = "sse"
)

// Client is a connected SSE client. A client with a SessionID receives that
// session's events along with library events; one without receives library
// events only.
type Client struct {
	ID          string
	SessionID   string
	ConnectedAt time.Time
	EventChan   chan Event
	Done        chan struct{}
}

func (c *Client) wants(ev Event) bool {
	return ev.SessionID == "" || ev.SessionID == c.SessionID
}

func (c *Client) close() {
	close(c.Done)
	close(c.EventChan)
}

// Manager fans events out to connected clients. Events go through a single
// queue so every client sees them in emission order.
type Manager struct {
	logger *slog.Logger
	queue  chan Event

	// mu guards clients and closed. Emit holds it shared while sending on
	// queue, so Shutdown can close queue under the exclusive lock.
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	running sync.WaitGroup
}

// NewManager creates a new SSE Manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:  logger,
		queue:   make(chan Event, queueSize),
		clients: make(map[string]*Client),
	}
}

// Start runs the broadcast loop until ctx is done or Shutdown is called.
// Run it in its own goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.running.Add(1)
	defer m.running.Done()

	for {
		select {
		case ev, ok := <-m.queue:
			if !ok {
				return
			}
			m.broadcast(ev)
		case <-ctx.Done():
			m.closeClients()
			return
		}
	}
}

// Shutdown stops accepting events, delivers what is queued and closes every
// client.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.running.Wait()
		for ev := range m.queue {
			m.broadcast(ev)
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		m.logger.Warn("SSE drain timed out, pending events dropped")
	}

	m.closeClients()
	return nil
}

func (m *Manager) broadcast(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, c := range m.clients {
		if !c.wants(ev) {
			continue
		}
		// A slow client loses events rather than stalling everyone else.
		select {
		case c.EventChan <- ev:
			delivered++
		default:
			dropped++
			m.logger.Warn("dropped event for slow client", "client_id", c.ID, "event_type", ev.Type)
		}
	}
	m.logger.Debug("event broadcast", "event_type", ev.Type, "delivered", delivered, "dropped", dropped)
}

// Connect registers a client. sessionID may be empty.
func (m *Manager) Connect(sessionID string) (*Client, error) {
	clientID, err := id.Generate(clientIDPrefix)
	if err != nil {
		return nil, err
	}
	c := &Client{
		ID:          clientID,
		SessionID:   sessionID,
		ConnectedAt: time.Now(),
		EventChan:   make(chan Event, clientBuffer),
		Done:        make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.close()
		return c, nil
	}
	m.clients[c.ID] = c
	total := len(m.clients)
	m.mu.Unlock()

	m.logger.Debug("SSE client connected", "client_id", c.ID, "session_id", sessionID, "total_clients", total)
	return c, nil
}

// Disconnect removes a client and closes its channels. Unknown ids are ignored.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	c, ok := m.clients[clientID]
	if ok {
		delete(m.clients, clientID)
	}
	total := len(m.clients)
	m.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	m.logger.Debug("SSE client disconnected",
		"client_id", clientID,
		"duration", time.Since(c.ConnectedAt),
		"total_clients", total)
}

// Emit queues an event. Events are dropped after Shutdown or when the queue
// is full.
func (m *Manager) Emit(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- ev:
	default:
		m.logger.Error("SSE queue full, dropping event", "event_type", ev.Type)
	}
}

// PublishSession emits a reader session event to the session's clients.
func (m *Manager) PublishSession(sessionID, bookID string, ev reader.SessionEvent) {
	m.Emit(NewSessionEvent(sessionID, bookID, ev))
}

// SessionClosed tells a session's clients that it is gone.
func (m *Manager) SessionClosed(sessionID, bookID string) {
	m.Emit(Event{Timestamp: time.Now(), Type: EventSessionClosed, SessionID: sessionID, BookID: bookID})
}

// LibraryEmitter adapts the manager to the store's change feed.
func (m *Manager) LibraryEmitter() store.EventEmitter {
	return libraryEmitter{m}
}

type libraryEmitter struct{ m *Manager }

func (e libraryEmitter) Emit(ev store.Event) { e.m.Emit(NewLibraryEvent(ev)) }

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// DisconnectAll ends every open stream. The manager keeps accepting clients.
func (m *Manager) DisconnectAll() {
	m.closeClients()
}

func (m *Manager) closeClients() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*Client)
	m.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
