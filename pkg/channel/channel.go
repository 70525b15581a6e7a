// Package channel manages the duplex WebSocket connection to the
// realtime dialogue service. Outbound control messages are JSON;
// outbound audio is sent as raw binary frames. Inbound JSON messages
// are dispatched to handlers registered per event type, and inbound
// binary frames are dispatched as synthetic audio events.
package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kioskworks/go-kiosk/internal/log"
	"github.com/kioskworks/go-kiosk/pkg/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	pingInterval     = 30 * time.Second
	readTimeout      = 90 * time.Second
)

// Handler processes a single inbound event.
type Handler func(*protocol.Event)

// ConnectionCallbacks receives connection lifecycle notifications.
type ConnectionCallbacks struct {
	OnOpen  func()
	OnClose func()
	OnError func(error)
}

// Manager owns one duplex connection and its read loop. Handlers may be
// registered before the connection is opened; they survive disconnects
// and apply to any later connection.
type Manager struct {
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	endpoint  string
	connected bool
	closed    bool
	callbacks ConnectionCallbacks
	handlers  map[string]Handler

	writeMu sync.Mutex

	done chan struct{}
}

// NewManager creates a disconnected channel manager.
func NewManager() *Manager {
	return &Manager{
		logger:   log.With("component", "channel"),
		handlers: make(map[string]Handler),
	}
}

// Connect opens the duplex connection to the given endpoint and starts
// the read loop. It returns a ConnectionError if the dial fails.
func (m *Manager) Connect(ctx context.Context, endpoint string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.connected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.mu.Unlock()

	m.logger.Info("connecting", "endpoint", endpoint)

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		connErr := NewConnectionError(endpoint, "dial failed", err, true)
		m.emitError(connErr)
		return connErr
	}

	m.mu.Lock()
	m.conn = conn
	m.endpoint = endpoint
	m.connected = true
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go m.readLoop(conn, done)
	go m.pingLoop(conn, done)

	m.logger.Info("connected", "endpoint", endpoint)
	m.emitOpen()
	return nil
}

// IsConnected reports whether the channel currently has an open
// connection.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// OnMessage registers the handler for an event type, replacing any
// previous handler for that type. The type protocol.TypeWildcard
// matches every inbound event; protocol.TypeAudio matches inbound
// binary frames.
func (m *Manager) OnMessage(eventType string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if handler == nil {
		delete(m.handlers, eventType)
		return
	}
	m.handlers[eventType] = handler
}

// OnConnection registers lifecycle callbacks.
func (m *Manager) OnConnection(cb ConnectionCallbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = cb
}

// Send marshals a control message to JSON and writes it. Sending while
// disconnected is a silent no-op so callers never have to race the
// connection state.
func (m *Manager) Send(msg any) error {
	m.mu.RLock()
	conn := m.conn
	connected := m.connected
	m.mu.RUnlock()

	if !connected || conn == nil {
		m.logger.Debug("send dropped, not connected")
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		m.logger.Error("write failed", "error", err)
		return NewConnectionError(m.endpoint, "write failed", err, true)
	}
	return nil
}

// SendBinary writes a raw binary frame. Like Send, it is a silent
// no-op while disconnected.
func (m *Manager) SendBinary(data []byte) error {
	m.mu.RLock()
	conn := m.conn
	connected := m.connected
	m.mu.RUnlock()

	if !connected || conn == nil {
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		m.logger.Error("binary write failed", "error", err)
		return NewConnectionError(m.endpoint, "binary write failed", err, true)
	}
	return nil
}

// Close shuts the channel down. It is safe to call multiple times and
// while disconnected.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	wasConnected := m.connected
	m.connected = false
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.writeMu.Unlock()
		conn.Close()
	}

	if wasConnected {
		m.emitClose()
	}

	m.mu.Lock()
	m.handlers = make(map[string]Handler)
	m.callbacks = ConnectionCallbacks{}
	m.mu.Unlock()

	m.logger.Info("closed")
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(conn, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		switch msgType {
		case websocket.BinaryMessage:
			m.dispatch(&protocol.Event{
				Type:   protocol.TypeAudio,
				Binary: data,
			})
		case websocket.TextMessage:
			ev, err := protocol.ParseEvent(data)
			if err != nil {
				m.logger.Warn("unparseable message", "error", err)
				m.dispatch(&protocol.Event{
					Type:    protocol.TypeError,
					Message: err.Error(),
				})
				continue
			}
			m.dispatch(ev)
		}
	}
}

// pingLoop keeps the connection alive through idle stretches.
func (m *Manager) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			m.writeMu.Unlock()
			if err != nil {
				m.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func (m *Manager) dispatch(ev *protocol.Event) {
	m.mu.RLock()
	handler := m.handlers[ev.Type]
	wildcard := m.handlers[protocol.TypeWildcard]
	m.mu.RUnlock()

	if handler != nil {
		handler(ev)
	}
	if wildcard != nil {
		wildcard(ev)
	}
}

func (m *Manager) handleDisconnect(conn *websocket.Conn, err error) {
	m.mu.Lock()
	// A stale read loop from a previous connection must not clobber
	// the current one.
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.connected = false
	closed := m.closed
	m.mu.Unlock()

	if closed || websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		m.logger.Debug("connection closed", "error", err)
	} else {
		m.logger.Error("connection lost", "error", err)
		m.emitError(NewConnectionError(m.endpoint, "connection lost", err, true))
	}
	m.emitClose()
}

func (m *Manager) emitOpen() {
	m.mu.RLock()
	cb := m.callbacks.OnOpen
	m.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (m *Manager) emitClose() {
	m.mu.RLock()
	cb := m.callbacks.OnClose
	m.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (m *Manager) emitError(err error) {
	m.mu.RLock()
	cb := m.callbacks.OnError
	m.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}
