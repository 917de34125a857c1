// Package gateway is the WebSocket transport. It fans bus events out
// to every connected station, routes inbound envelopes to the domain
// services, and serves the HTTP endpoints for batch reconciliation and
// operational introspection.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/bus"
	"github.com/alnlive/tokensync/internal/devices"
	"github.com/alnlive/tokensync/internal/metrics"
)

// SinkName is the dispatcher sink name the gateway attaches under.
const SinkName = "gateway"

// Manager owns the WebSocket connection pool and the broadcast loop.
// It implements bus.Sink: every broadcast event is queued onto
// broadcastCh and fanned out to all connections by Start.
type Manager struct {
	mu          sync.RWMutex
	connections map[*Connection]bool

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan bus.Event

	// inbound receives every client message; onClose fires once per
	// connection when it leaves the pool.
	inbound func(*Connection, []byte)
	onClose func(*Connection)
}

// Connection is one station's WebSocket connection.
type Connection struct {
	ID         string
	DeviceID   string
	DeviceType devices.DeviceType
	Conn       *websocket.Conn
	Send       chan []byte
	manager    *Manager

	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds WebSocket tuning knobs.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Stations connect from the venue LAN; origin is not a
			// useful boundary here.
			return true
		},
	}
}

// NewManager creates a connection manager. The inbound callback runs
// on each connection's read goroutine; onClose runs when a connection
// is unregistered.
func NewManager(config ConnectionConfig, inbound func(*Connection, []byte), onClose func(*Connection)) *Manager {
	return &Manager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan bus.Event, 1000),
		inbound:     inbound,
		onClose:     onClose,
	}
}

// Deliver implements bus.Sink. Events are queued without blocking the
// emitting goroutine; a full channel drops the event and counts it.
func (m *Manager) Deliver(evt bus.Event) {
	select {
	case m.broadcastCh <- evt:
	default:
		metrics.BroadcastsDropped.Inc()
		log.Warn().Str("event", evt.Name).Msg("broadcast channel full, dropping event")
	}
}

// Start runs the broadcast loop until the context is cancelled.
func (m *Manager) Start(ctx context.Context) {
	log.Info().Msg("gateway broadcast loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("gateway broadcast loop shutting down")
			return
		case evt := <-m.broadcastCh:
			m.handleBroadcast(evt)
		}
	}
}

// Upgrade upgrades an HTTP request to a WebSocket connection. The
// connection is not registered yet; the caller queues its initial
// state snapshot first so no broadcast can arrive before it.
func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request, deviceID string, deviceType devices.DeviceType) (*Connection, error) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Connection{
		ID:          uuid.New().String(),
		DeviceID:    deviceID,
		DeviceType:  deviceType,
		Conn:        ws,
		Send:        make(chan []byte, 256),
		manager:     m,
		ConnectedAt: now,
		LastPing:    now,
	}, nil
}

// Register adds a connection to the broadcast pool and starts its
// read/write pumps.
func (m *Manager) Register(conn *Connection) {
	m.mu.Lock()
	m.connections[conn] = true
	total := len(m.connections)
	m.mu.Unlock()

	metrics.ConnectedStations.WithLabelValues(string(conn.DeviceType)).Inc()
	log.Info().
		Str("connection_id", conn.ID).
		Str("device_id", conn.DeviceID).
		Str("device_type", string(conn.DeviceType)).
		Int("total_connections", total).
		Msg("connection registered")

	go conn.writePump()
	go conn.readPump()
}

// unregister removes a connection from the pool. Safe to call more
// than once; the close hook fires only on the first removal.
func (m *Manager) unregister(conn *Connection) {
	m.mu.Lock()
	_, exists := m.connections[conn]
	if exists {
		delete(m.connections, conn)
		close(conn.Send)
	}
	m.mu.Unlock()

	if !exists {
		return
	}

	metrics.ConnectedStations.WithLabelValues(string(conn.DeviceType)).Dec()
	log.Info().
		Str("connection_id", conn.ID).
		Str("device_id", conn.DeviceID).
		Msg("connection unregistered")

	if m.onClose != nil {
		m.onClose(conn)
	}
}

// SendEvent queues a unicast event envelope on a single connection.
func (m *Manager) SendEvent(conn *Connection, name string, data any) {
	evt := bus.Event{Name: name, Data: data, Timestamp: time.Now().UTC()}
	payload, err := evt.Marshal()
	if err != nil {
		log.Error().Err(err).Str("event", name).Msg("failed to marshal unicast event")
		return
	}

	select {
	case conn.Send <- payload:
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Str("event", name).
			Msg("send buffer full, closing connection")
		m.unregister(conn)
		conn.Conn.Close()
	}
}

// handleBroadcast marshals the event once and fans it out, evicting
// connections whose send buffers are full.
func (m *Manager) handleBroadcast(evt bus.Event) {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.connections))
	for conn := range m.connections {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()

	payload, err := evt.Marshal()
	if err != nil {
		log.Error().Err(err).Str("event", evt.Name).Msg("failed to marshal broadcast event")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- payload:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Str("device_id", conn.DeviceID).
				Msg("send buffer full, closing connection")
			m.unregister(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event", evt.Name).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// Stats returns connection counts for the stats endpoint.
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]int)
	for conn := range m.connections {
		byType[string(conn.DeviceType)]++
	}
	return map[string]any{
		"total_connections": len(m.connections),
		"by_device_type":    byType,
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump routes inbound messages to the manager's inbound handler.
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected close error")
			}
			break
		}

		if c.manager.inbound != nil {
			c.manager.inbound(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}
