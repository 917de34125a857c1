package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/admission"
	"github.com/alnlive/tokensync/internal/bus"
	"github.com/alnlive/tokensync/internal/devices"
	"github.com/alnlive/tokensync/internal/scoring"
	"github.com/alnlive/tokensync/internal/session"
	"github.com/alnlive/tokensync/internal/tokens"
	"github.com/alnlive/tokensync/internal/video"
)

// Services bundles the domain collaborators the gateway routes into.
type Services struct {
	Sessions  *session.Coordinator
	Scoring   *scoring.Engine
	Admission *admission.Service
	Devices   *devices.Tracker
	Video     *video.Controller
	Catalog   *tokens.Catalog
	Bus       *bus.Dispatcher
}

// Handler owns the connection manager and the HTTP surface.
type Handler struct {
	manager  *Manager
	services Services
	auth     Authenticator
}

// NewHandler wires a handler and its connection manager.
func NewHandler(config ConnectionConfig, services Services, auth Authenticator) *Handler {
	if auth == nil {
		auth = StaticTokenAuthenticator{}
	}
	h := &Handler{services: services, auth: auth}
	h.manager = NewManager(config, h.handleInbound, h.handleClose)
	return h
}

// Manager exposes the connection manager for stats and tests.
func (h *Handler) Manager() *Manager { return h.manager }

// Run attaches the gateway as the dispatcher's broadcast sink and runs
// the broadcast loop until the context is cancelled. The sink is
// detached on the way out; coordination listeners are untouched.
func (h *Handler) Run(ctx context.Context) {
	h.services.Bus.AttachSink(SinkName, h.manager)
	defer h.services.Bus.DetachSink(SinkName)
	h.manager.Start(ctx)
}

// HandleWS upgrades a station connection. The full state snapshot is
// queued before the connection joins the broadcast pool, so a client
// always sees sync:full before any incremental event.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := q.Get("token")
	deviceID := q.Get("deviceId")
	deviceType := devices.DeviceType(q.Get("deviceType"))
	version := q.Get("version")

	if deviceType != devices.TypeGM {
		deviceType = devices.TypePlayer
	}

	if err := h.auth.Authenticate(token, deviceID); err != nil {
		log.Warn().Str("device_id", deviceID).Msg("rejected handshake")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.manager.Upgrade(w, r, deviceID, deviceType)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	h.services.Devices.Connect(deviceID, deviceType)
	if version != "" {
		h.services.Devices.Identify(deviceID, deviceType, version)
	}

	// Queue the snapshot directly: the send buffer is empty and the
	// write pump has not started, so this is always the first frame.
	h.queueSyncFull(conn)
	h.manager.Register(conn)
}

// handleClose is the manager's close hook.
func (h *Handler) handleClose(conn *Connection) {
	h.services.Devices.Disconnect(conn.DeviceID)
}
