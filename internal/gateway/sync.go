package gateway

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/admission"
	"github.com/alnlive/tokensync/internal/bus"
	"github.com/alnlive/tokensync/internal/devices"
	"github.com/alnlive/tokensync/internal/scoring"
	"github.com/alnlive/tokensync/internal/session"
	"github.com/alnlive/tokensync/internal/video"
)

// EventSyncFull is the first frame every connection receives.
const EventSyncFull = "sync:full"

// syncFull is the full-state snapshot payload.
type syncFull struct {
	Session      *session.Session         `json:"session"`
	Scores       []scoring.TeamScore      `json:"scores"`
	Transactions []*admission.Transaction `json:"transactions"`
	Devices      []devices.Device         `json:"devices"`
	Video        video.Status             `json:"video"`
}

// buildSyncFull assembles the snapshot from the live services.
func (h *Handler) buildSyncFull() syncFull {
	return syncFull{
		Session:      h.services.Sessions.Current(),
		Scores:       h.services.Scoring.Scores(),
		Transactions: h.services.Admission.Recent(),
		Devices:      h.services.Devices.Snapshot(),
		Video:        h.services.Video.Status(),
	}
}

// queueSyncFull puts the snapshot frame on the connection's send
// buffer. Called before the connection is registered.
func (h *Handler) queueSyncFull(conn *Connection) {
	evt := bus.Event{Name: EventSyncFull, Data: h.buildSyncFull(), Timestamp: time.Now().UTC()}
	payload, err := evt.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal sync snapshot")
		return
	}
	conn.Send <- payload
}
