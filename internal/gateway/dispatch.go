package gateway

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/admission"
	"github.com/alnlive/tokensync/internal/commands"
	"github.com/alnlive/tokensync/internal/devices"
	"github.com/alnlive/tokensync/internal/metrics"
	"github.com/alnlive/tokensync/internal/video"
)

// gmCommandFrame is the gm:command payload.
type gmCommandFrame struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// commandAck is the gm:command:ack unicast payload. Exactly one ack is
// sent per received command, success or not.
type commandAck struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// handleGMCommand parses, executes, and acks one GM command.
func (h *Handler) handleGMCommand(ctx context.Context, conn *Connection, data json.RawMessage) {
	var frame gmCommandFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.manager.SendEvent(conn, EventGMCommandAck, commandAck{Action: "unknown", Error: "malformed command frame"})
		return
	}

	ack := commandAck{Action: frame.Action}

	if conn.DeviceType != devices.TypeGM {
		ack.Error = "command requires a gm station"
		h.manager.SendEvent(conn, EventGMCommandAck, ack)
		return
	}

	cmd, err := commands.Parse(frame.Action, frame.Payload)
	if err != nil {
		ack.Error = err.Error()
		h.manager.SendEvent(conn, EventGMCommandAck, ack)
		return
	}

	message, result, err := h.execute(ctx, cmd)
	if err != nil {
		log.Warn().
			Err(err).
			Str("action", frame.Action).
			Str("device_id", conn.DeviceID).
			Msg("command failed")
		ack.Error = err.Error()
	} else {
		ack.Success = true
		ack.Message = message
		ack.Data = result
	}
	h.manager.SendEvent(conn, EventGMCommandAck, ack)
}

// execute runs one parsed command against the domain services. The
// type switch is exhaustive over the command union.
func (h *Handler) execute(ctx context.Context, cmd commands.Command) (string, any, error) {
	switch c := cmd.(type) {
	case commands.SessionCreate:
		s, err := h.services.Sessions.Create(ctx, c.Name, c.Teams)
		if err != nil {
			return "", nil, err
		}
		return "session created", s, nil

	case commands.SessionPause:
		return "session paused", nil, h.services.Sessions.Pause(ctx)

	case commands.SessionResume:
		return "session resumed", nil, h.services.Sessions.Resume(ctx)

	case commands.SessionEnd:
		return "session ended", nil, h.services.Sessions.End(ctx)

	case commands.VideoPlay:
		return "playback started", nil, h.services.Video.Play()

	case commands.VideoPause:
		return "playback paused", nil, h.services.Video.Pause()

	case commands.VideoStop:
		return "playback stopped", nil, h.services.Video.Stop()

	case commands.VideoSkip:
		return "skipped", nil, h.services.Video.Skip()

	case commands.VideoQueueAdd:
		h.services.Video.QueueAdd(video.Item{URL: c.URL, Title: c.Title})
		return "queued", nil, nil

	case commands.VideoQueueReorder:
		return "queue reordered", nil, h.services.Video.QueueReorder(c.From, c.To)

	case commands.VideoQueueClear:
		h.services.Video.QueueClear()
		return "queue cleared", nil, nil

	case commands.ScoreAdjust:
		if err := h.services.Scoring.AdjustScore(c.TeamID, c.Delta, c.Reason); err != nil {
			return "", nil, err
		}
		return "score adjusted", nil, nil

	case commands.TransactionDelete:
		if err := h.services.Admission.Delete(ctx, c.ID); err != nil {
			return "", nil, err
		}
		return "transaction deleted", nil, nil

	case commands.TransactionCreate:
		res, err := h.services.Admission.Submit(ctx, admission.SubmitRequest{
			TokenID:  c.TokenID,
			TeamID:   c.TeamID,
			DeviceID: c.DeviceID,
			Mode:     admission.Mode(c.Mode),
		})
		if err != nil {
			return "", nil, err
		}
		metrics.ScansTotal.WithLabelValues(string(res.Status)).Inc()
		return "transaction recorded", res, nil

	case commands.SystemReset:
		h.systemReset(ctx)
		return "system reset", nil, nil
	}

	// Unreachable as long as Parse and the union stay in step.
	return "", nil, commands.ErrUnknownAction
}

// systemReset wipes all domain state. Coordination listeners and the
// broadcast sink stay registered, so services keep working afterwards.
func (h *Handler) systemReset(ctx context.Context) {
	log.Info().Msg("administrative system reset")
	h.services.Sessions.Reset(ctx)
	h.services.Admission.Reset(ctx)
	h.services.Scoring.Reset()
	h.services.Video.Reset()
}
