package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/admission"
	"github.com/alnlive/tokensync/internal/devices"
	"github.com/alnlive/tokensync/internal/metrics"
)

// Client-to-server event names.
const (
	EventGMCommand    = "gm:command"
	EventGMCommandAck = "gm:command:ack"

	EventTxnSubmit = "transaction:submit"
	EventTxnResult = "transaction:result"

	EventScanBatch = "scan:batch"

	EventDeviceIdentify = "device:identify"
)

// inboundEnvelope is the uniform client frame.
type inboundEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// txnResult is the unicast outcome for a single scan submission. On
// admission errors Status is "error" and Error carries the reason.
type txnResult struct {
	Status      admission.Status       `json:"status"`
	Points      int                    `json:"points"`
	Transaction *admission.Transaction `json:"transaction,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// handleInbound routes one client frame. Runs on the connection's read
// goroutine.
func (h *Handler) handleInbound(conn *Connection, message []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Warn().
			Err(err).
			Str("connection_id", conn.ID).
			Msg("discarding malformed frame")
		return
	}

	ctx := context.Background()

	switch env.Event {
	case EventGMCommand:
		h.handleGMCommand(ctx, conn, env.Data)
	case EventTxnSubmit:
		h.handleSubmit(ctx, conn, env.Data)
	case EventScanBatch:
		h.handleWSBatch(ctx, conn, env.Data)
	case EventDeviceIdentify:
		h.handleIdentify(conn, env.Data)
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Str("event", env.Event).
			Msg("unknown inbound event")
	}
}

// handleSubmit admits one scan and unicasts transaction:result back to
// the submitting station. Broadcasts for accepted scans ride the bus.
func (h *Handler) handleSubmit(ctx context.Context, conn *Connection, data json.RawMessage) {
	var req admission.SubmitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.manager.SendEvent(conn, EventTxnResult, txnResult{Status: "error", Error: "malformed submission"})
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = conn.DeviceID
	}

	res, err := h.services.Admission.Submit(ctx, req)
	if err != nil {
		metrics.ScansTotal.WithLabelValues("rejected").Inc()
		h.manager.SendEvent(conn, EventTxnResult, txnResult{Status: "error", Error: err.Error()})
		return
	}

	metrics.ScansTotal.WithLabelValues(string(res.Status)).Inc()
	h.manager.SendEvent(conn, EventTxnResult, txnResult{
		Status:      res.Status,
		Points:      res.Points,
		Transaction: res.Transaction,
	})
}

// handleWSBatch processes an offline batch submitted over the socket.
// The authoritative completion signal is the batch:ack broadcast; the
// summary is also unicast for stations that reconnect mid-flush.
func (h *Handler) handleWSBatch(ctx context.Context, conn *Connection, data json.RawMessage) {
	var batch admission.Batch
	if err := json.Unmarshal(data, &batch); err != nil || batch.BatchID == uuid.Nil {
		h.manager.SendEvent(conn, EventTxnResult, txnResult{Status: "error", Error: "malformed batch"})
		return
	}

	res := h.services.Admission.ProcessBatch(ctx, batch)
	metrics.BatchesTotal.Inc()
	h.manager.SendEvent(conn, admission.EventBatchAck, res)
}

// handleIdentify records a station's self-identification frame.
func (h *Handler) handleIdentify(conn *Connection, data json.RawMessage) {
	var ident struct {
		DeviceType devices.DeviceType `json:"deviceType"`
		Version    string             `json:"version"`
	}
	if err := json.Unmarshal(data, &ident); err != nil {
		return
	}
	if ident.DeviceType == "" {
		ident.DeviceType = conn.DeviceType
	}
	h.services.Devices.Identify(conn.DeviceID, ident.DeviceType, ident.Version)
}
