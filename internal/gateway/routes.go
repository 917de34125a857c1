package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/admission"
	"github.com/alnlive/tokensync/internal/metrics"
)

// RegisterRoutes registers the gateway's HTTP surface on a mux.
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("/ws", h.HandleWS)
	mux.HandleFunc("/ws/stats", h.HandleStats)
	mux.HandleFunc("/api/scan/batch", h.HandleScanBatch)
	mux.HandleFunc("/health", h.HandleHealth)
	mux.Handle("/metrics", metrics.Handler())
}

// HandleScanBatch processes one offline reconciliation batch over
// HTTP. The batch:ack broadcast carries the same summary to every
// connected station; the HTTP body is for the submitting client.
func (h *Handler) HandleScanBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var batch admission.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "malformed batch", http.StatusBadRequest)
		return
	}
	if batch.BatchID == uuid.Nil {
		http.Error(w, "batchId is required", http.StatusBadRequest)
		return
	}

	res := h.services.Admission.ProcessBatch(r.Context(), batch)
	metrics.BatchesTotal.Inc()

	log.Info().
		Str("batch_id", batch.BatchID.String()).
		Int("processed", res.ProcessedCount).
		Int("total", res.TotalCount).
		Msg("batch processed")

	writeJSON(w, http.StatusOK, res)
}

// HandleHealth is the liveness endpoint.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStats reports connection counts.
func (h *Handler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
