package admission

import (
	"time"

	"github.com/google/uuid"
)

// Mode is the scan mode a station was operating in.
type Mode string

const (
	// ModeBlackmarket scans score points for the scanning team.
	ModeBlackmarket Mode = "blackmarket"
	// ModeDetective scans are recorded for audit but never score.
	ModeDetective Mode = "detective"
)

// Status is the admission outcome recorded on a transaction.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
)

// Transaction records one token scan submission and its outcome. Once
// recorded it is immutable; deletion tombstones the record and
// recomputes scores rather than mutating it.
type Transaction struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"sessionId"`
	TokenID   string    `json:"tokenId"`
	TeamID    string    `json:"teamId"`
	DeviceID  string    `json:"deviceId"`
	Mode      Mode      `json:"mode"`
	Status    Status    `json:"status"`
	Points    int       `json:"points"`
	Timestamp time.Time `json:"timestamp"`
}

// SubmitRequest is one scan submission entering admission.
type SubmitRequest struct {
	TokenID  string `json:"tokenId"`
	TeamID   string `json:"teamId"`
	DeviceID string `json:"deviceId"`
	Mode     Mode   `json:"mode"`
}

// Result is the unicast outcome returned to the submitting station.
type Result struct {
	Status      Status       `json:"status"`
	Points      int          `json:"points"`
	Transaction *Transaction `json:"transaction"`
}

// Batch is one offline-reconciliation submission.
type Batch struct {
	BatchID      uuid.UUID       `json:"batchId"`
	Transactions []SubmitRequest `json:"transactions"`
}

// BatchResult summarizes server-side batch processing. The same
// counts ride on the batch:ack event, which is the authoritative
// completion signal for the submitting client.
type BatchResult struct {
	BatchID        uuid.UUID `json:"batchId"`
	ProcessedCount int       `json:"processedCount"`
	TotalCount     int       `json:"totalCount"`
	FailedCount    int       `json:"failedCount"`
}
