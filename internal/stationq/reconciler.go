package stationq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/admission"
)

// DefaultAckTimeout bounds how long a flush waits for the server's
// batch acknowledgement.
const DefaultAckTimeout = 30 * time.Second

// ErrAckTimeout is returned when the acknowledgement never arrives.
// The queue is left untouched so the next flush replays the scans.
var ErrAckTimeout = errors.New("batch acknowledgement timed out")

// Submitter delivers one batch to the server. Delivery alone does not
// complete a flush; the acknowledgement does.
type Submitter interface {
	SubmitBatch(ctx context.Context, batch admission.Batch) error
}

// Reconciler flushes the offline queue on reconnect. Flush sends all
// queued scans as one batch and clears the queue only after HandleAck
// observes the server's acknowledgement for that batch id.
type Reconciler struct {
	queue     *Queue
	submitter Submitter
	clock     clockwork.Clock
	timeout   time.Duration

	mu   sync.Mutex
	acks map[uuid.UUID]chan struct{}
}

// NewReconciler builds a reconciler. A zero timeout means
// DefaultAckTimeout.
func NewReconciler(queue *Queue, submitter Submitter, clock clockwork.Clock, timeout time.Duration) *Reconciler {
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	return &Reconciler{
		queue:     queue,
		submitter: submitter,
		clock:     clock,
		timeout:   timeout,
		acks:      make(map[uuid.UUID]chan struct{}),
	}
}

// HandleAck signals that the server acknowledged a batch. Called by
// the station's event loop when a batch:ack frame arrives. Unknown
// batch ids are ignored.
func (r *Reconciler) HandleAck(batchID uuid.UUID) {
	r.mu.Lock()
	ch, waiting := r.acks[batchID]
	r.mu.Unlock()

	if waiting {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Flush sends every queued scan as a single batch and waits for the
// acknowledgement. On success the queue is cleared; on any failure it
// is left as it was. A no-op when the queue is empty.
func (r *Reconciler) Flush(ctx context.Context) error {
	pending, err := r.queue.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	batch := admission.Batch{BatchID: uuid.New(), Transactions: pending}

	// Register the ack waiter before submitting so an immediate ack
	// cannot race past us.
	ackCh := make(chan struct{}, 1)
	r.mu.Lock()
	r.acks[batch.BatchID] = ackCh
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.acks, batch.BatchID)
		r.mu.Unlock()
	}()

	log.Info().
		Str("batch_id", batch.BatchID.String()).
		Int("scans", len(pending)).
		Msg("flushing offline queue")

	if err := r.submitter.SubmitBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to submit batch: %w", err)
	}

	select {
	case <-ackCh:
	case <-r.clock.After(r.timeout):
		log.Warn().
			Str("batch_id", batch.BatchID.String()).
			Msg("no acknowledgement, keeping queue for retry")
		return ErrAckTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := r.queue.Clear(); err != nil {
		return err
	}
	log.Info().
		Str("batch_id", batch.BatchID.String()).
		Int("scans", len(pending)).
		Msg("offline queue reconciled")
	return nil
}

// HTTPSubmitter posts batches to the gateway's batch endpoint. The
// HTTP response doubles as the acknowledgement: a 2xx reply feeds the
// decoded batch id back through OnAck.
type HTTPSubmitter struct {
	URL    string
	Client *http.Client
	OnAck  func(uuid.UUID)
}

func (s *HTTPSubmitter) SubmitBatch(ctx context.Context, batch admission.Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("batch submission returned status %d", resp.StatusCode)
	}

	var res admission.BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("failed to decode batch result: %w", err)
	}
	if s.OnAck != nil {
		s.OnAck(res.BatchID)
	}
	return nil
}
