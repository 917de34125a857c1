package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/bus"
)

// Internal coordination event emitted when a session is created, so
// other services (scoring) can initialize per-team state.
const (
	Source = "session"

	EventCreated = "session:created"
	EventUpdate  = "session:update"
)

var (
	// ErrNoSession is returned by pause/resume/end when no session is
	// active or paused.
	ErrNoSession = errors.New("no current session")
	// ErrInvalidTransition is returned when the requested transition is
	// not legal from the session's current status.
	ErrInvalidTransition = errors.New("invalid session transition")
)

// Coordinator owns the single current session and enforces its state
// machine. All mutations go through the coordinator; everything else
// reads snapshots via Current.
type Coordinator struct {
	store Store
	bus   *bus.Dispatcher
	clock clockwork.Clock

	mu      sync.Mutex
	current *Session
}

// NewCoordinator builds a coordinator, restoring any active or paused
// session from the store so reconnecting clients see the identical
// session id and start time after a process restart.
func NewCoordinator(ctx context.Context, store Store, d *bus.Dispatcher, clock clockwork.Clock) (*Coordinator, error) {
	c := &Coordinator{store: store, bus: d, clock: clock}

	restored, err := store.LoadCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	if restored != nil {
		c.current = restored
		log.Info().
			Str("session_id", restored.ID.String()).
			Str("status", string(restored.Status)).
			Time("start_time", restored.StartTime).
			Msg("restored current session")
	}
	return c, nil
}

// Current returns a snapshot of the current session, or nil.
func (c *Coordinator) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// Accepting reports whether transactions may be admitted right now.
// Paused and ended sessions do not accept.
func (c *Coordinator) Accepting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.Status == StatusActive
}

// Create starts a new active session. Any session that is still
// active or paused is force-ended first, with its own broadcast, so a
// create against a live session yields two session:update events.
func (c *Coordinator) Create(ctx context.Context, name string, teams []string) (*Session, error) {
	if name == "" {
		return nil, errors.New("session name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.current.Status != StatusEnded {
		c.endCurrent(ctx)
	}

	s := &Session{
		ID:        uuid.New(),
		Name:      name,
		Teams:     append([]string(nil), teams...),
		Status:    StatusActive,
		StartTime: c.clock.Now().UTC(),
	}
	c.current = s
	c.persist(ctx)

	log.Info().
		Str("session_id", s.ID.String()).
		Str("name", s.Name).
		Strs("teams", s.Teams).
		Msg("session created")

	c.bus.EmitLocal(Source, EventCreated, s.Clone())
	c.bus.Emit(Source, EventUpdate, s.Clone())
	return s.Clone(), nil
}

// Pause moves an active session to paused.
func (c *Coordinator) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.Status == StatusEnded {
		return ErrNoSession
	}
	if c.current.Status != StatusActive {
		return fmt.Errorf("%w: cannot pause a %s session", ErrInvalidTransition, c.current.Status)
	}

	c.current.Status = StatusPaused
	c.persist(ctx)
	log.Info().Str("session_id", c.current.ID.String()).Msg("session paused")
	c.bus.Emit(Source, EventUpdate, c.current.Clone())
	return nil
}

// Resume moves a paused session back to active.
func (c *Coordinator) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.Status == StatusEnded {
		return ErrNoSession
	}
	if c.current.Status != StatusPaused {
		return fmt.Errorf("%w: cannot resume a %s session", ErrInvalidTransition, c.current.Status)
	}

	c.current.Status = StatusActive
	c.persist(ctx)
	log.Info().Str("session_id", c.current.ID.String()).Msg("session resumed")
	c.bus.Emit(Source, EventUpdate, c.current.Clone())
	return nil
}

// End finishes the current session from either active or paused.
func (c *Coordinator) End(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.Status == StatusEnded {
		return ErrNoSession
	}
	c.endCurrent(ctx)
	return nil
}

// Reset force-ends any live session as part of an administrative wipe.
// A no-op when nothing is live.
func (c *Coordinator) Reset(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.Status == StatusEnded {
		c.current = nil
		return
	}
	c.endCurrent(ctx)
	c.current = nil
}

func (c *Coordinator) endCurrent(ctx context.Context) {
	end := c.clock.Now().UTC()
	c.current.Status = StatusEnded
	c.current.EndTime = &end
	c.persist(ctx)
	log.Info().Str("session_id", c.current.ID.String()).Msg("session ended")
	c.bus.Emit(Source, EventUpdate, c.current.Clone())
}

// persist writes the current session through to the store. A write
// failure is surfaced as a warning; in-memory state stays
// authoritative and the transition still completes.
func (c *Coordinator) persist(ctx context.Context) {
	if err := c.store.SaveSession(ctx, c.current); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", c.current.ID.String()).
			Msg("failed to persist session state")
	}
}
