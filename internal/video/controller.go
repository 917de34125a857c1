// Package video tracks the playback queue driven by the video:*
// command surface. Actual playback lives behind the Player interface;
// the default player is a no-op so the queue state machine works
// without a media backend.
package video

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/bus"
)

const (
	Source = "video"

	EventStatus = "video:status"
)

// State is the playback state.
type State string

const (
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Item is one queued video.
type Item struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Status is the video:status broadcast payload and the sync:full
// video snapshot.
type Status struct {
	State   State  `json:"state"`
	Current *Item  `json:"current,omitempty"`
	Queue   []Item `json:"queue"`
}

// Player is the external playback collaborator.
type Player interface {
	Play(url string) error
	Pause() error
	Stop() error
}

// NopPlayer satisfies Player without a media backend.
type NopPlayer struct{}

func (NopPlayer) Play(string) error { return nil }
func (NopPlayer) Pause() error      { return nil }
func (NopPlayer) Stop() error       { return nil }

// ErrQueueEmpty is returned by Play/Skip when nothing is queued.
var ErrQueueEmpty = errors.New("video queue is empty")

// Controller owns the queue and playback state.
type Controller struct {
	bus    *bus.Dispatcher
	player Player

	mu      sync.Mutex
	queue   []Item
	current *Item
	state   State
}

// NewController builds a stopped controller.
func NewController(d *bus.Dispatcher, player Player) *Controller {
	if player == nil {
		player = NopPlayer{}
	}
	return &Controller{bus: d, player: player, state: StateStopped}
}

// Play resumes the current item, or pulls the next queued one.
func (c *Controller) Play() error {
	c.mu.Lock()
	if c.current == nil {
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return ErrQueueEmpty
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.current = &next
	}
	c.state = StatePlaying
	url := c.current.URL
	c.mu.Unlock()

	if err := c.player.Play(url); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("player failed to start")
	}
	c.broadcast()
	return nil
}

// Pause pauses playback. A no-op error when nothing is playing.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StatePlaying {
		c.mu.Unlock()
		return errors.New("nothing is playing")
	}
	c.state = StatePaused
	c.mu.Unlock()

	if err := c.player.Pause(); err != nil {
		log.Warn().Err(err).Msg("player failed to pause")
	}
	c.broadcast()
	return nil
}

// Stop stops playback and drops the current item.
func (c *Controller) Stop() error {
	c.mu.Lock()
	c.state = StateStopped
	c.current = nil
	c.mu.Unlock()

	if err := c.player.Stop(); err != nil {
		log.Warn().Err(err).Msg("player failed to stop")
	}
	c.broadcast()
	return nil
}

// Skip drops the current item and starts the next queued one.
func (c *Controller) Skip() error {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.state = StateStopped
		c.current = nil
		c.mu.Unlock()
		c.broadcast()
		return ErrQueueEmpty
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	c.current = &next
	c.state = StatePlaying
	url := next.URL
	c.mu.Unlock()

	if err := c.player.Play(url); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("player failed to start")
	}
	c.broadcast()
	return nil
}

// QueueAdd appends an item to the queue.
func (c *Controller) QueueAdd(item Item) {
	c.mu.Lock()
	c.queue = append(c.queue, item)
	c.mu.Unlock()
	c.broadcast()
}

// QueueReorder moves the item at index from to index to.
func (c *Controller) QueueReorder(from, to int) error {
	c.mu.Lock()
	if from < 0 || from >= len(c.queue) || to < 0 || to >= len(c.queue) {
		c.mu.Unlock()
		return errors.New("queue index out of range")
	}
	item := c.queue[from]
	c.queue = append(c.queue[:from], c.queue[from+1:]...)
	rest := append([]Item(nil), c.queue[to:]...)
	c.queue = append(c.queue[:to], append([]Item{item}, rest...)...)
	c.mu.Unlock()
	c.broadcast()
	return nil
}

// QueueClear empties the queue, leaving the current item alone.
func (c *Controller) QueueClear() {
	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
	c.broadcast()
}

// Reset stops playback and clears everything.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.queue = nil
	c.current = nil
	c.state = StateStopped
	c.mu.Unlock()
	_ = c.player.Stop()
}

// Status returns the current snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() Status {
	st := Status{State: c.state, Queue: append([]Item(nil), c.queue...)}
	if c.current != nil {
		cur := *c.current
		st.Current = &cur
	}
	if st.Queue == nil {
		st.Queue = []Item{}
	}
	return st
}

func (c *Controller) broadcast() {
	c.mu.Lock()
	st := c.statusLocked()
	c.mu.Unlock()
	c.bus.Emit(Source, EventStatus, st)
}
