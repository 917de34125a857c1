// Package bus is the in-process event dispatcher that fans domain
// events out to internal coordination listeners and to transport
// sinks. Coordination listeners are registered once at service
// construction and survive administrative resets; sinks are transient
// and tied to the transport lifecycle.
package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event is a single domain event. Data must be JSON-marshalable.
type Event struct {
	Source    string
	Name      string
	Data      any
	Timestamp time.Time
}

// Envelope is the uniform wire form of an event.
type Envelope struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Envelope returns the event's wire envelope. Timestamps are UTC.
func (e Event) Envelope() Envelope {
	return Envelope{Event: e.Name, Data: e.Data, Timestamp: e.Timestamp.UTC()}
}

// Marshal returns the JSON encoding of the event envelope.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e.Envelope())
}

// ListenerFunc is a coordination listener callback. Listeners run
// synchronously on the emitting goroutine; mutation always completes
// before Emit is called, so listeners observe applied state.
type ListenerFunc func(Event)

// Sink receives every broadcast event for transport fan-out.
type Sink interface {
	Deliver(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Deliver(e Event) { f(e) }

type listenerKey struct {
	source  string
	event   string
	purpose string
}

// Token identifies a registered coordination listener.
type Token struct {
	key listenerKey
}

// Dispatcher routes events to coordination listeners and attached
// sinks. The listener registry is keyed by (source, event, purpose)
// and refuses duplicate registrations; sink attachment is idempotent
// per sink name. Both disciplines exist because double-registration is
// a real bug class even under serialized access.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[listenerKey]ListenerFunc
	order     []listenerKey
	sinks     map[string]Sink
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		listeners: make(map[listenerKey]ListenerFunc),
		sinks:     make(map[string]Sink),
	}
}

// Subscribe registers a coordination listener for events with the
// given source and name. The purpose string distinguishes multiple
// listeners of one consumer; registering the same (source, event,
// purpose) twice is refused.
func (d *Dispatcher) Subscribe(source, event, purpose string, fn ListenerFunc) (Token, error) {
	key := listenerKey{source: source, event: event, purpose: purpose}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.listeners[key]; exists {
		return Token{}, fmt.Errorf("listener already registered for %s/%s (%s)", source, event, purpose)
	}
	d.listeners[key] = fn
	d.order = append(d.order, key)

	log.Debug().
		Str("source", source).
		Str("event", event).
		Str("purpose", purpose).
		Msg("coordination listener registered")
	return Token{key: key}, nil
}

// Unsubscribe removes a coordination listener by its token.
func (d *Dispatcher) Unsubscribe(tok Token) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.listeners[tok.key]; !exists {
		return
	}
	delete(d.listeners, tok.key)
	for i, k := range d.order {
		if k == tok.key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// AttachSink attaches a transient broadcast sink under a name.
// Re-attaching under the same name is a no-op, so transport setup is
// safely callable any number of times.
func (d *Dispatcher) AttachSink(name string, s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, active := d.sinks[name]; active {
		log.Debug().Str("sink", name).Msg("sink already attached, skipping")
		return
	}
	d.sinks[name] = s
	log.Info().Str("sink", name).Msg("broadcast sink attached")
}

// DetachSink removes a named sink. Coordination listeners are not
// touched; only the transient transport binding goes away.
func (d *Dispatcher) DetachSink(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, active := d.sinks[name]; !active {
		return
	}
	delete(d.sinks, name)
	log.Info().Str("sink", name).Msg("broadcast sink detached")
}

// SinkAttached reports whether a named sink is currently attached.
func (d *Dispatcher) SinkAttached(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, active := d.sinks[name]
	return active
}

// Emit delivers an event to matching coordination listeners in
// registration order and then to every attached sink.
func (d *Dispatcher) Emit(source, name string, data any) {
	d.emit(source, name, data, true)
}

// EmitLocal delivers an event to coordination listeners only. Used
// for internal coordination events that are not part of the client
// protocol.
func (d *Dispatcher) EmitLocal(source, name string, data any) {
	d.emit(source, name, data, false)
}

func (d *Dispatcher) emit(source, name string, data any, broadcast bool) {
	evt := Event{Source: source, Name: name, Data: data, Timestamp: time.Now().UTC()}

	d.mu.RLock()
	var fns []ListenerFunc
	for _, key := range d.order {
		if key.source == source && key.event == name {
			fns = append(fns, d.listeners[key])
		}
	}
	var sinks []Sink
	if broadcast {
		for _, s := range d.sinks {
			sinks = append(sinks, s)
		}
	}
	d.mu.RUnlock()

	for _, fn := range fns {
		fn(evt)
	}
	for _, s := range sinks {
		s.Deliver(evt)
	}
}
