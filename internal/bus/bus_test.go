package bus

import (
	"testing"
)

type captureSink struct {
	events []Event
}

func (c *captureSink) Deliver(e Event) {
	c.events = append(c.events, e)
}

func TestSubscribeRefusesDuplicateKey(t *testing.T) {
	d := NewDispatcher()

	if _, err := d.Subscribe("session", "session:created", "init-teams", func(Event) {}); err != nil {
		t.Fatalf("first subscribe failed: %v", err)
	}
	if _, err := d.Subscribe("session", "session:created", "init-teams", func(Event) {}); err == nil {
		t.Fatal("expected duplicate registration to be refused")
	}
	// Same event, different purpose is fine.
	if _, err := d.Subscribe("session", "session:created", "audit", func(Event) {}); err != nil {
		t.Fatalf("distinct purpose should register: %v", err)
	}
}

func TestEmitDeliversToListenersThenSink(t *testing.T) {
	d := NewDispatcher()
	var seen []string

	_, err := d.Subscribe("scoring", "score:updated", "test", func(e Event) {
		seen = append(seen, "listener")
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sink := &captureSink{}
	d.AttachSink("gateway", sink)

	d.Emit("scoring", "score:updated", map[string]any{"teamId": "team_a"})

	if len(seen) != 1 {
		t.Fatalf("expected 1 listener call, got %d", len(seen))
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 sink delivery, got %d", len(sink.events))
	}
	if sink.events[0].Name != "score:updated" {
		t.Errorf("unexpected event name %q", sink.events[0].Name)
	}
	if sink.events[0].Timestamp.IsZero() {
		t.Error("envelope timestamp must be set")
	}
}

func TestAttachSinkIsIdempotent(t *testing.T) {
	d := NewDispatcher()
	sink := &captureSink{}

	d.AttachSink("gateway", sink)
	d.AttachSink("gateway", sink) // second attach must not double-deliver

	d.Emit("session", "session:update", nil)

	if len(sink.events) != 1 {
		t.Fatalf("expected exactly 1 delivery after double attach, got %d", len(sink.events))
	}
}

func TestDetachSinkKeepsCoordinationListeners(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	if _, err := d.Subscribe("session", "session:created", "init", func(Event) { calls++ }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sink := &captureSink{}
	d.AttachSink("gateway", sink)
	d.DetachSink("gateway")

	d.Emit("session", "session:created", nil)

	if calls != 1 {
		t.Fatalf("coordination listener must survive sink detach, got %d calls", calls)
	}
	if len(sink.events) != 0 {
		t.Fatalf("detached sink must not receive events, got %d", len(sink.events))
	}
	if d.SinkAttached("gateway") {
		t.Error("sink should report detached")
	}
}

func TestEmitLocalSkipsSinks(t *testing.T) {
	d := NewDispatcher()
	sink := &captureSink{}
	d.AttachSink("gateway", sink)

	calls := 0
	if _, err := d.Subscribe("session", "session:created", "init", func(Event) { calls++ }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	d.EmitLocal("session", "session:created", nil)

	if calls != 1 {
		t.Fatalf("expected listener call, got %d", calls)
	}
	if len(sink.events) != 0 {
		t.Fatalf("EmitLocal must not reach sinks, got %d deliveries", len(sink.events))
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := NewDispatcher()
	calls := 0
	tok, err := d.Subscribe("devices", "device:connected", "count", func(Event) { calls++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	d.Emit("devices", "device:connected", nil)
	d.Unsubscribe(tok)
	d.Emit("devices", "device:connected", nil)

	if calls != 1 {
		t.Fatalf("expected 1 call after unsubscribe, got %d", calls)
	}

	// Key is free for re-registration after unsubscribe.
	if _, err := d.Subscribe("devices", "device:connected", "count", func(Event) {}); err != nil {
		t.Fatalf("re-subscribe after unsubscribe should succeed: %v", err)
	}
}
