package relay

import (
	"testing"
	"time"

	"github.com/alnlive/tokensync/internal/bus"
)

func TestSubjectMapping(t *testing.T) {
	r := &Relay{config: DefaultConfig()}

	tests := []struct {
		event string
		want  string
	}{
		{"score:updated", "tokensync.events.score.updated"},
		{"session:update", "tokensync.events.session.update"},
		{"video:queue:add", "tokensync.events.video.queue.add"},
	}
	for _, tc := range tests {
		if got := r.subject(tc.event); got != tc.want {
			t.Errorf("subject(%q) = %q, want %q", tc.event, got, tc.want)
		}
	}
}

func TestDeliverNeverBlocks(t *testing.T) {
	r := &Relay{config: DefaultConfig(), eventCh: make(chan bus.Event, 1)}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.Deliver(bus.Event{Name: "score:updated", Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked on a full buffer")
	}
}
