// Package relay mirrors broadcast events onto NATS JetStream so
// external consumers (overlays, analytics, a second venue display) can
// follow the run without holding a WebSocket to the gateway. The relay
// is optional: the engine is fully functional with it disabled.
package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/bus"
)

// SinkName is the dispatcher sink name the relay attaches under.
const SinkName = "relay"

// Config holds the JetStream publisher configuration.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "TOKENSYNC_EVENTS",
		SubjectPrefix: "tokensync.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Relay publishes broadcast events to JetStream. It implements
// bus.Sink; delivery never blocks the emitting goroutine.
type Relay struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config

	eventCh chan bus.Event
}

// New connects to NATS and ensures the event stream exists.
func New(ctx context.Context, config Config) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	r := &Relay{
		nc:      nc,
		js:      js,
		config:  config,
		eventCh: make(chan bus.Event, 256),
	}
	if err := r.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return r, nil
}

// ensureStream creates or reuses the event stream.
func (r *Relay) ensureStream(ctx context.Context) error {
	_, err := r.js.Stream(ctx, r.config.StreamName)
	if err == nil {
		log.Info().Str("stream", r.config.StreamName).Msg("using existing JetStream stream")
		return nil
	}

	_, err = r.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        r.config.StreamName,
		Description: "Mirrored broadcast events",
		Subjects:    []string{r.config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	log.Info().Str("stream", r.config.StreamName).Msg("created JetStream stream")
	return nil
}

// Deliver implements bus.Sink. A full buffer drops the event; the
// relay is best-effort by design and must never stall a broadcast.
func (r *Relay) Deliver(evt bus.Event) {
	select {
	case r.eventCh <- evt:
	default:
		log.Warn().Str("event", evt.Name).Msg("relay buffer full, dropping event")
	}
}

// Run publishes queued events until the context is cancelled.
func (r *Relay) Run(ctx context.Context) {
	log.Info().Str("stream", r.config.StreamName).Msg("relay started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay shutting down")
			return
		case evt := <-r.eventCh:
			r.publish(ctx, evt)
		}
	}
}

func (r *Relay) publish(ctx context.Context, evt bus.Event) {
	payload, err := evt.Marshal()
	if err != nil {
		log.Error().Err(err).Str("event", evt.Name).Msg("failed to marshal relay event")
		return
	}

	if _, err := r.js.Publish(ctx, r.subject(evt.Name), payload); err != nil {
		log.Error().Err(err).Str("event", evt.Name).Msg("failed to publish relay event")
	}
}

// subject maps an event name onto the stream's subject space, e.g.
// score:updated publishes to tokensync.events.score.updated.
func (r *Relay) subject(event string) string {
	return r.config.SubjectPrefix + "." + strings.ReplaceAll(event, ":", ".")
}

// Close closes the NATS connection.
func (r *Relay) Close() {
	if r.nc != nil {
		r.nc.Close()
	}
}
