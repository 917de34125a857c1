// Package devices records station connectivity for observability and
// the admin display. It is purely observational: nothing here may
// block or fail a transaction or session flow.
package devices

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/bus"
)

const (
	Source = "devices"

	EventConnected    = "device:connected"
	EventDisconnected = "device:disconnected"
)

// recentCap bounds the recent-event list shown to admins.
const recentCap = 64

// DeviceType distinguishes GM stations from player scanners.
type DeviceType string

const (
	TypeGM     DeviceType = "gm"
	TypePlayer DeviceType = "player"
)

// Device is the tracked state of one station.
type Device struct {
	ID             string     `json:"deviceId"`
	Type           DeviceType `json:"deviceType"`
	Version        string     `json:"version,omitempty"`
	Connected      bool       `json:"connected"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	IdentifiedAt   *time.Time `json:"identifiedAt,omitempty"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

// EventRecord is one connectivity event for the admin display.
type EventRecord struct {
	DeviceID   string     `json:"deviceId"`
	DeviceType DeviceType `json:"deviceType"`
	Kind       string     `json:"kind"` // connect, identify, disconnect
	Timestamp  time.Time  `json:"timestamp"`
}

// Tracker records connect/identify/disconnect events per device.
type Tracker struct {
	bus   *bus.Dispatcher
	clock clockwork.Clock

	mu      sync.Mutex
	devices map[string]*Device
	recent  []EventRecord
}

// NewTracker creates an empty tracker.
func NewTracker(d *bus.Dispatcher, clock clockwork.Clock) *Tracker {
	return &Tracker{bus: d, clock: clock, devices: make(map[string]*Device)}
}

// Connect records a station connecting. Unknown metadata is tolerated;
// an empty device ID is tracked under "unknown" rather than rejected.
func (t *Tracker) Connect(deviceID string, deviceType DeviceType) {
	if deviceID == "" {
		deviceID = "unknown"
	}
	now := t.clock.Now().UTC()

	t.mu.Lock()
	dev := t.devices[deviceID]
	if dev == nil {
		dev = &Device{ID: deviceID}
		t.devices[deviceID] = dev
	}
	dev.Type = deviceType
	dev.Connected = true
	dev.ConnectedAt = now
	dev.DisconnectedAt = nil
	t.push(EventRecord{DeviceID: deviceID, DeviceType: deviceType, Kind: "connect", Timestamp: now})
	t.mu.Unlock()

	log.Info().Str("device_id", deviceID).Str("device_type", string(deviceType)).Msg("device connected")
	t.bus.Emit(Source, EventConnected, map[string]any{
		"deviceId":   deviceID,
		"deviceType": deviceType,
	})
}

// Identify records a station's self-identification after handshake.
func (t *Tracker) Identify(deviceID string, deviceType DeviceType, version string) {
	if deviceID == "" {
		return
	}
	now := t.clock.Now().UTC()

	t.mu.Lock()
	dev := t.devices[deviceID]
	if dev == nil {
		dev = &Device{ID: deviceID, Connected: true, ConnectedAt: now}
		t.devices[deviceID] = dev
	}
	dev.Type = deviceType
	dev.Version = version
	dev.IdentifiedAt = &now
	t.push(EventRecord{DeviceID: deviceID, DeviceType: deviceType, Kind: "identify", Timestamp: now})
	t.mu.Unlock()
}

// Disconnect records a station going away.
func (t *Tracker) Disconnect(deviceID string) {
	if deviceID == "" {
		deviceID = "unknown"
	}
	now := t.clock.Now().UTC()

	t.mu.Lock()
	dev := t.devices[deviceID]
	if dev == nil {
		t.mu.Unlock()
		return
	}
	dev.Connected = false
	dev.DisconnectedAt = &now
	typ := dev.Type
	t.push(EventRecord{DeviceID: deviceID, DeviceType: typ, Kind: "disconnect", Timestamp: now})
	t.mu.Unlock()

	log.Info().Str("device_id", deviceID).Msg("device disconnected")
	t.bus.Emit(Source, EventDisconnected, map[string]any{
		"deviceId":   deviceID,
		"deviceType": typ,
	})
}

// Counts returns the number of connected devices per type.
func (t *Tracker) Counts() map[DeviceType]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[DeviceType]int)
	for _, dev := range t.devices {
		if dev.Connected {
			counts[dev.Type]++
		}
	}
	return counts
}

// Snapshot returns all tracked devices sorted by ID.
func (t *Tracker) Snapshot() []Device {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Device, 0, len(t.devices))
	for _, dev := range t.devices {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Recent returns the bounded recent-event list, oldest first.
func (t *Tracker) Recent() []EventRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]EventRecord(nil), t.recent...)
}

// push appends to the recent ring. Caller holds the lock.
func (t *Tracker) push(rec EventRecord) {
	t.recent = append(t.recent, rec)
	if len(t.recent) > recentCap {
		t.recent = t.recent[len(t.recent)-recentCap:]
	}
}
