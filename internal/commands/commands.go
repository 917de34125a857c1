// Package commands defines the GM command surface as a tagged union:
// one strongly-typed variant per action, so unsupported actions fail
// at parse time and dispatch is an exhaustive type switch rather than
// a string-keyed payload lookup.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Command is the sealed union of all GM actions.
type Command interface {
	Action() string
	isCommand()
}

// ErrUnknownAction is returned for actions outside the union.
var ErrUnknownAction = errors.New("unknown command action")

// SessionCreate starts a new session.
type SessionCreate struct {
	Name  string   `json:"name"`
	Teams []string `json:"teams"`
}

// SessionPause pauses the active session.
type SessionPause struct{}

// SessionResume resumes a paused session.
type SessionResume struct{}

// SessionEnd ends the current session.
type SessionEnd struct{}

// VideoPlay starts or resumes playback.
type VideoPlay struct{}

// VideoPause pauses playback.
type VideoPause struct{}

// VideoStop stops playback.
type VideoStop struct{}

// VideoSkip skips to the next queued item.
type VideoSkip struct{}

// VideoQueueAdd enqueues a video.
type VideoQueueAdd struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// VideoQueueReorder moves a queued item.
type VideoQueueReorder struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// VideoQueueClear empties the video queue.
type VideoQueueClear struct{}

// ScoreAdjust applies an audited out-of-band score delta.
type ScoreAdjust struct {
	TeamID string `json:"teamId"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

// TransactionDelete tombstones a recorded transaction.
type TransactionDelete struct {
	ID uuid.UUID `json:"id"`
}

// TransactionCreate submits a scan on behalf of a station.
type TransactionCreate struct {
	TokenID  string `json:"tokenId"`
	TeamID   string `json:"teamId"`
	DeviceID string `json:"deviceId"`
	Mode     string `json:"mode"`
}

// SystemReset wipes domain state.
type SystemReset struct{}

func (SessionCreate) Action() string     { return "session:create" }
func (SessionPause) Action() string      { return "session:pause" }
func (SessionResume) Action() string     { return "session:resume" }
func (SessionEnd) Action() string        { return "session:end" }
func (VideoPlay) Action() string         { return "video:play" }
func (VideoPause) Action() string        { return "video:pause" }
func (VideoStop) Action() string         { return "video:stop" }
func (VideoSkip) Action() string         { return "video:skip" }
func (VideoQueueAdd) Action() string     { return "video:queue:add" }
func (VideoQueueReorder) Action() string { return "video:queue:reorder" }
func (VideoQueueClear) Action() string   { return "video:queue:clear" }
func (ScoreAdjust) Action() string       { return "score:adjust" }
func (TransactionDelete) Action() string { return "transaction:delete" }
func (TransactionCreate) Action() string { return "transaction:create" }
func (SystemReset) Action() string       { return "system:reset" }

func (SessionCreate) isCommand()     {}
func (SessionPause) isCommand()      {}
func (SessionResume) isCommand()     {}
func (SessionEnd) isCommand()        {}
func (VideoPlay) isCommand()         {}
func (VideoPause) isCommand()        {}
func (VideoStop) isCommand()         {}
func (VideoSkip) isCommand()         {}
func (VideoQueueAdd) isCommand()     {}
func (VideoQueueReorder) isCommand() {}
func (VideoQueueClear) isCommand()   {}
func (ScoreAdjust) isCommand()       {}
func (TransactionDelete) isCommand() {}
func (TransactionCreate) isCommand() {}
func (SystemReset) isCommand()       {}

// Parse decodes an action and its payload into the typed command,
// validating required fields before any mutation can happen.
func Parse(action string, payload json.RawMessage) (Command, error) {
	switch action {
	case "session:create":
		var cmd SessionCreate
		if err := unmarshal(payload, &cmd); err != nil {
			return nil, err
		}
		if cmd.Name == "" {
			return nil, errors.New("session:create requires a name")
		}
		return cmd, nil

	case "session:pause":
		return SessionPause{}, nil
	case "session:resume":
		return SessionResume{}, nil
	case "session:end":
		return SessionEnd{}, nil

	case "video:play":
		return VideoPlay{}, nil
	case "video:pause":
		return VideoPause{}, nil
	case "video:stop":
		return VideoStop{}, nil
	case "video:skip":
		return VideoSkip{}, nil

	case "video:queue:add":
		var cmd VideoQueueAdd
		if err := unmarshal(payload, &cmd); err != nil {
			return nil, err
		}
		if cmd.URL == "" {
			return nil, errors.New("video:queue:add requires a url")
		}
		return cmd, nil

	case "video:queue:reorder":
		var cmd VideoQueueReorder
		if err := unmarshal(payload, &cmd); err != nil {
			return nil, err
		}
		if cmd.From < 0 || cmd.To < 0 {
			return nil, errors.New("video:queue:reorder indexes must be non-negative")
		}
		return cmd, nil

	case "video:queue:clear":
		return VideoQueueClear{}, nil

	case "score:adjust":
		var cmd ScoreAdjust
		if err := unmarshal(payload, &cmd); err != nil {
			return nil, err
		}
		if cmd.TeamID == "" {
			return nil, errors.New("score:adjust requires a teamId")
		}
		if cmd.Reason == "" {
			return nil, errors.New("score:adjust requires a reason")
		}
		return cmd, nil

	case "transaction:delete":
		var cmd TransactionDelete
		if err := unmarshal(payload, &cmd); err != nil {
			return nil, err
		}
		if cmd.ID == uuid.Nil {
			return nil, errors.New("transaction:delete requires an id")
		}
		return cmd, nil

	case "transaction:create":
		var cmd TransactionCreate
		if err := unmarshal(payload, &cmd); err != nil {
			return nil, err
		}
		if cmd.TokenID == "" || cmd.TeamID == "" {
			return nil, errors.New("transaction:create requires tokenId and teamId")
		}
		return cmd, nil

	case "system:reset":
		return SystemReset{}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func unmarshal(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return errors.New("payload is required")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
