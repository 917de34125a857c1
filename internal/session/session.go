package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusEnded  Status = "ended"
)

// Session is the single authoritative game-run record. At most one
// session is active or paused at any time.
type Session struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Teams     []string   `json:"teams"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// Clone returns a deep copy so callers can never mutate coordinator
// state through a returned snapshot.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Teams = append([]string(nil), s.Teams...)
	if s.EndTime != nil {
		end := *s.EndTime
		cp.EndTime = &end
	}
	return &cp
}
