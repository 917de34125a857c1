// Package scoring computes per-transaction point values and per-team
// group-completion bonuses from the token catalog and the accepted
// transaction history.
package scoring

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alnlive/tokensync/internal/bus"
	"github.com/alnlive/tokensync/internal/session"
	"github.com/alnlive/tokensync/internal/tokens"
)

const (
	Source = "scoring"

	EventScoreUpdated   = "score:updated"
	EventGroupCompleted = "group:completed"
)

// ErrReasonRequired is returned by AdjustScore without a reason.
var ErrReasonRequired = errors.New("adjustment reason is required")

// TeamScore is the scoring state for one team in the current session.
// CurrentScore is always BaseScore + BonusPoints.
type TeamScore struct {
	TeamID          string   `json:"teamId"`
	BaseScore       int      `json:"baseScore"`
	BonusPoints     int      `json:"bonusPoints"`
	CurrentScore    int      `json:"currentScore"`
	TokensScanned   int      `json:"tokensScanned"`
	CompletedGroups []string `json:"completedGroups"`
}

// GroupCompletion is the group:completed broadcast payload.
type GroupCompletion struct {
	Group       string    `json:"group"`
	BonusPoints int       `json:"bonusPoints"`
	TeamID      string    `json:"teamId"`
	CompletedAt time.Time `json:"completedAt"`
}

// Adjustment is one audited out-of-band score change.
type Adjustment struct {
	TeamID    string    `json:"teamId"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	AppliedAt time.Time `json:"appliedAt"`
}

type teamState struct {
	base        int
	bonus       int
	scanned     int
	accepted    []string            // blackmarket-accepted token IDs, in order
	completed   map[string]struct{} // completed group names
	adjustments int                 // net out-of-band delta
}

// Engine owns all TeamScore state. Teams are initialized when a
// session is created and lazily on first accepted transaction.
type Engine struct {
	catalog *tokens.Catalog
	bus     *bus.Dispatcher

	mu    sync.Mutex
	teams map[string]*teamState
	audit []Adjustment
}

// NewEngine builds a scoring engine and registers its coordination
// listener so team records exist as soon as a session is created. The
// listener is tied to engine construction and survives transport
// resets.
func NewEngine(catalog *tokens.Catalog, d *bus.Dispatcher) (*Engine, error) {
	e := &Engine{
		catalog: catalog,
		bus:     d,
		teams:   make(map[string]*teamState),
	}

	_, err := d.Subscribe(session.Source, session.EventCreated, "scoring-init-teams", func(evt bus.Event) {
		s, ok := evt.Data.(*session.Session)
		if !ok {
			return
		}
		e.StartSession(s.Teams)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// StartSession resets all team state for a fresh session and creates
// zeroed records for the named teams.
func (e *Engine) StartSession(teams []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.teams = make(map[string]*teamState, len(teams))
	e.audit = nil
	for _, id := range teams {
		e.teams[id] = newTeamState()
	}
	log.Info().Strs("teams", teams).Msg("scoring state initialized for session")
}

// TokenValue returns the point value of a token ID, or 0 when the
// token is not in the catalog.
func (e *Engine) TokenValue(tokenID string) int {
	tok, ok := e.catalog.Lookup(tokenID)
	if !ok {
		return 0
	}
	return ValueOf(tok)
}

// RecordAccepted applies one accepted blackmarket scan: adds the
// token's value to the team's base score and re-evaluates group
// completion. Completion fires at most once per (team, group) per
// session; the bonus brings the group's total payout to multiplier
// times its token-value sum. Returns the points awarded for the scan.
func (e *Engine) RecordAccepted(teamID string, tok tokens.Token) int {
	e.mu.Lock()
	ts := e.getOrCreate(teamID)

	points := ValueOf(tok)
	ts.base += points
	ts.scanned++
	ts.accepted = append(ts.accepted, tok.ID)

	completion := e.checkCompletion(teamID, ts, tok)
	snapshot := e.snapshot(teamID, ts)
	e.mu.Unlock()

	if completion != nil {
		log.Info().
			Str("team_id", teamID).
			Str("group", completion.Group).
			Int("bonus", completion.BonusPoints).
			Msg("group completed")
		e.bus.Emit(Source, EventGroupCompleted, completion)
	}
	e.bus.Emit(Source, EventScoreUpdated, snapshot)
	return points
}

// checkCompletion marks the token's group completed for the team when
// every member has been accepted. Caller holds the lock.
func (e *Engine) checkCompletion(teamID string, ts *teamState, tok tokens.Token) *GroupCompletion {
	ref := tok.GroupRef()
	if ref.Name == "" || !e.catalog.BonusEligible(ref.Name) {
		return nil
	}
	if _, done := ts.completed[ref.Name]; done {
		return nil
	}

	have := make(map[string]struct{}, len(ts.accepted))
	for _, id := range ts.accepted {
		have[id] = struct{}{}
	}
	sum := 0
	for _, id := range e.catalog.GroupMembers(ref.Name) {
		if _, ok := have[id]; !ok {
			return nil
		}
		member, _ := e.catalog.Lookup(id)
		sum += ValueOf(member)
	}

	bonus := sum * (ref.Multiplier - 1)
	ts.bonus += bonus
	ts.completed[ref.Name] = struct{}{}
	return &GroupCompletion{
		Group:       ref.Name,
		BonusPoints: bonus,
		TeamID:      teamID,
		CompletedAt: time.Now().UTC(),
	}
}

// RemoveAccepted retracts one previously accepted blackmarket scan,
// recomputing the team from its remaining accepted tokens. A group
// broken by the removal loses its bonus and is unmarked, so the same
// token can complete it again later.
func (e *Engine) RemoveAccepted(teamID, tokenID string) {
	e.mu.Lock()
	ts, ok := e.teams[teamID]
	if !ok {
		e.mu.Unlock()
		return
	}

	removed := false
	for i, id := range ts.accepted {
		if id == tokenID {
			ts.accepted = append(ts.accepted[:i], ts.accepted[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		e.mu.Unlock()
		return
	}

	remaining := ts.accepted
	fresh := newTeamState()
	fresh.adjustments = ts.adjustments
	for _, id := range remaining {
		tok, known := e.catalog.Lookup(id)
		if !known {
			tok = tokens.Token{ID: id}
		}
		fresh.base += ValueOf(tok)
		fresh.scanned++
		fresh.accepted = append(fresh.accepted, id)
		e.checkCompletion(teamID, fresh, tok)
	}
	e.teams[teamID] = fresh
	snapshot := e.snapshot(teamID, fresh)
	e.mu.Unlock()

	e.bus.Emit(Source, EventScoreUpdated, snapshot)
}

// AdjustScore applies an admin-initiated delta to a team's bonus
// ledger. The reason is mandatory and audited.
func (e *Engine) AdjustScore(teamID string, delta int, reason string) error {
	if reason == "" {
		return ErrReasonRequired
	}

	e.mu.Lock()
	ts := e.getOrCreate(teamID)
	ts.adjustments += delta
	adj := Adjustment{TeamID: teamID, Delta: delta, Reason: reason, AppliedAt: time.Now().UTC()}
	e.audit = append(e.audit, adj)
	snapshot := e.snapshot(teamID, ts)
	e.mu.Unlock()

	log.Info().
		Str("team_id", teamID).
		Int("delta", delta).
		Str("reason", reason).
		Msg("score adjusted")
	e.bus.Emit(Source, EventScoreUpdated, snapshot)
	return nil
}

// Score returns the current TeamScore for one team and whether the
// team exists.
func (e *Engine) Score(teamID string) (TeamScore, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, ok := e.teams[teamID]
	if !ok {
		return TeamScore{}, false
	}
	return e.snapshot(teamID, ts), true
}

// Scores returns all team scores sorted by team ID.
func (e *Engine) Scores() []TeamScore {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]TeamScore, 0, len(e.teams))
	for id, ts := range e.teams {
		out = append(out, e.snapshot(id, ts))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TeamID < out[j].TeamID })
	return out
}

// Adjustments returns the audit ledger of out-of-band changes.
func (e *Engine) Adjustments() []Adjustment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Adjustment(nil), e.audit...)
}

// Reset wipes all team state. Coordination listeners stay registered.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teams = make(map[string]*teamState)
	e.audit = nil
	log.Info().Msg("scoring state reset")
}

func (e *Engine) getOrCreate(teamID string) *teamState {
	ts, ok := e.teams[teamID]
	if !ok {
		ts = newTeamState()
		e.teams[teamID] = ts
	}
	return ts
}

func (e *Engine) snapshot(teamID string, ts *teamState) TeamScore {
	groups := make([]string, 0, len(ts.completed))
	for g := range ts.completed {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	bonus := ts.bonus + ts.adjustments
	return TeamScore{
		TeamID:          teamID,
		BaseScore:       ts.base,
		BonusPoints:     bonus,
		CurrentScore:    ts.base + bonus,
		TokensScanned:   ts.scanned,
		CompletedGroups: groups,
	}
}

func newTeamState() *teamState {
	return &teamState{completed: make(map[string]struct{})}
}
