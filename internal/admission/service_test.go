package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/alnlive/tokensync/internal/bus"
	"github.com/alnlive/tokensync/internal/scoring"
	"github.com/alnlive/tokensync/internal/session"
	"github.com/alnlive/tokensync/internal/tokens"
)

type fixture struct {
	svc      *Service
	sessions *session.Coordinator
	engine   *scoring.Engine
	bus      *bus.Dispatcher
	store    *MemStore
}

func testCatalog() *tokens.Catalog {
	return tokens.NewCatalog([]tokens.Token{
		{ID: "tok_pers", ValueRating: 1, MemoryType: tokens.MemoryTypePersonal},
		{ID: "tok_tech", ValueRating: 1, MemoryType: tokens.MemoryTypeTechnical},
		{ID: "grp_a", ValueRating: 2, MemoryType: tokens.MemoryTypeBusiness, Group: "Ledger (x2)"},
		{ID: "grp_b", ValueRating: 2, MemoryType: tokens.MemoryTypeBusiness, Group: "Ledger (x2)"},
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := bus.NewDispatcher()
	catalog := testCatalog()

	engine, err := scoring.NewEngine(catalog, d)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	coord, err := session.NewCoordinator(context.Background(), session.NewMemStore(), d, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	store := NewMemStore()
	svc := NewService(coord, engine, catalog, store, d, clockwork.NewFakeClock())
	return &fixture{svc: svc, sessions: coord, engine: engine, bus: d, store: store}
}

func (f *fixture) startSession(t *testing.T, teams ...string) {
	t.Helper()
	if _, err := f.sessions.Create(context.Background(), "test run", teams); err != nil {
		t.Fatalf("create session: %v", err)
	}
}

func TestSubmitRequiresActiveSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Submit(ctx, SubmitRequest{TokenID: "tok_pers", TeamID: "team_a", Mode: ModeBlackmarket})
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("got %v, want ErrNoActiveSession", err)
	}

	// A paused session rejects too, and the rejection is the session
	// error, not a duplicate outcome.
	f.startSession(t, "team_a")
	if err := f.sessions.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err = f.svc.Submit(ctx, SubmitRequest{TokenID: "tok_pers", TeamID: "team_a", Mode: ModeBlackmarket})
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("paused session: got %v, want ErrNoActiveSession", err)
	}

	// No score or transaction state changed.
	if got := len(f.svc.Recent()); got != 0 {
		t.Fatalf("expected no recorded transactions, got %d", got)
	}
	if score, ok := f.engine.Score("team_a"); ok && score.CurrentScore != 0 {
		t.Fatalf("score must be untouched, got %+v", score)
	}
}

func TestCrossTeamDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startSession(t, "team_a", "team_b")

	var broadcasts []string
	f.bus.AttachSink("test", bus.SinkFunc(func(e bus.Event) { broadcasts = append(broadcasts, e.Name) }))

	first, err := f.svc.Submit(ctx, SubmitRequest{TokenID: "tok_tech", TeamID: "team_a", Mode: ModeBlackmarket})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if first.Status != StatusAccepted || first.Points != 500 {
		t.Fatalf("first scan: got %+v, want accepted 500", first)
	}

	broadcasts = broadcasts[:0]
	second, err := f.svc.Submit(ctx, SubmitRequest{TokenID: "tok_tech", TeamID: "team_b", Mode: ModeBlackmarket})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.Status != StatusDuplicate || second.Points != 0 {
		t.Fatalf("second scan: got %+v, want duplicate 0", second)
	}

	// Duplicates are not broadcast to the room.
	for _, name := range broadcasts {
		if name == EventTransactionNew {
			t.Fatal("duplicate must not produce a transaction:new broadcast")
		}
	}

	// Team A's score is unaffected by the rejected attempt.
	scoreA, _ := f.engine.Score("team_a")
	if scoreA.CurrentScore != 500 {
		t.Errorf("team_a score = %d, want 500", scoreA.CurrentScore)
	}
	scoreB, _ := f.engine.Score("team_b")
	if scoreB.CurrentScore != 0 {
		t.Errorf("team_b score = %d, want 0", scoreB.CurrentScore)
	}
}

func TestDetectiveModeNeverScores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startSession(t, "team_a")

	res, err := f.svc.Submit(ctx, SubmitRequest{TokenID: "grp_a", TeamID: "team_a", Mode: ModeDetective})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != StatusAccepted || res.Points != 0 {
		t.Fatalf("detective scan: got %+v, want accepted 0", res)
	}

	score, _ := f.engine.Score("team_a")
	if score.CurrentScore != 0 || score.TokensScanned != 0 {
		t.Fatalf("detective scan must not touch scoring, got %+v", score)
	}

	// The detective claim still makes later scans duplicates.
	dup, err := f.svc.Submit(ctx, SubmitRequest{TokenID: "grp_a", TeamID: "team_a", Mode: ModeBlackmarket})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if dup.Status != StatusDuplicate {
		t.Fatalf("expected duplicate after detective claim, got %+v", dup)
	}
}

func TestUnknownTokenAcceptedAtZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startSession(t, "team_a")

	res, err := f.svc.Submit(ctx, SubmitRequest{TokenID: "mystery", TeamID: "team_a", Mode: ModeBlackmarket})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != StatusAccepted || res.Points != 0 {
		t.Fatalf("unknown token: got %+v, want accepted 0", res)
	}
}

func TestDeleteRetractsAndReopensToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startSession(t, "team_a")

	// Complete the two-token Ledger group (each token 500*3 = 1500,
	// bonus = 3000 * (2-1) = 3000).
	if _, err := f.svc.Submit(ctx, SubmitRequest{TokenID: "grp_a", TeamID: "team_a", Mode: ModeBlackmarket}); err != nil {
		t.Fatalf("submit grp_a: %v", err)
	}
	last, err := f.svc.Submit(ctx, SubmitRequest{TokenID: "grp_b", TeamID: "team_a", Mode: ModeBlackmarket})
	if err != nil {
		t.Fatalf("submit grp_b: %v", err)
	}

	score, _ := f.engine.Score("team_a")
	if score.BonusPoints != 3000 {
		t.Fatalf("precondition: bonus = %d, want 3000", score.BonusPoints)
	}

	// Deleting the completing transaction retracts the bonus.
	if err := f.svc.Delete(ctx, last.Transaction.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	score, _ = f.engine.Score("team_a")
	if score.BonusPoints != 0 || score.BaseScore != 1500 {
		t.Fatalf("after delete: got %+v, want base 1500 bonus 0", score)
	}

	// The token is re-acceptable as a fresh, non-duplicate scan.
	again, err := f.svc.Submit(ctx, SubmitRequest{TokenID: "grp_b", TeamID: "team_a", Mode: ModeBlackmarket})
	if err != nil {
		t.Fatalf("resubmit after delete: %v", err)
	}
	if again.Status != StatusAccepted {
		t.Fatalf("resubmit after delete: got %+v, want accepted", again)
	}
	score, _ = f.engine.Score("team_a")
	if score.BonusPoints != 3000 {
		t.Fatalf("group should re-complete, got %+v", score)
	}
}

func TestDeleteUnknownTransaction(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Delete(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestBatchProcessingAndReplayIdempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startSession(t, "team_a")

	var acks []bus.Event
	if _, err := f.bus.Subscribe(Source, EventBatchAck, "test", func(e bus.Event) {
		acks = append(acks, e)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	batch := Batch{
		BatchID: uuid.New(),
		Transactions: []SubmitRequest{
			{TokenID: "tok_pers", TeamID: "team_a", Mode: ModeBlackmarket},
			{TokenID: "tok_tech", TeamID: "team_a", Mode: ModeBlackmarket},
		},
	}

	res := f.svc.ProcessBatch(ctx, batch)
	if res.ProcessedCount != 2 || res.TotalCount != 2 || res.FailedCount != 0 {
		t.Fatalf("batch result: %+v", res)
	}
	if len(acks) != 1 {
		t.Fatalf("expected 1 batch:ack, got %d", len(acks))
	}

	score, _ := f.engine.Score("team_a")
	want := 100 + 500
	if score.CurrentScore != want {
		t.Fatalf("score = %d, want %d", score.CurrentScore, want)
	}

	// Replaying the same batch must not double-count: the duplicate
	// index turns every entry into a zero-point duplicate.
	replay := f.svc.ProcessBatch(ctx, batch)
	if replay.ProcessedCount != 2 {
		t.Fatalf("replay processed = %d, want 2", replay.ProcessedCount)
	}
	score, _ = f.engine.Score("team_a")
	if score.CurrentScore != want {
		t.Fatalf("replay changed score to %d", score.CurrentScore)
	}
}

func TestBatchAgainstPausedSessionFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startSession(t, "team_a")
	if err := f.sessions.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}

	res := f.svc.ProcessBatch(ctx, Batch{
		BatchID:      uuid.New(),
		Transactions: []SubmitRequest{{TokenID: "tok_pers", TeamID: "team_a", Mode: ModeBlackmarket}},
	})
	if res.FailedCount != 1 || res.ProcessedCount != 0 {
		t.Fatalf("batch against paused session: %+v", res)
	}
}

func TestRestoreRebuildsIndexAndScores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.startSession(t, "team_a")

	if _, err := f.svc.Submit(ctx, SubmitRequest{TokenID: "tok_tech", TeamID: "team_a", Mode: ModeBlackmarket}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Rebuild a fresh service against the same stores, as a restart
	// would.
	d2 := bus.NewDispatcher()
	engine2, err := scoring.NewEngine(testCatalog(), d2)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	svc2 := NewService(f.sessions, engine2, testCatalog(), f.store, d2, clockwork.NewFakeClock())
	if err := svc2.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}

	score, _ := engine2.Score("team_a")
	if score.CurrentScore != 500 {
		t.Fatalf("restored score = %d, want 500", score.CurrentScore)
	}

	// The duplicate index was rebuilt from stored records.
	dup, err := svc2.Submit(ctx, SubmitRequest{TokenID: "tok_tech", TeamID: "team_b", Mode: ModeBlackmarket})
	if err != nil {
		t.Fatalf("submit after restore: %v", err)
	}
	if dup.Status != StatusDuplicate {
		t.Fatalf("expected duplicate after restore, got %+v", dup)
	}
}
