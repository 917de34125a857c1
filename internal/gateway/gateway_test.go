package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/alnlive/tokensync/internal/admission"
	"github.com/alnlive/tokensync/internal/bus"
	"github.com/alnlive/tokensync/internal/devices"
	"github.com/alnlive/tokensync/internal/scoring"
	"github.com/alnlive/tokensync/internal/session"
	"github.com/alnlive/tokensync/internal/tokens"
	"github.com/alnlive/tokensync/internal/video"
)

func newTestStack(t *testing.T) (*Handler, Services) {
	t.Helper()

	d := bus.NewDispatcher()
	cat := tokens.NewCatalog([]tokens.Token{
		{ID: "tok-1", Name: "Server Logs", ValueRating: 1, MemoryType: tokens.MemoryTypeTechnical},
		{ID: "tok-2", Name: "Ledger Page", ValueRating: 2, MemoryType: tokens.MemoryTypeBusiness},
	})
	clock := clockwork.NewRealClock()

	sessions, err := session.NewCoordinator(context.Background(), session.NewMemStore(), d, clock)
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	engine, err := scoring.NewEngine(cat, d)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	adm := admission.NewService(sessions, engine, cat, admission.NewMemStore(), d, clock)

	svcs := Services{
		Sessions:  sessions,
		Scoring:   engine,
		Admission: adm,
		Devices:   devices.NewTracker(d, clock),
		Video:     video.NewController(d, nil),
		Catalog:   cat,
		Bus:       d,
	}
	h := NewHandler(DefaultConnectionConfig(), svcs, StaticTokenAuthenticator{Token: "secret"})
	return h, svcs
}

func newTestServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	RegisterRoutes(mux, h)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, params string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + params
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", params, err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		t.Fatalf("unmarshal frame %s: %v", msg, err)
	}
	return f
}

// waitFor reads frames until the named event arrives, skipping
// unrelated broadcasts.
func waitFor(t *testing.T, ws *websocket.Conn, event string) frame {
	t.Helper()

	for i := 0; i < 20; i++ {
		f := readFrame(t, ws)
		if f.Event == event {
			return f
		}
	}
	t.Fatalf("never received %s", event)
	return frame{}
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()

	payload, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	h, _ := newTestStack(t)
	srv := newTestServer(t, h)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=wrong&deviceId=gm-1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestSyncFullIsFirstFrame(t *testing.T) {
	h, svcs := newTestStack(t)
	srv := newTestServer(t, h)

	if _, err := svcs.Sessions.Create(context.Background(), "Friday Run", []string{"alpha", "beta"}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svcs.Admission.Submit(context.Background(), admission.SubmitRequest{
		TokenID: "tok-1", TeamID: "alpha", DeviceID: "scanner-1", Mode: admission.ModeBlackmarket,
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ws := dial(t, srv, "token=secret&deviceId=scanner-2&deviceType=player")
	f := readFrame(t, ws)
	if f.Event != EventSyncFull {
		t.Fatalf("first frame = %s, want %s", f.Event, EventSyncFull)
	}

	var snap syncFull
	if err := json.Unmarshal(f.Data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Session == nil || snap.Session.Name != "Friday Run" {
		t.Fatalf("snapshot session = %+v", snap.Session)
	}
	if len(snap.Transactions) != 1 {
		t.Fatalf("snapshot transactions = %d, want 1", len(snap.Transactions))
	}
	var alpha int
	for _, sc := range snap.Scores {
		if sc.TeamID == "alpha" {
			alpha = sc.CurrentScore
		}
	}
	if alpha != 500 {
		t.Fatalf("alpha score in snapshot = %d, want 500", alpha)
	}
}

func TestTransactionSubmitUnicastsResult(t *testing.T) {
	h, svcs := newTestStack(t)
	srv := newTestServer(t, h)

	if _, err := svcs.Sessions.Create(context.Background(), "Run", []string{"alpha"}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	ws := dial(t, srv, "token=secret&deviceId=scanner-1&deviceType=player")
	readFrame(t, ws) // sync:full

	send(t, ws, EventTxnSubmit, admission.SubmitRequest{
		TokenID: "tok-1", TeamID: "alpha", Mode: admission.ModeBlackmarket,
	})

	f := waitFor(t, ws, EventTxnResult)
	var res txnResult
	if err := json.Unmarshal(f.Data, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.Status != admission.StatusAccepted || res.Points != 500 {
		t.Fatalf("result = %+v, want accepted/500", res)
	}
	if res.Transaction == nil || res.Transaction.DeviceID != "scanner-1" {
		t.Fatalf("device id not defaulted from connection: %+v", res.Transaction)
	}
}

func TestSubmitWithoutSessionReturnsError(t *testing.T) {
	h, _ := newTestStack(t)
	srv := newTestServer(t, h)

	ws := dial(t, srv, "token=secret&deviceId=scanner-1&deviceType=player")
	readFrame(t, ws) // sync:full

	send(t, ws, EventTxnSubmit, admission.SubmitRequest{
		TokenID: "tok-1", TeamID: "alpha", Mode: admission.ModeBlackmarket,
	})

	f := waitFor(t, ws, EventTxnResult)
	var res txnResult
	if err := json.Unmarshal(f.Data, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.Status != "error" || res.Error == "" {
		t.Fatalf("result = %+v, want error status", res)
	}
}

func TestGMCommandAck(t *testing.T) {
	h, _ := newTestStack(t)
	srv := newTestServer(t, h)

	ws := dial(t, srv, "token=secret&deviceId=gm-1&deviceType=gm")
	readFrame(t, ws) // sync:full

	send(t, ws, EventGMCommand, map[string]any{
		"action":  "session:create",
		"payload": map[string]any{"name": "Run", "teams": []string{"alpha"}},
	})

	f := waitFor(t, ws, EventGMCommandAck)
	var ack commandAck
	if err := json.Unmarshal(f.Data, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if !ack.Success || ack.Action != "session:create" {
		t.Fatalf("ack = %+v", ack)
	}
	if ack.Data == nil {
		t.Fatal("session:create ack should carry the session")
	}

	// The new session is also broadcast to the same connection.
	waitFor(t, ws, session.EventUpdate)
}

func TestGMCommandFromPlayerIsRefused(t *testing.T) {
	h, svcs := newTestStack(t)
	srv := newTestServer(t, h)

	ws := dial(t, srv, "token=secret&deviceId=scanner-1&deviceType=player")
	readFrame(t, ws) // sync:full

	send(t, ws, EventGMCommand, map[string]any{"action": "session:end"})

	f := waitFor(t, ws, EventGMCommandAck)
	var ack commandAck
	if err := json.Unmarshal(f.Data, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Success {
		t.Fatal("player station must not execute gm commands")
	}
	if svcs.Sessions.Current() != nil {
		t.Fatal("refused command must not touch state")
	}
}

func TestUnknownActionAcksFailure(t *testing.T) {
	h, _ := newTestStack(t)
	srv := newTestServer(t, h)

	ws := dial(t, srv, "token=secret&deviceId=gm-1&deviceType=gm")
	readFrame(t, ws) // sync:full

	send(t, ws, EventGMCommand, map[string]any{"action": "session:explode"})

	f := waitFor(t, ws, EventGMCommandAck)
	var ack commandAck
	if err := json.Unmarshal(f.Data, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Success || ack.Error == "" {
		t.Fatalf("ack = %+v, want failure with error", ack)
	}
}

func TestScanBatchEndpoint(t *testing.T) {
	h, svcs := newTestStack(t)
	srv := newTestServer(t, h)

	if _, err := svcs.Sessions.Create(context.Background(), "Run", []string{"alpha"}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	batch := admission.Batch{
		BatchID: uuid.New(),
		Transactions: []admission.SubmitRequest{
			{TokenID: "tok-1", TeamID: "alpha", DeviceID: "scanner-1", Mode: admission.ModeBlackmarket},
			{TokenID: "tok-2", TeamID: "alpha", DeviceID: "scanner-1", Mode: admission.ModeBlackmarket},
		},
	}
	body, _ := json.Marshal(batch)

	resp, err := http.Post(srv.URL+"/api/scan/batch", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post batch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var res admission.BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ProcessedCount != 2 || res.TotalCount != 2 {
		t.Fatalf("batch result = %+v", res)
	}
}

func TestScanBatchRejectsMissingID(t *testing.T) {
	h, _ := newTestStack(t)
	srv := newTestServer(t, h)

	resp, err := http.Post(srv.URL+"/api/scan/batch", "application/json", strings.NewReader(`{"transactions":[]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := newTestStack(t)
	srv := newTestServer(t, h)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
