package probe

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-observer/internal/domain"
	"github.com/park285/cheese-observer/internal/frame"
	"github.com/park285/cheese-observer/internal/reconcile"
)

type fakeHandler struct {
	mu      sync.Mutex
	doms    []domain.PartialUpdate
	frames  []string
	resets  int
	changed chan struct{}
}

func newFakeHandler() *fakeHandler { return &fakeHandler{changed: make(chan struct{}, 16)} }

func (f *fakeHandler) SubmitDOM(_ context.Context, position string, page reconcile.PageDetector) error {
	f.mu.Lock()
	f.doms = append(f.doms, reconcile.FromDOM(position, page))
	f.mu.Unlock()
	f.changed <- struct{}{}
	return nil
}

func (f *fakeHandler) SubmitFrame(_ context.Context, text string) error {
	f.mu.Lock()
	f.frames = append(f.frames, text)
	f.mu.Unlock()
	f.changed <- struct{}{}
	return nil
}

func (f *fakeHandler) NewGame(context.Context) error {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
	f.changed <- struct{}{}
	return nil
}

func TestParseClock(t *testing.T) {
	cases := map[string]int{"3:05": 185, "1:02:03": 3723, "0:09.8": 9, "42": 42, " 7.9 ": 7}
	for in, want := range cases {
		got := ParseClock(in)
		if got == nil || *got != want { t.Fatalf("ParseClock(%q) = %v, want %d", in, got, want) }
	}
	if got := ParseClock("1e300"); got == nil || *got != domain.MaxClockSeconds { t.Fatalf("huge clock not clamped: %v", got) }
	for _, in := range []string{"", "abc", "1:2:3:4", "-5", "1.5:00"} {
		if got := ParseClock(in); got != nil { t.Fatalf("ParseClock(%q) should be nil, got %d", in, *got) }
	}
}

func TestDispatch(t *testing.T) {
	h := newFakeHandler()
	ctx := context.Background()
	var env Envelope
	raw := `{"type":"FEN_DOM","fen":"8/8/8/8/8/8/8/4K3 w - - 0 1","white_time":"3:05","black_time":120,"mode":"playing","your_color":"black"}`
	if err := decodeEnvelope(raw, &env); err != nil { t.Fatalf("unmarshal: %v", err) }
	if err := Dispatch(ctx, h, env, nil); err != nil { t.Fatalf("dispatch dom: %v", err) }
	u := h.doms[0]
	if u.Position == "" || *u.WhiteTime != 185 || *u.BlackTime != 120 || u.Mode != domain.ModePlaying || u.YourColor != domain.ColorBlack {
		t.Fatalf("dom update: %+v", u)
	}

	payload := base64.StdEncoding.EncodeToString([]byte(`{"fen":"x/y"}`))
	_ = Dispatch(ctx, h, Envelope{Type: TypeRaw, Payload: payload, Encoding: "base64"}, nil)
	_ = Dispatch(ctx, h, Envelope{Type: TypeRaw, Payload: `{"t":"ping"}`}, nil)
	_ = Dispatch(ctx, h, Envelope{Type: TypeRaw, Payload: "%%%", Encoding: "base64"}, nil)
	if len(h.frames) != 1 || h.frames[0] != `{"fen":"x/y"}` { t.Fatalf("frames: %v", h.frames) }

	_ = Dispatch(ctx, h, Envelope{Type: TypeNewGame}, nil)
	_ = Dispatch(ctx, h, Envelope{Type: "UNKNOWN"}, nil)
	if h.resets != 1 { t.Fatalf("resets: %d", h.resets) }
}

func decodeEnvelope(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}

func TestClient_ReadsEnvelopesAndWrites(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Probe-Token") != "secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil { return }
		defer conn.CloseNow()
		ctx := r.Context()
		_ = wsjson.Write(ctx, conn, map[string]any{"type": TypeRaw, "payload": `B({"fen":"8/8/8/8/8/8/8/8 w","wtime":1000})`})
		_ = wsjson.Write(ctx, conn, map[string]any{"type": TypeNewGame})
		var v map[string]any
		if err := wsjson.Read(ctx, conn, &v); err == nil {
			received <- v
		}
		<-ctx.Done()
	}))
	defer srv.Close()

	h := newFakeHandler()
	c, err := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), h,
		WithHeaderProvider(func() map[string]string { return map[string]string{"X-Probe-Token": "secret"} }),
		WithReconnect(1, 10*time.Millisecond),
	)
	if err != nil { t.Fatalf("NewClient: %v", err) }
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() { cancel(); <-done }()

	for i := 0; i < 2; i++ {
		select {
		case <-h.changed:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for envelopes")
		}
	}
	if len(h.frames) != 1 || h.resets != 1 { t.Fatalf("frames=%d resets=%d", len(h.frames), h.resets) }

	deadline := time.Now().Add(2 * time.Second)
	for !c.Connected() && time.Now().Before(deadline) { time.Sleep(5 * time.Millisecond) }
	if err := c.WriteJSON(context.Background(), map[string]any{"type": TypeSnapshot}); err != nil { t.Fatalf("write: %v", err) }
	select {
	case v := <-received:
		if v["type"] != TypeSnapshot { t.Fatalf("server got %v", v) }
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not receive write")
	}
}

func TestClient_GivesUpAfterBudget(t *testing.T) {
	c, err := NewClient("ws://127.0.0.1:1/none", newFakeHandler(), WithReconnect(1, time.Millisecond))
	if err != nil { t.Fatalf("NewClient: %v", err) }
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Run(ctx); err == nil || ctx.Err() != nil { t.Fatalf("want budget error, got %v", err) }
	if c.State() != StateFailed { t.Fatalf("state: %s", c.State()) }
	if err := c.WriteJSON(ctx, 1); err != ErrNotConnected { t.Fatalf("write while down: %v", err) }
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(" ", newFakeHandler()); err == nil { t.Fatalf("empty url accepted") }
	if _, err := NewClient("ws://x", nil); err == nil { t.Fatalf("nil handler accepted") }
}

type recordSink chan domain.Record

func (s recordSink) Deliver(_ context.Context, rec domain.Record) error {
	s <- rec
	return nil
}

func TestDispatch_MoveListFrameReachesReconciler(t *testing.T) {
	out := make(recordSink, 4)
	hub, err := reconcile.NewHub(reconcile.New(), frame.NewDecoder(nil), out, 8, nil)
	if err != nil { t.Fatalf("hub: %v", err) }
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = hub.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	raw := Envelope{Type: TypeRaw, Payload: `{"moves":"e2e4 e7e5"}`}
	if err := Dispatch(ctx, hub, raw, nil); err != nil { t.Fatalf("dispatch frame: %v", err) }
	dom := Envelope{Type: TypeDOM, DOMObservation: DOMObservation{FEN: "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w"}}
	if err := Dispatch(ctx, hub, dom, nil); err != nil { t.Fatalf("dispatch dom: %v", err) }

	select {
	case rec := <-out:
		if got := strings.Join(rec.Snapshot.MoveList, " "); got != "e2e4 e7e5" {
			t.Fatalf("move list from socket frame lost: %q", got)
		}
		if rec.Snapshot.SourceOfPosition != domain.SourceDOM { t.Fatalf("source: %s", rec.Snapshot.SourceOfPosition) }
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot delivered")
	}
}
