package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/park285/cheese-observer/internal/frame"
	"github.com/park285/cheese-observer/internal/reconcile"
	"github.com/park285/cheese-observer/internal/sink"
	"github.com/park285/cheese-observer/pkg/observerdto"
)

const (
	start   = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	afterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
)

func newTestServer(t *testing.T) (*httptest.Server, *sink.Memory) {
	t.Helper()
	mem := sink.NewMemory(100)
	hub, err := reconcile.NewHub(reconcile.New(reconcile.WithIDGenerator(func() string { return "g-test" })), frame.NewDecoder(nil), mem, 16, nil)
	if err != nil { t.Fatalf("hub: %v", err) }
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = hub.Run(ctx); close(done) }()
	t.Cleanup(func() { cancel(); <-done })

	s, err := New(hub, mem, WithSinkStatus(func() string { return sink.StatusSuccess }))
	if err != nil { t.Fatalf("api: %v", err) }
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv, mem
}

func post(t *testing.T, url, body string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil { t.Fatalf("post %s: %v", url, err) }
	resp.Body.Close()
	return resp.StatusCode
}

func waitRecords(t *testing.T, mem *sink.Memory, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(mem.Records(0)) < n {
		if time.Now().After(deadline) { t.Fatalf("timed out waiting for %d records, have %d", n, len(mem.Records(0))) }
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAPI_IngestAndExport(t *testing.T) {
	srv, mem := newTestServer(t)

	if code := post(t, srv.URL+"/v1/dom", `{"fen":"`+start+`","white_time":"5:00","your_color":"white","mode":"playing"}`); code != http.StatusAccepted {
		t.Fatalf("dom status %d", code)
	}
	if code := post(t, srv.URL+"/v1/frames", `B({"fen":"`+afterE4+`","wtime":299000,"btime":300000})`); code != http.StatusAccepted {
		t.Fatalf("frame status %d", code)
	}
	if code := post(t, srv.URL+"/v1/dom", `{"fen":"`+afterE4+`"}`); code != http.StatusAccepted {
		t.Fatalf("dom status %d", code)
	}
	waitRecords(t, mem, 2)

	resp, err := http.Get(srv.URL + "/v1/snapshots?limit=10")
	if err != nil { t.Fatalf("get: %v", err) }
	defer resp.Body.Close()
	var list []observerdto.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil { t.Fatalf("decode: %v", err) }
	if len(list) != 2 { t.Fatalf("want 2 snapshots, got %d", len(list)) }
	second := list[1]
	if second.Move == nil || *second.Move != "e2e4" || second.TurnToMove != "BLACK" || second.GameID != "g-test" {
		t.Fatalf("second: %+v", second)
	}
	if *second.WhiteTime != 299 || *second.BlackTime != 300 { t.Fatalf("ws clocks should win: %+v", second) }
	if second.YourColor == nil || *second.YourColor != "white" { t.Fatalf("your_color: %+v", second.YourColor) }

	resp2, err := http.Get(srv.URL + "/v1/snapshots/latest")
	if err != nil { t.Fatalf("latest: %v", err) }
	defer resp2.Body.Close()
	var latest observerdto.Snapshot
	_ = json.NewDecoder(resp2.Body).Decode(&latest)
	if latest.MoveCount != 2 { t.Fatalf("latest: %+v", latest) }

	resp3, err := http.Get(srv.URL + "/healthz")
	if err != nil { t.Fatalf("healthz: %v", err) }
	defer resp3.Body.Close()
	var health map[string]any
	_ = json.NewDecoder(resp3.Body).Decode(&health)
	if health["sink_status"] != "success" || health["game_id"] != "g-test" { t.Fatalf("health: %v", health) }
}

func TestAPI_NewGameAndErrors(t *testing.T) {
	srv, mem := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/snapshots/latest")
	if err != nil { t.Fatalf("latest: %v", err) }
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound { t.Fatalf("empty latest: %d", resp.StatusCode) }

	if code := post(t, srv.URL+"/v1/dom", `{"white_time":"1:00"}`); code != http.StatusBadRequest { t.Fatalf("missing fen: %d", code) }
	if code := post(t, srv.URL+"/v1/dom", `not json`); code != http.StatusBadRequest { t.Fatalf("bad json: %d", code) }
	bad, err := http.Get(srv.URL + "/v1/snapshots?limit=-1")
	if err != nil { t.Fatalf("get: %v", err) }
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest { t.Fatalf("bad limit: %d", bad.StatusCode) }

	_ = post(t, srv.URL+"/v1/dom", `{"fen":"`+start+`"}`)
	waitRecords(t, mem, 1)
	if code := post(t, srv.URL+"/v1/game/new", ``); code != http.StatusAccepted { t.Fatalf("new game: %d", code) }
	_ = post(t, srv.URL+"/v1/dom", `{"fen":"`+start+`"}`)
	waitRecords(t, mem, 2)
	if recs := mem.Records(0); recs[1].Snapshot.SequenceNumber != 1 { t.Fatalf("sequence should restart: %+v", recs[1]) }
}
