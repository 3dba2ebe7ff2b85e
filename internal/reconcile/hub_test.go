package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/cheese-observer/internal/domain"
)

type recordingSink struct {
	mu   sync.Mutex
	recs []domain.Record
	got  chan struct{}
}

func newRecordingSink() *recordingSink { return &recordingSink{got: make(chan struct{}, 64)} }

func (s *recordingSink) Deliver(_ context.Context, rec domain.Record) error {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	s.got <- struct{}{}
	return nil
}

func (s *recordingSink) wait(t *testing.T, n int) []domain.Record {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-s.got:
		case <-deadline:
			t.Fatalf("timed out waiting for %d records, got %d", n, i)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Record(nil), s.recs...)
}

func startHub(t *testing.T, sink Sink) *Hub {
	t.Helper()
	h, err := NewHub(newTestReconciler(), nil, sink, 8, nil)
	if err != nil { t.Fatalf("NewHub: %v", err) }
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = h.Run(ctx); close(done) }()
	t.Cleanup(func() { cancel(); <-done })
	return h
}

func TestHub_OrderedDelivery(t *testing.T) {
	sink := newRecordingSink()
	h := startHub(t, sink)
	ctx := context.Background()

	if err := h.SubmitDOM(ctx, start, StaticPage{Mode: domain.ModeSpectating}); err != nil { t.Fatalf("submit: %v", err) }
	if err := h.SubmitFrame(ctx, `B({"fen":"`+afterD4+`","wtime":5000,"btime":6000})`); err != nil { t.Fatalf("submit frame: %v", err) }
	if err := h.SubmitDOM(ctx, afterE4, nil); err != nil { t.Fatalf("submit: %v", err) }
	if err := h.SubmitDOM(ctx, afterE5, nil); err != nil { t.Fatalf("submit: %v", err) }

	recs := sink.wait(t, 3)
	for i, rec := range recs {
		if rec.Snapshot.SequenceNumber != i+1 { t.Fatalf("record %d has seq %d", i, rec.Snapshot.SequenceNumber) }
		if rec.GameID != "game-1" { t.Fatalf("game id: %q", rec.GameID) }
	}
	if recs[1].Snapshot.Move != "e2e4" || *recs[1].Snapshot.WhiteTime != 5 { t.Fatalf("second: %+v", recs[1].Snapshot) }
	if recs[0].Snapshot.Mode != domain.ModeSpectating { t.Fatalf("mode lost: %+v", recs[0].Snapshot) }
}

func TestHub_NewGame(t *testing.T) {
	sink := newRecordingSink()
	h := startHub(t, sink)
	ctx := context.Background()
	_ = h.SubmitDOM(ctx, start, nil)
	_ = h.NewGame(ctx)
	_ = h.SubmitDOM(ctx, start, nil)
	recs := sink.wait(t, 2)
	if recs[1].GameID == recs[0].GameID || recs[1].Snapshot.SequenceNumber != 1 {
		t.Fatalf("reset not applied in order: %+v", recs)
	}
}

func TestHub_SubmitAfterStop(t *testing.T) {
	h, err := NewHub(newTestReconciler(), nil, newRecordingSink(), 1, nil)
	if err != nil { t.Fatalf("NewHub: %v", err) }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.Run(ctx); !errors.Is(err, context.Canceled) { t.Fatalf("run: %v", err) }
	if err := h.SubmitDOM(context.Background(), start, nil); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("want ErrHubClosed, got %v", err)
	}
}

func TestNewHub_Validation(t *testing.T) {
	if _, err := NewHub(nil, nil, newRecordingSink(), 1, nil); err == nil { t.Fatalf("nil reconciler accepted") }
	if _, err := NewHub(newTestReconciler(), nil, nil, 1, nil); err == nil { t.Fatalf("nil sink accepted") }
}
