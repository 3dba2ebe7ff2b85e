package reconcile

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-observer/internal/domain"
	"github.com/park285/cheese-observer/internal/frame"
	"github.com/park285/cheese-observer/internal/normalize"
)

const (
	start   = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	afterE4 = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	afterE5 = "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2"
	afterD4 = "rnbqkbnr/pppppppp/8/8/3P4/8/PPP1PPPP/RNBQKBNR b KQkq - 0 1"
)

func newTestReconciler() *Reconciler {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	return New(
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() string { n++; return "game-" + strconv.Itoa(n) }),
	)
}

func dom(pos string) domain.PartialUpdate { return domain.PartialUpdate{Source: domain.SourceDOM, Position: pos} }
func ws(pos string) domain.PartialUpdate  { return domain.PartialUpdate{Source: domain.SourceWS, Position: pos} }

func TestIngest_FirstSnapshot(t *testing.T) {
	r := newTestReconciler()
	snap, ok := r.Ingest(dom(start))
	if !ok { t.Fatalf("first valid position should emit") }
	if snap.PositionBefore != "" || snap.Move != "" { t.Fatalf("first snapshot has no before/move: %+v", snap) }
	if snap.SequenceNumber != 1 || snap.TurnToMove != domain.ColorWhite || snap.SourceOfPosition != domain.SourceDOM {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !snap.ObservedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) { t.Fatalf("clock not injected") }
}

func TestIngest_DedupIdentical(t *testing.T) {
	r := newTestReconciler()
	if _, ok := r.Ingest(dom(start)); !ok { t.Fatalf("first emit") }
	if _, ok := r.Ingest(dom(start)); ok { t.Fatalf("identical position must not emit twice") }
	if _, ok := r.Ingest(ws(afterE4)); ok { t.Fatalf("DOM candidate still wins and is unchanged") }
}

func TestIngest_DiffMoveAndSequence(t *testing.T) {
	r := newTestReconciler()
	r.Ingest(dom(start))
	s2, ok := r.Ingest(dom(afterE4))
	if !ok || s2.Move != "e2e4" || s2.PositionBefore != start || s2.TurnToMove != domain.ColorBlack {
		t.Fatalf("second snapshot: %+v", s2)
	}
	s3, _ := r.Ingest(dom(afterE5))
	if s3.Move != "e7e5" || s3.SequenceNumber != 3 {
		t.Fatalf("third snapshot: %+v", s3)
	}
	if strings.Join(s3.MoveList, " ") != "e2e4 e7e5" {
		t.Fatalf("own move list: %v", s3.MoveList)
	}
}

func TestIngest_SequenceStrictlyIncreasing(t *testing.T) {
	r := newTestReconciler()
	positions := []string{start, start, afterE4, afterE4, afterE5, "garbage", afterE5, start}
	last := 0
	for _, p := range positions {
		if snap, ok := r.Ingest(dom(p)); ok {
			if snap.SequenceNumber != last+1 { t.Fatalf("sequence jumped from %d to %d", last, snap.SequenceNumber) }
			last = snap.SequenceNumber
		}
	}
	if last != 4 { t.Fatalf("want 4 emissions, got %d", last) }
}

func TestIngest_SourcePriority(t *testing.T) {
	r := newTestReconciler()
	r.Ingest(dom(start))
	r.Ingest(dom(afterE4))
	if _, ok := r.Ingest(ws(afterD4)); ok { t.Fatalf("WS must not override a valid DOM position") }

	r2 := newTestReconciler()
	snap, ok := r2.Ingest(ws(afterD4))
	if !ok || snap.SourceOfPosition != domain.SourceWS { t.Fatalf("WS alone should emit: %+v", snap) }
	snap, ok = r2.Ingest(dom(afterE4))
	if !ok || snap.SourceOfPosition != domain.SourceDOM { t.Fatalf("DOM should take over: %+v", snap) }
}

func TestIngest_MalformedRetainsState(t *testing.T) {
	r := newTestReconciler()
	r.Ingest(dom(start))
	if _, ok := r.Ingest(dom("8/8/8 w")); ok { t.Fatalf("malformed must not emit") }
	if _, ok := r.Ingest(dom("no placement here")); ok { t.Fatalf("text without separator must not emit") }
	if r.dom.position != start { t.Fatalf("malformed observation replaced cache: %q", r.dom.position) }
	snap, ok := r.Ingest(dom(afterE4))
	if !ok || snap.Move != "e2e4" { t.Fatalf("stream should continue: %+v", snap) }
}

func TestIngest_ExplicitMoveWins(t *testing.T) {
	r := newTestReconciler()
	r.Ingest(ws(start))
	snap, ok := r.Ingest(domain.PartialUpdate{Source: domain.SourceWS, Position: afterE4, Move: "e4"})
	if !ok || snap.Move != "e2e4" { t.Fatalf("SAN move should convert against previous position: %+v", snap) }
}

func TestIngest_AmbiguousDiffEmitsNullMove(t *testing.T) {
	r := newTestReconciler()
	r.Ingest(dom(start))
	snap, ok := r.Ingest(dom("rnbqkbnr/pppppppp/8/8/3PP3/8/PPP2PPP/RNBQKBNR b KQkq - 0 1"))
	if !ok { t.Fatalf("position change must emit even without a move") }
	if snap.Move != "" { t.Fatalf("ambiguous diff should give empty move, got %q", snap.Move) }
}

func TestIngest_ClockMerge(t *testing.T) {
	r := newTestReconciler()
	r.Ingest(domain.PartialUpdate{Source: domain.SourceDOM, WhiteTime: domain.Seconds(100), BlackTime: domain.Seconds(90)})
	r.Ingest(domain.PartialUpdate{Source: domain.SourceWS, WhiteTime: domain.Seconds(50)})
	snap, _ := r.Ingest(dom(start))
	if *snap.WhiteTime != 100 || *snap.BlackTime != 90 { t.Fatalf("WS pair incomplete, DOM clocks expected: %d %d", *snap.WhiteTime, *snap.BlackTime) }

	r.Ingest(domain.PartialUpdate{Source: domain.SourceWS, BlackTime: domain.Seconds(40)})
	snap, _ = r.Ingest(dom(afterE4))
	if *snap.WhiteTime != 50 || *snap.BlackTime != 40 { t.Fatalf("complete WS pair should win: %d %d", *snap.WhiteTime, *snap.BlackTime) }

	r3 := newTestReconciler()
	snap, _ = r3.Ingest(dom(start))
	if snap.WhiteTime != nil || snap.BlackTime != nil { t.Fatalf("no clocks observed, want nil") }
}

func TestIngest_PageFactsPassThrough(t *testing.T) {
	r := newTestReconciler()
	page := StaticPage{Mode: domain.ModePlaying, Color: domain.ColorBlack, WhiteTime: domain.Seconds(3)}
	snap, ok := r.Ingest(FromDOM(start, page))
	if !ok || snap.Mode != domain.ModePlaying || snap.YourColor != domain.ColorBlack || *snap.WhiteTime != 3 {
		t.Fatalf("page facts: %+v", snap)
	}
}

func TestIngest_WSMoveListPreferred(t *testing.T) {
	r := newTestReconciler()
	d := frame.NewDecoder(nil)
	for _, text := range []string{
		`{"fen":"` + start + `","moves":""}`,
		`{"fen":"` + afterE4 + `","moves":"e2e4"}`,
	} {
		for _, c := range d.Decode(text) {
			r.Ingest(normalize.Normalize(c))
		}
	}
	snap, ok := r.Ingest(normalize.Normalize(d.Decode(`{"fen":"`+afterE5+`","moves":"e2e4 e7e5"}`)[0]))
	if !ok || strings.Join(snap.MoveList, " ") != "e2e4 e7e5" || snap.Move != "e7e5" {
		t.Fatalf("ws list: %+v", snap)
	}
}

func TestNewGame_Resets(t *testing.T) {
	r := newTestReconciler()
	first := r.GameID()
	r.Ingest(dom(start))
	r.Ingest(dom(afterE4))
	id := r.NewGame()
	if id == first || r.GameID() != id { t.Fatalf("new game id expected") }
	snap, ok := r.Ingest(dom(start))
	if !ok || snap.SequenceNumber != 1 || snap.PositionBefore != "" || len(snap.MoveList) != 0 {
		t.Fatalf("reset snapshot: %+v", snap)
	}
}

func TestIngest_SnapshotsAreIndependent(t *testing.T) {
	r := newTestReconciler()
	r.Ingest(dom(start))
	s2, _ := r.Ingest(dom(afterE4))
	s2.MoveList[0] = "xxxx"
	s3, _ := r.Ingest(dom(afterE5))
	if s3.MoveList[0] != "e2e4" { t.Fatalf("emitted snapshot shares state with reconciler") }
}
