// Package reconcile merges DOM and socket observations into ordered game snapshots.
package reconcile

import (
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-observer/internal/domain"
	"github.com/park285/cheese-observer/internal/notation"
	"github.com/park285/cheese-observer/internal/position"
)

type channelCache struct {
	position  string
	moveList  []string
	whiteTime *int
	blackTime *int
	mode      domain.Mode
	yourColor domain.Color
}

func (c *channelCache) apply(u domain.PartialUpdate) {
	if u.Position != "" {
		c.position = u.Position
	}
	if u.MoveList != nil {
		c.moveList = append([]string{}, u.MoveList...)
	}
	if u.WhiteTime != nil {
		c.whiteTime = domain.CopyClock(u.WhiteTime)
	}
	if u.BlackTime != nil {
		c.blackTime = domain.CopyClock(u.BlackTime)
	}
	if u.Mode != domain.ModeUnknown {
		c.mode = u.Mode
	}
	if u.YourColor != domain.ColorUnknown {
		c.yourColor = u.YourColor
	}
}

// Reconciler is not safe for concurrent use; Hub serializes access to it.
type Reconciler struct {
	dom, ws      channelCache
	lastAccepted string
	lastMoveList []string
	moveCount    int
	gameID       string

	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option { return func(r *Reconciler) { r.now = now } }

func WithIDGenerator(fn func() string) Option { return func(r *Reconciler) { r.newID = fn } }

func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

func New(opts ...Option) *Reconciler {
	r := &Reconciler{now: time.Now, newID: uuid.NewString, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.gameID = r.newID()
	return r
}

// GameID identifies the game the current sequence belongs to.
func (r *Reconciler) GameID() string { return r.gameID }

// NewGame clears all caches and counters and starts a new game id.
func (r *Reconciler) NewGame() string {
	r.dom, r.ws = channelCache{}, channelCache{}
	r.lastAccepted = ""
	r.lastMoveList = nil
	r.moveCount = 0
	r.gameID = r.newID()
	r.logger.Info("game_reset", zap.String("game_id", r.gameID))
	return r.gameID
}

// Ingest folds u into the channel caches and returns a snapshot when the
// reconciled position changed.
func (r *Reconciler) Ingest(u domain.PartialUpdate) (domain.Snapshot, bool) {
	if u.Position != "" && !position.Valid(u.Position) {
		r.logger.Debug("position_malformed", zap.String("source", string(u.Source)), zap.String("position", u.Position))
		u.Position = ""
	}
	switch u.Source {
	case domain.SourceDOM:
		r.dom.apply(u)
	case domain.SourceWS:
		r.ws.apply(u)
	default:
		r.logger.Debug("update_unknown_source", zap.String("source", string(u.Source)))
		return domain.Snapshot{}, false
	}

	candidate, source, after, ok := r.candidate()
	if !ok || candidate == r.lastAccepted {
		return domain.Snapshot{}, false
	}

	move := r.deriveMove(u, after)
	moveList := r.lastMoveList
	switch {
	case r.ws.moveList != nil:
		moveList = append([]string{}, r.ws.moveList...)
	case move != "":
		moveList = append(append([]string{}, r.lastMoveList...), move)
	}
	white, black := r.clocks()

	r.moveCount++
	snap := domain.Snapshot{
		PositionBefore:   r.lastAccepted,
		PositionAfter:    candidate,
		Move:             move,
		MoveList:         append([]string{}, moveList...),
		TurnToMove:       turnColor(after.Turn),
		YourColor:        r.dom.yourColor,
		WhiteTime:        white,
		BlackTime:        black,
		SourceOfPosition: source,
		Mode:             r.dom.mode,
		SequenceNumber:   r.moveCount,
		ObservedAt:       r.now(),
	}
	r.lastAccepted = candidate
	r.lastMoveList = moveList

	r.logger.Debug("snapshot_emit",
		zap.Int("seq", snap.SequenceNumber),
		zap.String("source", string(source)),
		zap.String("move", move),
	)
	return snap, true
}

// candidate prefers the DOM position over the socket position. Caches only
// ever hold positions that decoded.
func (r *Reconciler) candidate() (string, domain.Source, position.Position, bool) {
	for _, ch := range []struct {
		text   string
		source domain.Source
	}{{r.dom.position, domain.SourceDOM}, {r.ws.position, domain.SourceWS}} {
		if ch.text == "" {
			continue
		}
		if pos, err := position.Decode(ch.text); err == nil {
			return ch.text, ch.source, pos, true
		}
	}
	return "", "", position.Position{}, false
}

func (r *Reconciler) deriveMove(u domain.PartialUpdate, after position.Position) string {
	if u.Move != "" {
		if mv, ok := notation.ToCoordinate(u.Move, r.lastAccepted); ok {
			return mv
		}
	}
	if r.lastAccepted == "" {
		return ""
	}
	before, err := position.Decode(r.lastAccepted)
	if err != nil {
		return ""
	}
	mv, err := position.Diff(before.Board, after.Board)
	if err != nil {
		r.logger.Debug("snapshot_move_unknown", zap.Error(err))
		return ""
	}
	return mv.String()
}

func (r *Reconciler) clocks() (*int, *int) {
	if r.ws.whiteTime != nil && r.ws.blackTime != nil {
		return domain.CopyClock(r.ws.whiteTime), domain.CopyClock(r.ws.blackTime)
	}
	return domain.CopyClock(r.dom.whiteTime), domain.CopyClock(r.dom.blackTime)
}

func turnColor(c nchess.Color) domain.Color {
	if c == nchess.Black {
		return domain.ColorBlack
	}
	return domain.ColorWhite
}
