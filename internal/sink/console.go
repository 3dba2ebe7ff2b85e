package sink

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-observer/internal/domain"
	"github.com/park285/cheese-observer/internal/msgcat"
	"github.com/park285/cheese-observer/internal/util"
)

// Console renders each snapshot as a log line from the message catalog.
type Console struct {
	catalog *msgcat.Catalog
	logger  *zap.Logger
	debug   bool

	lastGame string
}

type lineView struct {
	Seq        int
	Move       string
	Turn       string
	White      *int
	Black      *int
	Source     string
	FenBefore  string
	FenAfter   string
	MoveCount  int
	Mode       string
	YourColor  string
	ObservedAt string
	GameID     string
}

func NewConsole(catalog *msgcat.Catalog, logger *zap.Logger, debug bool) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{catalog: catalog, logger: logger, debug: debug}
}

// Line renders the summary line for rec.
func (c *Console) Line(rec domain.Record) (string, error) {
	return c.catalog.Render(msgcat.KeySnapshotLine, c.view(rec))
}

func (c *Console) view(rec domain.Record) lineView {
	s := rec.Snapshot
	move := s.Move
	if move == "" {
		move = "?"
		if c.catalog != nil && c.catalog.Has(msgcat.KeyMoveUnknown) {
			if m, err := c.catalog.Render(msgcat.KeyMoveUnknown, nil); err == nil {
				move = m
			}
		}
	}
	return lineView{
		Seq:        s.SequenceNumber,
		Move:       move,
		Turn:       s.TurnToMove.Upper(),
		White:      s.WhiteTime,
		Black:      s.BlackTime,
		Source:     string(s.SourceOfPosition),
		FenBefore:  s.PositionBefore,
		FenAfter:   s.PositionAfter,
		MoveCount:  len(s.MoveList),
		Mode:       util.Blank(string(s.Mode), "unknown"),
		YourColor:  util.Blank(string(s.YourColor), "unknown"),
		ObservedAt: s.ObservedAt.Format(time.RFC3339),
		GameID:     rec.GameID,
	}
}

func (c *Console) Deliver(_ context.Context, rec domain.Record) error {
	if c.catalog == nil {
		c.logger.Info("snapshot", zap.Int("seq", rec.Snapshot.SequenceNumber), zap.String("move", rec.Snapshot.Move))
		return nil
	}
	view := c.view(rec)
	if c.lastGame != "" && rec.GameID != c.lastGame && c.catalog.Has(msgcat.KeyGameReset) {
		if msg, err := c.catalog.Render(msgcat.KeyGameReset, view); err == nil {
			c.logger.Info(msg)
		}
	}
	c.lastGame = rec.GameID
	line, err := c.catalog.Render(msgcat.KeySnapshotLine, view)
	if err != nil {
		return err
	}
	c.logger.Info(line, zap.String("game_id", rec.GameID))
	if c.debug {
		dbg, err := c.catalog.Render(msgcat.KeySnapshotDebug, view)
		if err != nil {
			return err
		}
		c.logger.Info(dbg)
	}
	return nil
}
