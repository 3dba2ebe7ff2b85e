package observerdto

import (
	"time"

	"github.com/park285/cheese-observer/internal/domain"
)

// Snapshot is the wire form delivered to sinks and returned by the API.
type Snapshot struct {
	GameID     string   `json:"game_id"`
	FenBefore  *string  `json:"fen_before"`
	FenAfter   string   `json:"fen_after"`
	Move       *string  `json:"move"`
	MoveList   []string `json:"move_list"`
	MoveCount  int      `json:"move_count"`
	TurnToMove string   `json:"turn_to_move"`
	YourColor  *string  `json:"your_color"`
	WhiteTime  *int     `json:"white_time"`
	BlackTime  *int     `json:"black_time"`
	Source     string   `json:"source"`
	Mode       *string  `json:"mode"`
	TS         int64    `json:"ts"`
}

// Envelope frames a snapshot on the probe websocket.
type Envelope struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

const EnvelopeSnapshot = "SNAPSHOT"

func FromRecord(rec domain.Record) Snapshot {
	s := rec.Snapshot
	list := s.MoveList
	if list == nil {
		list = []string{}
	}
	return Snapshot{
		GameID:     rec.GameID,
		FenBefore:  optional(s.PositionBefore),
		FenAfter:   s.PositionAfter,
		Move:       optional(s.Move),
		MoveList:   list,
		MoveCount:  s.SequenceNumber,
		TurnToMove: s.TurnToMove.Upper(),
		YourColor:  optional(string(s.YourColor)),
		WhiteTime:  s.WhiteTime,
		BlackTime:  s.BlackTime,
		Source:     string(s.SourceOfPosition),
		Mode:       optional(string(s.Mode)),
		TS:         s.ObservedAt.UnixMilli(),
	}
}

// Record converts the wire form back into a domain record.
func (s Snapshot) Record() domain.Record {
	snap := domain.Snapshot{
		PositionBefore:   deref(s.FenBefore),
		PositionAfter:    s.FenAfter,
		Move:             deref(s.Move),
		MoveList:         append([]string(nil), s.MoveList...),
		TurnToMove:       domain.ParseColor(s.TurnToMove),
		YourColor:        domain.ParseColor(deref(s.YourColor)),
		WhiteTime:        s.WhiteTime,
		BlackTime:        s.BlackTime,
		SourceOfPosition: domain.Source(s.Source),
		Mode:             domain.ParseMode(deref(s.Mode)),
		SequenceNumber:   s.MoveCount,
		ObservedAt:       time.UnixMilli(s.TS).UTC(),
	}
	return domain.Record{GameID: s.GameID, Snapshot: snap}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
