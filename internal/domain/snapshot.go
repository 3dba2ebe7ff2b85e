package domain

import (
	"math"
	"strings"
	"time"
)

// Source names the observation channel a fact arrived on.
type Source string

const (
	SourceDOM Source = "DOM"
	SourceWS  Source = "WS"
)

type Mode string

const (
	ModeUnknown    Mode = ""
	ModePlaying    Mode = "playing"
	ModeSpectating Mode = "spectating"
)

type Color string

const (
	ColorUnknown Color = ""
	ColorWhite   Color = "white"
	ColorBlack   Color = "black"
)

// ParseMode accepts the labels page probes report.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playing", "play", "player":
		return ModePlaying
	case "spectating", "spectator", "watching", "watch":
		return ModeSpectating
	}
	return ModeUnknown
}

func ParseColor(s string) Color {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "w", "white":
		return ColorWhite
	case "b", "black":
		return ColorBlack
	}
	return ColorUnknown
}

// Upper renders WHITE/BLACK for display payloads.
func (c Color) Upper() string { return strings.ToUpper(string(c)) }

// PartialUpdate carries whatever facts one channel observed. Zero values mean
// "not observed"; a nil MoveList differs from an observed empty list.
type PartialUpdate struct {
	Source    Source
	Position  string
	Move      string
	MoveList  []string
	WhiteTime *int
	BlackTime *int
	Mode      Mode
	YourColor Color
}

// Snapshot is one reconciled view of the game. PositionBefore and Move are
// empty when unknown.
type Snapshot struct {
	PositionBefore   string
	PositionAfter    string
	Move             string
	MoveList         []string
	TurnToMove       Color
	YourColor        Color
	WhiteTime        *int
	BlackTime        *int
	SourceOfPosition Source
	Mode             Mode
	SequenceNumber   int
	ObservedAt       time.Time
}

// Record ties an emitted snapshot to the game it belongs to.
type Record struct {
	GameID   string
	Snapshot Snapshot
}

// MaxClockSeconds caps observed clocks at 30 days.
const MaxClockSeconds = 30 * 24 * 60 * 60

// ClockSeconds floors f into [0, MaxClockSeconds]. NaN reads as 0.
func ClockSeconds(f float64) *int {
	switch {
	case math.IsNaN(f) || f <= 0:
		return Seconds(0)
	case f >= MaxClockSeconds:
		return Seconds(MaxClockSeconds)
	}
	return Seconds(int(math.Floor(f)))
}

// Seconds returns a pointer to n.
func Seconds(n int) *int { return &n }

// CopyClock returns an independent copy of p.
func CopyClock(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
