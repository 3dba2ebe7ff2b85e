package probe

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/park285/cheese-observer/internal/domain"
	"github.com/park285/cheese-observer/internal/frame"
	"github.com/park285/cheese-observer/internal/reconcile"
)

// Envelope types exchanged with the page relay.
const (
	TypeDOM      = "FEN_DOM"
	TypeRaw      = "FEN_RAW"
	TypeNewGame  = "NEW_GAME"
	TypeSnapshot = "SNAPSHOT"
)

// Envelope is one relay message. DOM fields are set for FEN_DOM, Payload for FEN_RAW.
type Envelope struct {
	Type string `json:"type"`
	DOMObservation
	Payload  string `json:"payload,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// DOMObservation is what the page probe reads next to the board on each tick.
type DOMObservation struct {
	FEN       string    `json:"fen,omitempty"`
	WhiteTime ClockText `json:"white_time,omitempty"`
	BlackTime ClockText `json:"black_time,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	YourColor string    `json:"your_color,omitempty"`
}

func (o DOMObservation) DetectMode() domain.Mode   { return domain.ParseMode(o.Mode) }
func (o DOMObservation) DetectColor() domain.Color { return domain.ParseColor(o.YourColor) }
func (o DOMObservation) ReadClocks() (*int, *int) {
	return o.WhiteTime.Seconds(), o.BlackTime.Seconds()
}

// ClockText holds a clock as shown on the page ("3:05", "1:02:03", "0:09.8")
// or as a bare number of seconds.
type ClockText string

func (c *ClockText) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		*c = ""
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*c = ClockText(str)
	default:
		*c = ClockText(s)
	}
	return nil
}

// Seconds parses the clock, floored; nil when absent or unreadable.
func (c ClockText) Seconds() *int { return ParseClock(string(c)) }

func ParseClock(text string) *int {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	parts := strings.Split(text, ":")
	if len(parts) > 3 {
		return nil
	}
	total := 0.0
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return nil
		}
		if i < len(parts)-1 && v != math.Trunc(v) {
			return nil
		}
		total = total*60 + v
	}
	return domain.ClockSeconds(total)
}

// Handler accepts relay input; reconcile.Hub implements it.
type Handler interface {
	SubmitDOM(ctx context.Context, position string, page reconcile.PageDetector) error
	SubmitFrame(ctx context.Context, text string) error
	NewGame(ctx context.Context) error
}

// Dispatch routes one envelope to h. Irrelevant raw frames are dropped.
func Dispatch(ctx context.Context, h Handler, env Envelope, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch env.Type {
	case TypeDOM:
		return h.SubmitDOM(ctx, env.FEN, env.DOMObservation)
	case TypeRaw:
		text, err := env.FrameText()
		if err != nil {
			logger.Debug("probe_frame_undecodable", zap.Error(err))
			return nil
		}
		if !frame.Relevant(text) {
			return nil
		}
		return h.SubmitFrame(ctx, text)
	case TypeNewGame:
		return h.NewGame(ctx)
	default:
		logger.Debug("probe_envelope_ignored", zap.String("type", env.Type))
		return nil
	}
}

// FrameText returns the raw frame as UTF-8 text.
func (e Envelope) FrameText() (string, error) {
	switch strings.ToLower(e.Encoding) {
	case "", "text", "utf-8", "utf8":
		return e.Payload, nil
	case "base64":
		b, err := base64.StdEncoding.DecodeString(e.Payload)
		if err != nil {
			return "", fmt.Errorf("decode base64 payload: %w", err)
		}
		return frame.Text(b), nil
	default:
		return "", fmt.Errorf("unsupported encoding: %s", e.Encoding)
	}
}
