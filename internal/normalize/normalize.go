// Package normalize maps heterogeneous frame candidates onto partial updates.
package normalize

import (
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/park285/cheese-observer/internal/domain"
	"github.com/park285/cheese-observer/internal/frame"
	"github.com/park285/cheese-observer/internal/notation"
)

var (
	positionKeys = []string{"fen", "position"}
	moveKeys     = []string{"move", "uci", "lastMove", "san"}
	clockKeys    = []string{"clock", "clocks"}
)

// Normalize never fails; fields it cannot read are left unobserved.
func Normalize(c frame.Candidate) domain.PartialUpdate {
	u := domain.PartialUpdate{Source: domain.SourceWS}
	for _, k := range positionKeys {
		if s, ok := c[k].(string); ok && strings.TrimSpace(s) != "" {
			u.Position = strings.TrimSpace(s)
			break
		}
	}
	if list, ok := moveList(c); ok {
		u.MoveList = list
	}
	if n := len(u.MoveList); n > 0 {
		u.Move = u.MoveList[n-1]
	} else {
		u.Move = singleMove(c)
	}
	u.WhiteTime, u.BlackTime = clocks(c)
	return u
}

func moveList(c frame.Candidate) ([]string, bool) {
	switch v := c["moves"].(type) {
	case string:
		return fromTokens(strings.Fields(v)), true
	case []any:
		tokens := make([]string, 0, len(v))
		for _, el := range v {
			switch e := el.(type) {
			case string:
				tokens = append(tokens, e)
			case map[string]any:
				if mv, ok := moveFromObject(e); ok {
					tokens = append(tokens, mv)
				}
			}
		}
		return fromTokens(tokens), true
	}
	if pgn, ok := c["pgn"].(string); ok {
		return notation.ReplaySAN(pgn), true
	}
	return nil, false
}

// fromTokens keeps coordinate lists as-is and replays anything else as SAN.
func fromTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !notation.IsCoordinate(tok) {
			return notation.ReplaySAN(strings.Join(tokens, " "))
		}
		out = append(out, strings.ToLower(notation.Clean(tok)))
	}
	return out
}

func singleMove(c frame.Candidate) string {
	for _, k := range moveKeys {
		switch v := c[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case map[string]any:
			if mv, ok := moveFromObject(v); ok {
				return mv
			}
		}
	}
	return ""
}

func moveFromObject(obj map[string]any) (string, bool) {
	from, _ := obj["from"].(string)
	to, _ := obj["to"].(string)
	mv := strings.ToLower(strings.TrimSpace(from) + strings.TrimSpace(to))
	if p, ok := obj["promotion"].(string); ok {
		mv += promotionLetter(p)
	}
	if !notation.IsCoordinate(mv) {
		return "", false
	}
	return mv, true
}

func promotionLetter(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "q", "queen":
		return "q"
	case "r", "rook":
		return "r"
	case "b", "bishop":
		return "b"
	case "n", "knight":
		return "n"
	}
	return ""
}

func clocks(c frame.Candidate) (*int, *int) {
	w, wok := number(c["wtime"])
	b, bok := number(c["btime"])
	if wok || bok {
		return millisToSeconds(w, wok), millisToSeconds(b, bok)
	}
	for _, key := range clockKeys {
		obj, ok := c[key].(map[string]any)
		if !ok {
			continue
		}
		white := firstSeconds(obj, "white", "w")
		black := firstSeconds(obj, "black", "b")
		if white != nil || black != nil {
			return white, black
		}
	}
	return nil, nil
}

func firstSeconds(obj map[string]any, keys ...string) *int {
	for _, k := range keys {
		if f, ok := number(obj[k]); ok {
			return floorSeconds(f)
		}
	}
	return nil
}

func millisToSeconds(ms float64, ok bool) *int {
	if !ok {
		return nil
	}
	return floorSeconds(ms / 1000)
}

func floorSeconds(f float64) *int { return domain.ClockSeconds(f) }

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}
