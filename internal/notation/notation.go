// Package notation converts moves seen on the wire into coordinate notation.
package notation

import (
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-observer/internal/position"
)

var (
	coordinatePattern = regexp.MustCompile(`^[a-h][1-8][a-h][1-8][qrbn]?$`)
	squarePattern     = regexp.MustCompile(`[a-h][1-8]`)
	promotionPattern  = regexp.MustCompile(`=?([QRBNqrbn])$`)
	moveNumberPrefix  = regexp.MustCompile(`^\d+\.+`)
	decorations       = strings.NewReplacer("+", "", "#", "", "!", "", "?", "")
)

// Clean strips check and annotation marks.
func Clean(move string) string {
	return strings.TrimSpace(decorations.Replace(move))
}

// IsCoordinate reports whether move is already "e2e4"/"e7e8q" text.
func IsCoordinate(move string) bool {
	return coordinatePattern.MatchString(strings.ToLower(Clean(move)))
}

// zeroCastling rewrites digit-zero castling; the long form must match first.
var zeroCastling = strings.NewReplacer("0-0-0", "O-O-O", "0-0", "O-O")

// ToCoordinate converts move into coordinate notation. fenBefore, when known,
// is the position the move was played from.
func ToCoordinate(move, fenBefore string) (string, bool) {
	clean := Clean(move)
	if clean == "" {
		return "", false
	}
	if lower := strings.ToLower(clean); coordinatePattern.MatchString(lower) {
		return lower, true
	}
	san := zeroCastling.Replace(clean)
	if fenBefore != "" {
		if uci, ok := decodeSAN(san, fenBefore); ok {
			return uci, true
		}
	}
	return guess(san, fenBefore)
}

func decodeSAN(san, fen string) (string, bool) {
	opt, err := nchess.FEN(fen)
	if err != nil {
		return "", false
	}
	pos := nchess.NewGame(opt).Position()
	mv, err := nchess.AlgebraicNotation{}.Decode(pos, san)
	if err != nil {
		return "", false
	}
	return nchess.UCINotation{}.Encode(pos, mv), true
}

// guess covers castling and pawn moves when the previous position is unknown
// or lacks the rights the SAN decoder needs.
func guess(san, fenBefore string) (string, bool) {
	black := false
	var board position.Board
	if fenBefore != "" {
		if pos, err := position.Decode(fenBefore); err == nil {
			black = pos.Turn == nchess.Black
			board = pos.Board
		}
	}
	switch san {
	case "O-O":
		if black {
			return "e8g8", true
		}
		return "e1g1", true
	case "O-O-O":
		if black {
			return "e8c8", true
		}
		return "e1c1", true
	}
	if san == "" || san[0] < 'a' || san[0] > 'h' {
		return "", false
	}
	squares := squarePattern.FindAllString(san, -1)
	if len(squares) == 0 {
		return "", false
	}
	dest := squares[len(squares)-1]
	promo := ""
	if m := promotionPattern.FindStringSubmatch(san); m != nil {
		promo = strings.ToLower(m[1])
	}
	step := 1
	pawn := nchess.WhitePawn
	if black {
		step = -1
		pawn = nchess.BlackPawn
	}
	toRank := int(dest[1] - '1')
	fromFile := dest[0]
	if strings.Contains(san, "x") {
		fromFile = san[0]
	}
	fromRank := toRank - step
	if fromFile == dest[0] && board != nil {
		one := nchess.NewSquare(nchess.File(fromFile-'a'), nchess.Rank(fromRank))
		if p, ok := board.At(one); !ok || p != pawn {
			fromRank = toRank - 2*step
		}
	}
	if fromRank < 0 || fromRank > 7 {
		return "", false
	}
	return string([]byte{fromFile, byte('1' + fromRank)}) + dest + promo, true
}

// ReplaySAN replays a SAN history from the initial position and returns the
// coordinate moves up to the first token that is not a legal move.
func ReplaySAN(history string) []string {
	game := nchess.NewGame()
	out := []string{}
	for _, tok := range sanTokens(history) {
		pos := game.Position()
		mv, err := nchess.AlgebraicNotation{}.Decode(pos, tok)
		if err != nil {
			break
		}
		uci := nchess.UCINotation{}.Encode(pos, mv)
		if err := game.Move(mv, nil); err != nil {
			break
		}
		out = append(out, uci)
	}
	return out
}

func sanTokens(history string) []string {
	var b strings.Builder
	depth := 0
	inComment := false
	for _, line := range strings.Split(history, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "[") {
			continue
		}
		for _, r := range line {
			switch {
			case inComment:
				if r == '}' {
					inComment = false
				}
			case r == '{':
				inComment = true
			case r == '(':
				depth++
			case r == ')':
				if depth > 0 {
					depth--
				}
			case depth == 0:
				b.WriteRune(r)
			}
		}
		b.WriteByte(' ')
	}
	var out []string
	for _, tok := range strings.Fields(b.String()) {
		tok = moveNumberPrefix.ReplaceAllString(tok, "")
		switch {
		case tok == "", tok == "*", tok == "1-0", tok == "0-1", tok == "1/2-1/2", strings.HasPrefix(tok, "$"):
			continue
		}
		tok = zeroCastling.Replace(Clean(tok))
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
