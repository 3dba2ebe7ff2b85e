package position

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrAmbiguousDiff is returned when two boards do not differ by exactly one move.
var ErrAmbiguousDiff = errors.New("ambiguous board diff")

var coordinateMove = regexp.MustCompile(`^([a-h][1-8])([a-h][1-8])([qrbn]?)$`)

// Move is a coordinate move. Promotion is NoPieceType unless a pawn promoted.
type Move struct {
	From      nchess.Square
	To        nchess.Square
	Promotion nchess.PieceType
}

func (m Move) String() string {
	return m.From.String() + m.To.String() + promotionSuffix(m.Promotion)
}

// ParseMove parses "e2e4" / "e7e8q" style text.
func ParseMove(text string) (Move, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	m := coordinateMove.FindStringSubmatch(s)
	if m == nil {
		return Move{}, fmt.Errorf("not a coordinate move: %q", text)
	}
	mv := Move{From: parseSquare(m[1]), To: parseSquare(m[2]), Promotion: nchess.NoPieceType}
	switch m[3] {
	case "q":
		mv.Promotion = nchess.Queen
	case "r":
		mv.Promotion = nchess.Rook
	case "b":
		mv.Promotion = nchess.Bishop
	case "n":
		mv.Promotion = nchess.Knight
	}
	return mv, nil
}

func parseSquare(s string) nchess.Square {
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1'))
}

func promotionSuffix(pt nchess.PieceType) string {
	switch pt {
	case nchess.Queen:
		return "q"
	case nchess.Rook:
		return "r"
	case nchess.Bishop:
		return "b"
	case nchess.Knight:
		return "n"
	}
	return ""
}

type change struct {
	sq    nchess.Square
	piece nchess.Piece
}

// Diff infers the single move that turns before into after.
//
// Squares are visited a1..a8, b1..h8. A single move touches one vacated and one
// arrived square, two vacated and one arrived (en passant), or two of each
// (castling); anything else is ambiguous.
func Diff(before, after Board) (Move, error) {
	var vacated, arrived []change
	for f := 0; f < 8; f++ {
		for r := 0; r < 8; r++ {
			sq := nchess.NewSquare(nchess.File(f), nchess.Rank(r))
			was, had := before.At(sq)
			now, has := after.At(sq)
			switch {
			case had && !has:
				vacated = append(vacated, change{sq: sq, piece: was})
			case has && (!had || was != now):
				arrived = append(arrived, change{sq: sq, piece: now})
			}
		}
	}
	if len(vacated) == 0 || len(arrived) == 0 {
		return Move{}, fmt.Errorf("%w: %d vacated, %d arrived", ErrAmbiguousDiff, len(vacated), len(arrived))
	}
	if len(vacated) > 2 || len(arrived) > 2 || (len(vacated) == 1 && len(arrived) == 2) {
		return Move{}, fmt.Errorf("%w: %d vacated, %d arrived", ErrAmbiguousDiff, len(vacated), len(arrived))
	}
	if mv, ok := castling(vacated, arrived); ok {
		return mv, nil
	}
	if len(arrived) == 2 {
		return Move{}, fmt.Errorf("%w: two pieces moved", ErrAmbiguousDiff)
	}
	for _, from := range vacated {
		for _, to := range arrived {
			if to.piece == from.piece {
				return Move{From: from.sq, To: to.sq, Promotion: nchess.NoPieceType}, nil
			}
			if promotes(from, to) {
				return Move{From: from.sq, To: to.sq, Promotion: to.piece.Type()}, nil
			}
		}
	}
	if len(vacated) == 1 {
		return Move{From: vacated[0].sq, To: arrived[0].sq, Promotion: nchess.NoPieceType}, nil
	}
	return Move{}, fmt.Errorf("%w: no vacated piece reappears", ErrAmbiguousDiff)
}

func castling(vacated, arrived []change) (Move, bool) {
	for _, from := range vacated {
		if from.piece.Type() != nchess.King {
			continue
		}
		for _, to := range arrived {
			if to.piece != from.piece || to.sq.Rank() != from.sq.Rank() {
				continue
			}
			dx := int(to.sq.File()) - int(from.sq.File())
			if dx == 2 || dx == -2 {
				return Move{From: from.sq, To: to.sq, Promotion: nchess.NoPieceType}, true
			}
		}
	}
	return Move{}, false
}

func promotes(from, to change) bool {
	if from.piece.Type() != nchess.Pawn || from.piece.Color() != to.piece.Color() {
		return false
	}
	switch to.piece.Type() {
	case nchess.Pawn, nchess.King, nchess.NoPieceType:
		return false
	}
	if from.piece.Color() == nchess.White {
		return to.sq.Rank() == nchess.Rank8
	}
	return to.sq.Rank() == nchess.Rank1
}
