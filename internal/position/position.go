package position

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrMalformedPosition is returned when placement text cannot be decoded.
var ErrMalformedPosition = errors.New("malformed position")

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Board maps occupied squares to pieces. Empty squares are absent.
type Board map[nchess.Square]nchess.Piece

// Position is a decoded placement plus its auxiliary fields.
type Position struct {
	Board     Board
	Turn      nchess.Color
	Castling  string
	EnPassant string
	Halfmove  int
	Fullmove  int
}

var pieceBySymbol = map[byte]nchess.Piece{
	'K': nchess.WhiteKing, 'Q': nchess.WhiteQueen, 'R': nchess.WhiteRook,
	'B': nchess.WhiteBishop, 'N': nchess.WhiteKnight, 'P': nchess.WhitePawn,
	'k': nchess.BlackKing, 'q': nchess.BlackQueen, 'r': nchess.BlackRook,
	'b': nchess.BlackBishop, 'n': nchess.BlackKnight, 'p': nchess.BlackPawn,
}

var symbolByPiece = func() map[nchess.Piece]byte {
	m := make(map[nchess.Piece]byte, len(pieceBySymbol))
	for s, p := range pieceBySymbol {
		m[p] = s
	}
	return m
}()

// PieceFromSymbol maps a placement letter to its piece.
func PieceFromSymbol(c byte) (nchess.Piece, bool) {
	p, ok := pieceBySymbol[c]
	return p, ok
}

// Symbol returns the placement letter of p, or 0 for NoPiece.
func Symbol(p nchess.Piece) byte { return symbolByPiece[p] }

// Decode parses position text. Only the placement field is required; a missing
// side token means white to move.
func Decode(text string) (Position, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Position{}, fmt.Errorf("%w: empty text", ErrMalformedPosition)
	}
	board, err := decodePlacement(fields[0])
	if err != nil {
		return Position{}, err
	}
	pos := Position{Board: board, Turn: nchess.White, Castling: "-", EnPassant: "-", Fullmove: 1}
	if len(fields) > 1 {
		switch fields[1] {
		case "w":
			pos.Turn = nchess.White
		case "b":
			pos.Turn = nchess.Black
		default:
			return Position{}, fmt.Errorf("%w: side token %q", ErrMalformedPosition, fields[1])
		}
	}
	if len(fields) > 2 {
		pos.Castling = fields[2]
	}
	if len(fields) > 3 {
		pos.EnPassant = fields[3]
	}
	if len(fields) > 4 {
		if n, err := strconv.Atoi(fields[4]); err == nil && n >= 0 {
			pos.Halfmove = n
		}
	}
	if len(fields) > 5 {
		if n, err := strconv.Atoi(fields[5]); err == nil && n > 0 {
			pos.Fullmove = n
		}
	}
	return pos, nil
}

func decodePlacement(field string) (Board, error) {
	ranks := strings.Split(field, "/")
	if len(ranks) != 8 {
		return nil, fmt.Errorf("%w: %d rank groups", ErrMalformedPosition, len(ranks))
	}
	board := make(Board, 32)
	for i, group := range ranks {
		rank := nchess.Rank(7 - i)
		file := 0
		for j := 0; j < len(group); j++ {
			c := group[j]
			if c >= '1' && c <= '8' {
				file += int(c - '0')
			} else {
				piece, ok := pieceBySymbol[c]
				if !ok {
					return nil, fmt.Errorf("%w: unrecognized character %q", ErrMalformedPosition, c)
				}
				if file < 8 {
					board[nchess.NewSquare(nchess.File(file), rank)] = piece
				}
				file++
			}
			if file > 8 {
				return nil, fmt.Errorf("%w: rank %d wider than 8 squares", ErrMalformedPosition, 8-i)
			}
		}
		if file != 8 {
			return nil, fmt.Errorf("%w: rank %d has %d squares", ErrMalformedPosition, 8-i, file)
		}
	}
	return board, nil
}

// Encode renders a board and side to move; auxiliary fields are fixed to "- - 0 1".
func Encode(board Board, turn nchess.Color) string {
	return Placement(board) + " " + TurnToken(turn) + " - - 0 1"
}

// Placement renders only the placement field.
func Placement(board Board) string {
	var b strings.Builder
	for r := 7; r >= 0; r-- {
		empty := 0
		for f := 0; f < 8; f++ {
			piece, ok := board.At(nchess.NewSquare(nchess.File(f), nchess.Rank(r)))
			if !ok {
				empty++
				continue
			}
			if empty > 0 {
				b.WriteByte(byte('0' + empty))
				empty = 0
			}
			b.WriteByte(symbolByPiece[piece])
		}
		if empty > 0 {
			b.WriteByte(byte('0' + empty))
		}
		if r > 0 {
			b.WriteByte('/')
		}
	}
	return b.String()
}

// TurnToken is "b" for black and "w" otherwise.
func TurnToken(c nchess.Color) string {
	if c == nchess.Black {
		return "b"
	}
	return "w"
}

// String re-encodes the position with its own auxiliary fields.
func (p Position) String() string {
	castling, ep := p.Castling, p.EnPassant
	if castling == "" {
		castling = "-"
	}
	if ep == "" {
		ep = "-"
	}
	fullmove := p.Fullmove
	if fullmove <= 0 {
		fullmove = 1
	}
	return fmt.Sprintf("%s %s %s %s %d %d", Placement(p.Board), TurnToken(p.Turn), castling, ep, p.Halfmove, fullmove)
}

// Valid reports whether text looks like a position and decodes.
func Valid(text string) bool {
	if !strings.Contains(text, "/") {
		return false
	}
	_, err := Decode(text)
	return err == nil
}

// At returns the piece on sq; NoPiece entries count as empty.
func (b Board) At(sq nchess.Square) (nchess.Piece, bool) {
	p, ok := b[sq]
	if !ok || p == nchess.NoPiece {
		return nchess.NoPiece, false
	}
	return p, true
}

// Clone returns an independent copy.
func (b Board) Clone() Board {
	out := make(Board, len(b))
	for sq, p := range b {
		if p != nchess.NoPiece {
			out[sq] = p
		}
	}
	return out
}

// With returns a copy of b with p placed on sq (NoPiece clears it).
func (b Board) With(sq nchess.Square, p nchess.Piece) Board {
	out := b.Clone()
	if p == nchess.NoPiece {
		delete(out, sq)
	} else {
		out[sq] = p
	}
	return out
}

// Equal compares occupied squares.
func (b Board) Equal(o Board) bool {
	for sq := range b {
		bp, bok := b.At(sq)
		op, ook := o.At(sq)
		if bok != ook || bp != op {
			return false
		}
	}
	for sq := range o {
		if _, ok := o.At(sq); ok {
			if _, ok := b.At(sq); !ok {
				return false
			}
		}
	}
	return true
}
