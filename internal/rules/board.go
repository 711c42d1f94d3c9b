// Package rules wraps the chess move-generation library behind the small
// surface the rest of the server needs: FEN in, UCI in and out, legality,
// and terminal-state detection. Nothing outside this package and the
// engine search code touches the library directly.
package rules

import (
	"errors"
	"fmt"

	"github.com/notnil/chess"
)

// StartingFEN is the standard initial position.
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrMoveFormat  = errors.New("invalid move format")
	ErrIllegalMove = errors.New("illegal move")
)

// Color names a side in the lowercase form stored and served everywhere.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Other returns the opposing side.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Board is a single live position. It carries no move history beyond what
// the FEN encodes, which matches how games are persisted.
type Board struct {
	game *chess.Game
}

// New returns a board at the starting position.
func New() *Board {
	return &Board{game: chess.NewGame()}
}

// FromFEN parses a FEN string into a board.
func FromFEN(fen string) (*Board, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return &Board{game: chess.NewGame(opt)}, nil
}

// Clone returns an independent copy of the board.
func (b *Board) Clone() *Board {
	nb, err := FromFEN(b.FEN())
	if err != nil {
		// A FEN we produced ourselves always parses.
		panic(fmt.Sprintf("rules: clone failed: %v", err))
	}
	return nb
}

// FEN encodes the current position.
func (b *Board) FEN() string {
	return b.game.Position().String()
}

// Turn reports the side to move.
func (b *Board) Turn() Color {
	if b.game.Position().Turn() == chess.White {
		return White
	}
	return Black
}

// LegalMoves returns every legal move in UCI, in generation order.
func (b *Board) LegalMoves() []string {
	pos := b.game.Position()
	moves := pos.ValidMoves()
	enc := chess.UCINotation{}
	out := make([]string, len(moves))
	for i, m := range moves {
		out[i] = enc.Encode(pos, m)
	}
	return out
}

// wellFormedUCI checks the <from><to>[promo] shape without consulting the
// position.
func wellFormedUCI(uci string) bool {
	if len(uci) != 4 && len(uci) != 5 {
		return false
	}
	if uci[0] < 'a' || uci[0] > 'h' || uci[2] < 'a' || uci[2] > 'h' {
		return false
	}
	if uci[1] < '1' || uci[1] > '8' || uci[3] < '1' || uci[3] > '8' {
		return false
	}
	if len(uci) == 5 {
		switch uci[4] {
		case 'q', 'r', 'b', 'n':
		default:
			return false
		}
	}
	return true
}

// findMove resolves a UCI string against the legal moves so the returned
// move carries its generation tags (captures, checks, en passant).
func (b *Board) findMove(uci string) (*chess.Move, error) {
	if !wellFormedUCI(uci) {
		return nil, fmt.Errorf("%w: %q", ErrMoveFormat, uci)
	}
	pos := b.game.Position()
	enc := chess.UCINotation{}
	for _, m := range pos.ValidMoves() {
		if enc.Encode(pos, m) == uci {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrIllegalMove, uci)
}

// Validate checks a UCI move against the position without applying it.
func (b *Board) Validate(uci string) error {
	_, err := b.findMove(uci)
	return err
}

// Push applies a UCI move. ErrMoveFormat and ErrIllegalMove distinguish
// unparseable input from a well-formed but illegal move.
func (b *Board) Push(uci string) error {
	m, err := b.findMove(uci)
	if err != nil {
		return err
	}
	if err := b.game.Move(m); err != nil {
		return fmt.Errorf("%w: %q", ErrIllegalMove, uci)
	}
	return nil
}

// IsCapture reports whether the move takes a piece, counting en passant.
func (b *Board) IsCapture(uci string) (bool, error) {
	m, err := b.findMove(uci)
	if err != nil {
		return false, err
	}
	return m.HasTag(chess.Capture) || m.HasTag(chess.EnPassant), nil
}

// IsCheckmate reports whether the side to move has been mated.
func (b *Board) IsCheckmate() bool {
	return b.game.Position().Status() == chess.Checkmate
}

// IsStalemate reports whether the side to move has no move and no check.
func (b *Board) IsStalemate() bool {
	return b.game.Position().Status() == chess.Stalemate
}

// IsInsufficientMaterial reports a dead position (K vs K and friends).
func (b *Board) IsInsufficientMaterial() bool {
	return b.game.Method() == chess.InsufficientMaterial
}

// IsSeventyFiveMoves reports the automatic 75-move draw, read from the
// halfmove clock the FEN carries.
func (b *Board) IsSeventyFiveMoves() bool {
	return b.game.Method() == chess.SeventyFiveMoveRule
}

// Position exposes the underlying library position for engine search.
func (b *Board) Position() *chess.Position {
	return b.game.Position()
}
