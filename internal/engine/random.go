package engine

import (
	"math/rand/v2"

	"github.com/notnil/chess"

	"github.com/lox/chessarena/internal/rules"
)

// RandomCapture plays a uniformly random legal move, preferring
// captures when any exist. It is the weakest engine and the fallback
// for unknown keys and failed searches.
type RandomCapture struct{}

// NewRandomCapture returns the random-capture engine.
func NewRandomCapture() *RandomCapture {
	return &RandomCapture{}
}

func (RandomCapture) Name() string { return "Random (captures first)" }

func (RandomCapture) Description() string {
	return "Picks a random legal move, but prefers captures when available."
}

// ChooseMove picks uniformly among captures, or among all legal moves
// when there are none.
func (RandomCapture) ChooseMove(board *rules.Board, rng *rand.Rand) (string, error) {
	pos := board.Position()
	legal := pos.ValidMoves()
	if len(legal) == 0 {
		return "", ErrNoLegalMoves
	}
	captures := make([]*chess.Move, 0, len(legal))
	for _, m := range legal {
		if isCapture(m) {
			captures = append(captures, m)
		}
	}
	pool := legal
	if len(captures) > 0 {
		pool = captures
	}
	return pool[rng.IntN(len(pool))].String(), nil
}
