package main

import (
	"fmt"
	rand "math/rand/v2"
	"strings"
	"time"

	"github.com/lox/chessarena/internal/engine"
	"github.com/lox/chessarena/internal/randutil"
	"github.com/lox/chessarena/internal/rules"
)

// SelfplayCmd plays built-in engines against each other without a
// server or database. Useful for eyeballing engine strength and for
// reproducing engine behavior from a seed.
type SelfplayCmd struct {
	White    string `default:"minimax" help:"Engine for white"`
	Black    string `default:"martinbot" help:"Engine for black"`
	Games    int    `default:"1" help:"Number of games to play"`
	Seed     *int64 `help:"Deterministic RNG seed (optional)"`
	MaxPlies int    `default:"400" help:"Adjudicate a draw after this many half-moves"`
	Verbose  bool   `help:"Print every move"`
}

func (c *SelfplayCmd) Run() error {
	registry := engine.NewRegistry()
	for _, key := range []string{c.White, c.Black} {
		if !registry.Has(key) {
			return fmt.Errorf("unknown engine %q (available: %s)",
				key, strings.Join(registry.Keys(), ", "))
		}
	}
	white, black := registry.Get(c.White), registry.Get(c.Black)

	seed := time.Now().UnixNano()
	if c.Seed != nil {
		seed = *c.Seed
	}
	rng := randutil.New(seed)
	fmt.Printf("%s (white) vs %s (black), %d game(s), seed %d\n", c.White, c.Black, c.Games, seed)

	var whiteWins, blackWins, draws int
	for i := 1; i <= c.Games; i++ {
		result, reason, plies, err := c.playGame(white, black, rng)
		if err != nil {
			return fmt.Errorf("game %d: %w", i, err)
		}
		switch result {
		case "1-0":
			whiteWins++
		case "0-1":
			blackWins++
		default:
			draws++
		}
		fmt.Printf("game %d: %s in %d moves (%s)\n", i, result, (plies+1)/2, reason)
	}

	fmt.Printf("%s %d  %s %d  draws %d\n", c.White, whiteWins, c.Black, blackWins, draws)
	return nil
}

func (c *SelfplayCmd) playGame(white, black engine.Engine, rng *rand.Rand) (result, reason string, plies int, err error) {
	board := rules.New()
	for ; ; plies++ {
		if result, reason, over := adjudicate(board); over {
			c.flushLine(plies)
			return result, reason, plies, nil
		}
		if plies >= c.MaxPlies {
			c.flushLine(plies)
			return "1/2-1/2", "move cap", plies, nil
		}

		mover := white
		if board.Turn() == rules.Black {
			mover = black
		}
		move, err := mover.ChooseMove(board, rng)
		if err != nil {
			return "", "", plies, fmt.Errorf("%s: %w", mover.Name(), err)
		}
		if err := board.Push(move); err != nil {
			return "", "", plies, fmt.Errorf("%s played %s: %w", mover.Name(), move, err)
		}

		if c.Verbose {
			if plies%2 == 0 {
				fmt.Printf("%3d. %s", plies/2+1, move)
			} else {
				fmt.Printf("  %s\n", move)
			}
		}
	}
}

// flushLine terminates a half-printed move pair in verbose mode.
func (c *SelfplayCmd) flushLine(plies int) {
	if c.Verbose && plies%2 == 1 {
		fmt.Println()
	}
}

// adjudicate reports whether the position is terminal and the result
// from white's point of view. A checkmated side is the side to move.
func adjudicate(board *rules.Board) (result, reason string, over bool) {
	switch {
	case board.IsCheckmate():
		if board.Turn() == rules.White {
			return "0-1", "checkmate", true
		}
		return "1-0", "checkmate", true
	case board.IsStalemate():
		return "1/2-1/2", "stalemate", true
	case board.IsInsufficientMaterial():
		return "1/2-1/2", "insufficient material", true
	case board.IsSeventyFiveMoves():
		return "1/2-1/2", "seventy-five move rule", true
	}
	return "", "", false
}
