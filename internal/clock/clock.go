// Package clock implements the Fischer-increment game clock shared by the
// move path, the arena timeout sweep, and time claims. Everything here is
// a pure function over a State snapshot so callers choose the wall clock.
package clock

import (
	"strconv"
	"strings"
	"time"

	"github.com/lox/chessarena/internal/rules"
)

// Fallback when a time-control string cannot be parsed.
const (
	DefaultBaseMS      = 180000
	DefaultIncrementMS = 2000
)

// State is the clock portion of a persisted game.
type State struct {
	WhiteMS     int64
	BlackMS     int64
	IncrementMS int64
	Running     rules.Color
	LastUpdate  time.Time
}

func elapsedMS(s State, now time.Time) int64 {
	ms := now.Sub(s.LastUpdate).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// Live returns both clocks as of now. Only the running side is debited,
// and never below zero.
func Live(s State, now time.Time) (whiteMS, blackMS int64) {
	whiteMS, blackMS = s.WhiteMS, s.BlackMS
	elapsed := elapsedMS(s, now)
	if s.Running == rules.White {
		whiteMS = max(0, whiteMS-elapsed)
	} else {
		blackMS = max(0, blackMS-elapsed)
	}
	return whiteMS, blackMS
}

// FlagFallen reports the side whose live clock has reached zero. ok is
// false while both clocks are positive.
func FlagFallen(s State, now time.Time) (loser rules.Color, ok bool) {
	wc, bc := Live(s, now)
	if wc <= 0 {
		return rules.White, true
	}
	if bc <= 0 {
		return rules.Black, true
	}
	return "", false
}

// ApplyMove debits the running side for the time since LastUpdate, adds
// the increment, hands the clock to the other side and stamps LastUpdate.
// The debited milliseconds are returned for the per-move time record.
func ApplyMove(s State, now time.Time) (State, int64) {
	elapsed := elapsedMS(s, now)
	if s.Running == rules.White {
		s.WhiteMS = max(0, s.WhiteMS-elapsed) + s.IncrementMS
	} else {
		s.BlackMS = max(0, s.BlackMS-elapsed) + s.IncrementMS
	}
	s.Running = s.Running.Other()
	s.LastUpdate = now
	return s, elapsed
}

// Berserk halves side's remaining time and removes the increment for the
// rest of the game.
func Berserk(s State, side rules.Color) State {
	if side == rules.White {
		s.WhiteMS /= 2
	} else {
		s.BlackMS /= 2
	}
	s.IncrementMS = 0
	return s
}

// ParseTimeControl converts an "M+I" spec (base minutes plus increment
// seconds) to milliseconds. Anything malformed or negative falls back to
// the 3+2 default.
func ParseTimeControl(tc string) (baseMS, incMS int64) {
	parts := strings.Split(tc, "+")
	minutes, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || minutes < 0 {
		return DefaultBaseMS, DefaultIncrementMS
	}
	seconds := 0
	if len(parts) > 1 {
		seconds, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || seconds < 0 {
			return DefaultBaseMS, DefaultIncrementMS
		}
	}
	return int64(minutes) * 60 * 1000, int64(seconds) * 1000
}
