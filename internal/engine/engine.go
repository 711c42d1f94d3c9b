// Package engine holds the move-selection strategies bot players run:
// a registry of named engines plus the engines themselves. Engines are
// pure move pickers; clocks, persistence, and scheduling live in the
// bot driver.
package engine

import (
	"errors"
	"math/rand/v2"
	"sort"

	"github.com/lox/chessarena/internal/rules"
)

// DefaultKey is the engine used when a bot's configured key is unknown.
const DefaultKey = "random_capture"

// ErrNoLegalMoves is returned when the side to move has no moves, which
// means the game is already over.
var ErrNoLegalMoves = errors.New("no legal moves available")

// Engine picks a move for the side to move, returned in UCI form.
// Implementations must not mutate the board they are given.
type Engine interface {
	Name() string
	Description() string
	ChooseMove(board *rules.Board, rng *rand.Rand) (string, error)
}

// Configurable is implemented by engines whose search budget can be
// tuned per bot.
type Configurable interface {
	Options() Options
	WithOptions(opts Options) Engine
}

// Registry maps engine keys to engines. Lookups for unknown keys fall
// back to the random-capture engine so a stale bot config can never
// leave a bot unable to move.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry returns a registry with every built-in engine registered.
func NewRegistry() *Registry {
	r := &Registry{engines: make(map[string]Engine)}
	r.register(DefaultKey, NewRandomCapture())
	r.register("minimax", NewMinimax(DefaultOptions()))
	r.register("martinbot", NewMartinBot())
	return r
}

func (r *Registry) register(key string, e Engine) {
	if key == "" {
		panic("engine: empty registry key")
	}
	if _, dup := r.engines[key]; dup {
		panic("engine: duplicate registry key " + key)
	}
	r.engines[key] = e
}

// Get returns the engine registered under key, or the random-capture
// fallback when the key is unknown.
func (r *Registry) Get(key string) Engine {
	if e, ok := r.engines[key]; ok {
		return e
	}
	return r.engines[DefaultKey]
}

// Has reports whether key names a registered engine.
func (r *Registry) Has(key string) bool {
	_, ok := r.engines[key]
	return ok
}

// Keys lists registered engine keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.engines))
	for k := range r.engines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ForBot resolves a bot's engine key and its stored options payload.
// Unknown keys fall back to random capture. A bad payload leaves the
// engine on its stock budget and reports the parse error so the caller
// can log it.
func (r *Registry) ForBot(key, optionsJSON string) (Engine, error) {
	e := r.Get(key)
	if optionsJSON == "" {
		return e, nil
	}
	c, ok := e.(Configurable)
	if !ok {
		return e, nil
	}
	opts, err := ParseOptions(optionsJSON, c.Options())
	if err != nil {
		return e, err
	}
	return c.WithOptions(opts), nil
}
