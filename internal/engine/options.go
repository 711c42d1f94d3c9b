package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Options bounds a single search. MaxNodes and MaxTimeMS are hard
// ceilings; whichever trips first stops the search. RandomTop and
// RandomMarginCP soften play: when RandomTop > 1 the final move is
// drawn uniformly from the top RandomTop root moves that score within
// RandomMarginCP centipawns of the best.
type Options struct {
	MaxDepth       int `json:"max_depth"`
	MaxNodes       int `json:"max_nodes"`
	MaxTimeMS      int `json:"max_time_ms"`
	RandomTop      int `json:"random_top"`
	RandomMarginCP int `json:"random_margin_cp"`
}

// DefaultOptions is the stock minimax budget.
func DefaultOptions() Options {
	return Options{
		MaxDepth:       3,
		MaxNodes:       45000,
		MaxTimeMS:      450,
		RandomTop:      1,
		RandomMarginCP: 0,
	}
}

// MartinOptions is a lighter budget with a touch of randomness, for a
// weaker and more human feel.
func MartinOptions() Options {
	return Options{
		MaxDepth:       3,
		MaxNodes:       10000,
		MaxTimeMS:      10000,
		RandomTop:      2,
		RandomMarginCP: 90,
	}
}

// normalized clamps every field to a workable minimum so a sparse or
// hostile payload cannot produce a search that never moves.
func (o Options) normalized() Options {
	if o.MaxDepth < 1 {
		o.MaxDepth = 1
	}
	if o.MaxNodes < 1 {
		o.MaxNodes = 1
	}
	if o.MaxTimeMS < 1 {
		o.MaxTimeMS = 1
	}
	if o.RandomTop < 1 {
		o.RandomTop = 1
	}
	if o.RandomMarginCP < 0 {
		o.RandomMarginCP = 0
	}
	return o
}

// ParseOptions overlays a JSON payload on base, so a bot config only
// has to name the fields it wants to change.
func ParseOptions(raw string, base Options) (Options, error) {
	if strings.TrimSpace(raw) == "" {
		return base, nil
	}
	opts := base
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return base, fmt.Errorf("parse engine options: %w", err)
	}
	return opts.normalized(), nil
}
