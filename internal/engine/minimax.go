package engine

import (
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/notnil/chess"

	"github.com/lox/chessarena/internal/rules"
)

// Minimax is a negamax alpha-beta searcher with iterative deepening, a
// transposition table, capture quiescence, and MVV-LVA plus killer and
// history move ordering.
type Minimax struct {
	name        string
	description string
	opts        Options
}

// NewMinimax returns a minimax engine bounded by opts.
func NewMinimax(opts Options) *Minimax {
	return &Minimax{
		name:        "Minimax (improved alpha-beta)",
		description: "Stronger and faster minimax with iterative deepening, transposition table, quiescence search, and better move ordering.",
		opts:        opts.normalized(),
	}
}

// NewMartinBot returns the minimax fork with a lighter budget and a
// little randomness, for quicker and less precise play.
func NewMartinBot() *Minimax {
	return &Minimax{
		name:        "MartinBot (basic minimax fork)",
		description: "A basic Martin-style minimax fork: quick, human-like, and less precise than full minimax.",
		opts:        MartinOptions(),
	}
}

func (e *Minimax) Name() string        { return e.name }
func (e *Minimax) Description() string { return e.description }

// Options returns the engine's search budget.
func (e *Minimax) Options() Options { return e.opts }

// WithOptions returns a copy of the engine running under a different
// budget.
func (e *Minimax) WithOptions(opts Options) Engine {
	clone := *e
	clone.opts = opts.normalized()
	return &clone
}

const (
	boundExact = iota
	boundLower
	boundUpper
)

type ttEntry struct {
	depth int
	score int
	bound int
	best  string
}

// searchState carries the per-search budget and the tables shared
// across the whole iterative-deepening run.
type searchState struct {
	opts     Options
	deadline time.Time
	nodes    int
	tt       map[string]ttEntry
	history  map[string]int
	killers  map[int][]string
}

func newSearchState(opts Options) *searchState {
	return &searchState{
		opts:     opts,
		deadline: time.Now().Add(time.Duration(opts.MaxTimeMS) * time.Millisecond),
		tt:       make(map[string]ttEntry),
		history:  make(map[string]int),
		killers:  make(map[int][]string),
	}
}

func (st *searchState) exhausted() bool {
	return st.nodes >= st.opts.MaxNodes || !time.Now().Before(st.deadline)
}

func (st *searchState) isKiller(depth int, uci string) bool {
	for _, k := range st.killers[depth] {
		if k == uci {
			return true
		}
	}
	return false
}

// rememberKiller front-inserts a quiet cutoff move, keeping at most two
// per depth.
func (st *searchState) rememberKiller(depth int, uci string) {
	if st.isKiller(depth, uci) {
		return
	}
	ks := append([]string{uci}, st.killers[depth]...)
	if len(ks) > 2 {
		ks = ks[:2]
	}
	st.killers[depth] = ks
}

// ttKey identifies a position by its FEN with the move counters
// stripped, so transpositions that differ only in clocks share entries.
func ttKey(pos *chess.Position) string {
	fen := pos.String()
	if i := strings.LastIndexByte(fen, ' '); i > 0 {
		if j := strings.LastIndexByte(fen[:i], ' '); j > 0 {
			return fen[:j]
		}
	}
	return fen
}

func isCapture(m *chess.Move) bool {
	return m.HasTag(chess.Capture) || m.HasTag(chess.EnPassant)
}

// captureMVVLVA orders captures by most valuable victim, least
// valuable attacker.
func captureMVVLVA(pos *chess.Position, m *chess.Move) int {
	victim := 0
	if m.HasTag(chess.EnPassant) {
		victim = pieceValues[chess.Pawn]
	} else if p := pos.Board().Piece(m.S2()); p != chess.NoPiece {
		victim = pieceValues[p.Type()]
	}
	attacker := 0
	if p := pos.Board().Piece(m.S1()); p != chess.NoPiece {
		attacker = pieceValues[p.Type()]
	}
	return victim*10 - attacker
}

func moveSortScore(pos *chess.Position, m *chess.Move, depth int, ttMove string, st *searchState) int {
	uci := m.String()
	if ttMove != "" && uci == ttMove {
		return 1_000_000
	}

	score := st.history[uci]

	if isCapture(m) {
		score += 30_000 + captureMVVLVA(pos, m)
	}
	if m.Promo() != chess.NoPieceType {
		score += 25_000 + pieceValues[m.Promo()]
	}
	if m.HasTag(chess.Check) {
		score += 2_000
	}
	if st.isKiller(depth, uci) {
		score += 4_000
	}
	return score
}

// orderedMoves returns the legal moves best-first. With capturesOnly it
// keeps only captures and promotions, which is the quiescence move set.
func orderedMoves(pos *chess.Position, depth int, st *searchState, ttMove string, capturesOnly bool) []*chess.Move {
	moves := pos.ValidMoves()
	if capturesOnly {
		kept := moves[:0]
		for _, m := range moves {
			if isCapture(m) || m.Promo() != chess.NoPieceType {
				kept = append(kept, m)
			}
		}
		moves = kept
	}

	type scoredMove struct {
		move  *chess.Move
		score int
	}
	scored := make([]scoredMove, len(moves))
	for i, m := range moves {
		scored[i] = scoredMove{m, moveSortScore(pos, m, depth, ttMove, st)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	for i, s := range scored {
		moves[i] = s.move
	}
	return moves
}

// quiescence extends the search through captures and promotions until
// the position is quiet, which stops the horizon effect at depth 0.
func quiescence(pos *chess.Position, alpha, beta int, st *searchState, ply int) int {
	st.nodes++
	if st.exhausted() {
		return evaluateRelative(pos)
	}

	switch pos.Status() {
	case chess.Checkmate:
		return -mateScore + ply
	case chess.Stalemate:
		return 0
	}
	if insufficientMaterial(pos.Board()) {
		return 0
	}

	standPat := evaluateRelative(pos)
	if standPat >= beta {
		return beta
	}
	if standPat > alpha {
		alpha = standPat
	}

	for _, m := range orderedMoves(pos, 0, st, "", true) {
		if st.exhausted() {
			break
		}
		score := -quiescence(pos.Update(m), -beta, -alpha, st, ply+1)
		if score >= beta {
			return beta
		}
		if score > alpha {
			alpha = score
		}
	}
	return alpha
}

func negamax(pos *chess.Position, depth, alpha, beta int, st *searchState, ply int) int {
	if st.exhausted() {
		return evaluateRelative(pos)
	}
	st.nodes++

	switch pos.Status() {
	case chess.Checkmate:
		return -mateScore + ply
	case chess.Stalemate:
		return 0
	}
	if insufficientMaterial(pos.Board()) {
		return 0
	}
	if depth <= 0 {
		return quiescence(pos, alpha, beta, st, ply)
	}

	alpha0 := alpha
	key := ttKey(pos)
	entry, ok := st.tt[key]
	ttMove := ""
	if ok && entry.depth >= depth {
		ttMove = entry.best
		switch entry.bound {
		case boundExact:
			return entry.score
		case boundLower:
			if entry.score > alpha {
				alpha = entry.score
			}
		case boundUpper:
			if entry.score < beta {
				beta = entry.score
			}
		}
		if alpha >= beta {
			return entry.score
		}
	} else if ok {
		ttMove = entry.best
	}

	bestScore := -mateScore
	bestMove := ""

	for _, m := range orderedMoves(pos, depth, st, ttMove, false) {
		if st.exhausted() {
			break
		}
		score := -negamax(pos.Update(m), depth-1, -beta, -alpha, st, ply+1)

		uci := m.String()
		if score > bestScore {
			bestScore = score
			bestMove = uci
		}
		if score > alpha {
			alpha = score
		}
		if alpha >= beta {
			st.rememberKiller(depth, uci)
			st.history[uci] += depth * depth
			break
		}
	}

	bound := boundExact
	if bestScore <= alpha0 {
		bound = boundUpper
	} else if bestScore >= beta {
		bound = boundLower
	}
	st.tt[key] = ttEntry{depth: depth, score: bestScore, bound: bound, best: bestMove}
	return bestScore
}

// ChooseMove runs iterative deepening from the given position and
// returns the best root move in UCI form.
func (e *Minimax) ChooseMove(board *rules.Board, rng *rand.Rand) (string, error) {
	pos := board.Position()
	legal := pos.ValidMoves()
	if len(legal) == 0 {
		return "", ErrNoLegalMoves
	}

	st := newSearchState(e.opts)
	best := legal[0]
	rootScores := make(map[string]int, len(legal))

	for depth := 1; depth <= e.opts.MaxDepth; depth++ {
		if st.exhausted() {
			break
		}

		ordered := orderRoot(pos, legal, depth, best, rootScores, st)
		depthBest := best
		depthBestScore := -mateScore

		for _, m := range ordered {
			if st.exhausted() {
				break
			}
			score := -negamax(pos.Update(m), depth-1, -mateScore, mateScore, st, 1)
			rootScores[m.String()] = score

			if score > depthBestScore {
				depthBestScore = score
				depthBest = m
			}
		}

		// A depth cut off mid-iteration has unreliable scores, so only
		// completed iterations replace the standing best move.
		if !st.exhausted() {
			best = depthBest
		}
	}

	if e.opts.RandomTop > 1 && len(rootScores) > 0 {
		if uci, ok := pickAmongTop(rootScores, e.opts, rng); ok {
			return uci, nil
		}
	}
	return best.String(), nil
}

// orderRoot sorts root moves by the previous iteration's best move
// first, then by that iteration's scores, then by the heuristic order.
func orderRoot(pos *chess.Position, legal []*chess.Move, depth int, best *chess.Move, rootScores map[string]int, st *searchState) []*chess.Move {
	bestUCI := best.String()

	type rootMove struct {
		move *chess.Move
		held bool
		prev int
		heur int
	}
	entries := make([]rootMove, len(legal))
	for i, m := range legal {
		uci := m.String()
		prev, ok := rootScores[uci]
		if !ok {
			prev = -mateScore
		}
		entries[i] = rootMove{
			move: m,
			held: uci == bestUCI,
			prev: prev,
			heur: moveSortScore(pos, m, depth, bestUCI, st),
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.held != b.held {
			return a.held
		}
		if a.prev != b.prev {
			return a.prev > b.prev
		}
		return a.heur > b.heur
	})

	out := make([]*chess.Move, len(entries))
	for i, e := range entries {
		out[i] = e.move
	}
	return out
}

// pickAmongTop draws uniformly from the top RandomTop root moves whose
// scores sit within RandomMarginCP of the best one.
func pickAmongTop(rootScores map[string]int, opts Options, rng *rand.Rand) (string, bool) {
	type scored struct {
		uci   string
		score int
	}
	ordered := make([]scored, 0, len(rootScores))
	for uci, s := range rootScores {
		ordered = append(ordered, scored{uci, s})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].score != ordered[j].score {
			return ordered[i].score > ordered[j].score
		}
		return ordered[i].uci < ordered[j].uci
	})

	if len(ordered) > opts.RandomTop {
		ordered = ordered[:opts.RandomTop]
	}
	ceiling := ordered[0].score
	pool := make([]string, 0, len(ordered))
	for _, s := range ordered {
		if ceiling-s.score <= opts.RandomMarginCP {
			pool = append(pool, s.uci)
		}
	}
	if len(pool) == 0 {
		return "", false
	}
	return pool[rng.IntN(len(pool))], true
}
