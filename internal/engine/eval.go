package engine

import "github.com/notnil/chess"

// mateScore is the magnitude assigned to checkmate. Mates found deeper
// in the tree score slightly lower so the search prefers the shortest
// one.
const mateScore = 1_000_000

// pieceValues is centipawn material, indexed by chess.PieceType.
var pieceValues = [7]int{
	chess.Pawn:   100,
	chess.Knight: 320,
	chess.Bishop: 330,
	chess.Rook:   500,
	chess.Queen:  900,
	chess.King:   0,
}

// Piece-square tables, written from White's side with row 0 at the far
// rank. White lookups use pst[7-rank][file], black lookups pst[rank][file].
var pawnPST = [8][8]int{
	{0, 0, 0, 0, 0, 0, 0, 0},
	{50, 50, 50, 50, 50, 50, 50, 50},
	{10, 10, 20, 30, 30, 20, 10, 10},
	{5, 5, 10, 25, 25, 10, 5, 5},
	{0, 0, 0, 20, 20, 0, 0, 0},
	{5, -5, -10, 0, 0, -10, -5, 5},
	{5, 10, 10, -20, -20, 10, 10, 5},
	{0, 0, 0, 0, 0, 0, 0, 0},
}

var knightPST = [8][8]int{
	{-50, -40, -30, -30, -30, -30, -40, -50},
	{-40, -20, 0, 0, 0, 0, -20, -40},
	{-30, 0, 10, 15, 15, 10, 0, -30},
	{-30, 5, 15, 20, 20, 15, 5, -30},
	{-30, 0, 15, 20, 20, 15, 0, -30},
	{-30, 5, 10, 15, 15, 10, 5, -30},
	{-40, -20, 0, 5, 5, 0, -20, -40},
	{-50, -40, -30, -30, -30, -30, -40, -50},
}

var bishopPST = [8][8]int{
	{-20, -10, -10, -10, -10, -10, -10, -20},
	{-10, 0, 0, 0, 0, 0, 0, -10},
	{-10, 0, 5, 10, 10, 5, 0, -10},
	{-10, 5, 5, 10, 10, 5, 5, -10},
	{-10, 0, 10, 10, 10, 10, 0, -10},
	{-10, 10, 10, 10, 10, 10, 10, -10},
	{-10, 5, 0, 0, 0, 0, 5, -10},
	{-20, -10, -10, -10, -10, -10, -10, -20},
}

var rookPST = [8][8]int{
	{0, 0, 0, 0, 0, 0, 0, 0},
	{5, 10, 10, 10, 10, 10, 10, 5},
	{-5, 0, 0, 0, 0, 0, 0, -5},
	{-5, 0, 0, 0, 0, 0, 0, -5},
	{-5, 0, 0, 0, 0, 0, 0, -5},
	{-5, 0, 0, 0, 0, 0, 0, -5},
	{-5, 0, 0, 0, 0, 0, 0, -5},
	{0, 0, 0, 5, 5, 0, 0, 0},
}

var queenPST = [8][8]int{
	{-20, -10, -10, -5, -5, -10, -10, -20},
	{-10, 0, 0, 0, 0, 0, 0, -10},
	{-10, 0, 5, 5, 5, 5, 0, -10},
	{-5, 0, 5, 5, 5, 5, 0, -5},
	{0, 0, 5, 5, 5, 5, 0, -5},
	{-10, 5, 5, 5, 5, 5, 0, -10},
	{-10, 0, 5, 0, 0, 0, 0, -10},
	{-20, -10, -10, -5, -5, -10, -10, -20},
}

var kingPST = [8][8]int{
	{-30, -40, -40, -50, -50, -40, -40, -30},
	{-30, -40, -40, -50, -50, -40, -40, -30},
	{-30, -40, -40, -50, -50, -40, -40, -30},
	{-30, -40, -40, -50, -50, -40, -40, -30},
	{-20, -30, -30, -40, -40, -30, -30, -20},
	{-10, -20, -20, -20, -20, -20, -20, -10},
	{20, 30, 10, 0, 0, 10, 30, 20},
	{20, 30, 30, 10, 10, 30, 30, 20},
}

var pstByPiece = [7]*[8][8]int{
	chess.Pawn:   &pawnPST,
	chess.Knight: &knightPST,
	chess.Bishop: &bishopPST,
	chess.Rook:   &rookPST,
	chess.Queen:  &queenPST,
	chess.King:   &kingPST,
}

// evaluateWhite scores the position in centipawns from White's point
// of view: material plus piece-square bonuses plus a bishop-pair bonus.
func evaluateWhite(pos *chess.Position) int {
	switch pos.Status() {
	case chess.Checkmate:
		if pos.Turn() == chess.Black {
			return mateScore
		}
		return -mateScore
	case chess.Stalemate:
		return 0
	}
	if insufficientMaterial(pos.Board()) {
		return 0
	}

	score := 0
	bishopsW, bishopsB := 0, 0

	for sq, p := range pos.Board().SquareMap() {
		pt := p.Type()
		value := pieceValues[pt]
		pst := pstByPiece[pt]
		rank := int(sq.Rank())
		file := int(sq.File())

		if p.Color() == chess.White {
			score += value + pst[7-rank][file]
			if pt == chess.Bishop {
				bishopsW++
			}
		} else {
			score -= value + pst[rank][file]
			if pt == chess.Bishop {
				bishopsB++
			}
		}
	}

	if bishopsW >= 2 {
		score += 30
	}
	if bishopsB >= 2 {
		score -= 30
	}
	return score
}

// evaluateRelative scores the position from the side to move, which is
// the sign convention negamax needs.
func evaluateRelative(pos *chess.Position) int {
	white := evaluateWhite(pos)
	if pos.Turn() == chess.White {
		return white
	}
	return -white
}

// insufficientMaterial reports a dead position: neither side can ever
// deliver mate. Covers lone kings, a bare minor piece, and bishops all
// on one square color.
func insufficientMaterial(b *chess.Board) bool {
	type side struct {
		total   int
		knights int
		bishops int
		queens  int
		heavy   bool
	}
	var white, black side
	var lightBishop, darkBishop bool
	var pawns, knights int

	for sq, p := range b.SquareMap() {
		s := &white
		if p.Color() == chess.Black {
			s = &black
		}
		s.total++
		switch p.Type() {
		case chess.Pawn:
			s.heavy = true
			pawns++
		case chess.Rook:
			s.heavy = true
		case chess.Queen:
			s.heavy = true
			s.queens++
		case chess.Knight:
			s.knights++
			knights++
		case chess.Bishop:
			s.bishops++
			if (int(sq.Rank())+int(sq.File()))%2 == 0 {
				darkBishop = true
			} else {
				lightBishop = true
			}
		}
	}

	cantMate := func(own, other side) bool {
		if own.heavy {
			return false
		}
		if own.knights > 0 {
			// A lone knight only fails to mate when the opponent has
			// nothing to self-block with beyond king and queens.
			return own.total <= 2 && other.total-other.queens <= 1
		}
		if own.bishops > 0 {
			sameColor := !lightBishop || !darkBishop
			return sameColor && pawns == 0 && knights == 0
		}
		return true
	}
	return cantMate(white, black) && cantMate(black, white)
}
