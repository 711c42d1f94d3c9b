package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Wooden-set board colors. Pieces get a foreground on top of the
// square background so both read on light and dark terminals.
var (
	lightSquare = lipgloss.Color("#B9A37E")
	darkSquare  = lipgloss.Color("#6F5B3E")
	whitePiece  = lipgloss.Color("#FFFFFF")
	blackPiece  = lipgloss.Color("#14100B")
)

var pieceGlyphs = map[byte]string{
	'K': "♔", 'Q': "♕", 'R': "♖", 'B': "♗", 'N': "♘", 'P': "♙",
	'k': "♚", 'q': "♛", 'r': "♜", 'b': "♝", 'n': "♞", 'p': "♟",
}

// renderBoard draws the placement field of a FEN as a checkered grid,
// rank 8 on top. FENs arrive from the wire, so anything unparseable
// renders as an error line instead of panicking.
func renderBoard(fen string) string {
	placement, _, _ := strings.Cut(fen, " ")
	ranks := strings.Split(placement, "/")
	if len(ranks) != 8 {
		return ErrorStyle.Render(fmt.Sprintf("unreadable position %q", fen))
	}

	var sb strings.Builder
	for r, rank := range ranks {
		sb.WriteString(BoardEdgeStyle.Render(fmt.Sprintf("%d ", 8-r)))
		file := 0
		for i := 0; i < len(rank) && file < 8; i++ {
			c := rank[i]
			if c >= '1' && c <= '8' {
				for n := byte(0); n < c-'0' && file < 8; n++ {
					sb.WriteString(squareStyle(r, file).Render("   "))
					file++
				}
				continue
			}
			glyph, ok := pieceGlyphs[c]
			if !ok {
				return ErrorStyle.Render(fmt.Sprintf("unreadable position %q", fen))
			}
			color := whitePiece
			if c >= 'a' {
				color = blackPiece
			}
			sb.WriteString(squareStyle(r, file).Foreground(color).Render(" " + glyph + " "))
			file++
		}
		sb.WriteString("\n")
	}
	sb.WriteString(BoardEdgeStyle.Render("   a  b  c  d  e  f  g  h"))
	return sb.String()
}

// squareStyle alternates the checkering. a8 is a light square.
func squareStyle(rank, file int) lipgloss.Style {
	if (rank+file)%2 == 0 {
		return lipgloss.NewStyle().Background(lightSquare)
	}
	return lipgloss.NewStyle().Background(darkSquare)
}

// formatClock renders milliseconds the way a digital chess clock
// shows them. Values go briefly negative between a flag falling and
// the sweep recording it, so clamp at zero.
func formatClock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	s := ms / 1000
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func resultLabel(result string) string {
	switch result {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "½-½"
	default:
		return "*"
	}
}
