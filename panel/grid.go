package panel

import (
	"strings"

	"github.com/roffe/cannode"
)

// textGrid is a character cell buffer for panels that show text rather than
// pixels. Points are mapped to cells with the glyph size of the OLED font.
type textGrid struct {
	cells [][]rune
}

func newTextGrid(width, height int) *textGrid {
	cols, rows := width/GlyphWidth, height/GlyphHeight
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	g := &textGrid{cells: make([][]rune, rows)}
	for i := range g.cells {
		g.cells[i] = make([]rune, cols)
	}
	g.clear()
	return g
}

func (g *textGrid) clear() {
	for _, row := range g.cells {
		for i := range row {
			row[i] = ' '
		}
	}
}

// put overwrites the cells text spans starting at the cell containing p.
// Text that runs past the edge is clipped.
func (g *textGrid) put(text string, p cannode.Point) {
	row, col := p.Y/GlyphHeight, p.X/GlyphWidth
	if row < 0 || row >= len(g.cells) || col < 0 {
		return
	}
	line := g.cells[row]
	for _, r := range text {
		if col >= len(line) {
			return
		}
		if r < ' ' || r > '~' {
			r = '?'
		}
		line[col] = r
		col++
	}
}

func (g *textGrid) lines() []string {
	out := make([]string, len(g.cells))
	for i, row := range g.cells {
		out[i] = strings.TrimRight(string(row), " ")
	}
	return out
}
