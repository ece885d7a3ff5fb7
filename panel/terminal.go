package panel

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/k0kubun/go-ansi"
	"github.com/roffe/cannode"
)

const (
	cursorHome  = "\x1b[H"
	eraseScreen = "\x1b[2J"
)

func init() {
	if err := Register(&PanelInfo{
		Name:        "terminal",
		Description: "Character panel drawn in the console",
		Width:       DefaultTextWidth,
		New:         NewTerminal,
	}); err != nil {
		panic(err)
	}
}

// Terminal draws the panel as a bordered box at the top of the console.
type Terminal struct {
	out   io.Writer
	grid  *textGrid
	style lipgloss.Style
	tty   bool
}

func NewTerminal(cfg *Config) (cannode.Display, error) {
	t := &Terminal{
		out:  cfg.Output,
		grid: newTextGrid(cfg.Width, cfg.Height),
	}
	if t.out == nil {
		t.out = ansi.NewAnsiStdout()
		t.tty = true
		ansi.CursorHide()
	}
	t.style = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Width(len(t.grid.cells[0]))
	if err := t.Clear(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Terminal) PrintNext(text string) error {
	return t.PrintAt(text, cannode.Point{})
}

func (t *Terminal) PrintAt(text string, p cannode.Point) error {
	t.grid.put(text, p)
	return t.flush("print")
}

func (t *Terminal) Clear() error {
	t.grid.clear()
	return t.flush("clear")
}

func (t *Terminal) Close() error {
	if t.tty {
		ansi.CursorShow()
	}
	return nil
}

func (t *Terminal) flush(op string) error {
	box := t.style.Render(strings.Join(t.grid.lines(), "\n"))
	if _, err := fmt.Fprint(t.out, cursorHome+eraseScreen+box+"\n"); err != nil {
		return displayError(op, err)
	}
	return nil
}
