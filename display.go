package cannode

import "fmt"

// Point is a pixel coordinate on a panel, origin top-left.
type Point struct {
	X, Y int
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Display presents short diagnostic text. Every successful call commits the
// frame buffer to the physical panel exactly once.
type Display interface {
	// PrintNext renders text at the origin.
	PrintNext(text string) error
	// PrintAt renders text at p, overwriting the glyph cells it spans.
	PrintAt(text string, p Point) error
	// Clear blanks the whole buffer.
	Clear() error
	Close() error
}
