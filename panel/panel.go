// Package panel holds the Display implementations a node can report to.
package panel

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/roffe/cannode"
)

const (
	// GlyphWidth and GlyphHeight are the cell size of the 7x13 panel font.
	// Character panels use the same cell size so points map identically.
	GlyphWidth  = 7
	GlyphHeight = 13

	DefaultWidth  = 128
	DefaultHeight = 64

	// DefaultTextWidth fits a full "Got message id: .., content: [..]" line
	// on the character panels, which have no pixel limit.
	DefaultTextWidth = 64 * GlyphWidth
)

type Config struct {
	Width  int // pixels, zero picks the panel default
	Height int // pixels, zero picks the panel default

	// I2CBus names the bus for the ssd1306 panel, empty picks the first one.
	I2CBus string

	// MQTT is the broker url of the mqtt panel, mqtt://host:1883/prefix.
	MQTT     string
	ClientID string

	// Output is where the terminal panel writes, stdout when nil.
	Output io.Writer
}

func (c *Config) withDefaults(width, height int) *Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Width <= 0 {
		out.Width = width
	}
	if out.Height <= 0 {
		out.Height = height
	}
	return &out
}

type PanelInfo struct {
	Name        string
	Description string
	// Width and Height are the panel size used when Config leaves it
	// unset, DefaultWidth by DefaultHeight when zero.
	Width  int
	Height int
	New    func(*Config) (cannode.Display, error)
}

func (p *PanelInfo) defaultSize() (int, int) {
	w, h := p.Width, p.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	return w, h
}

var panelMap = make(map[string]*PanelInfo)

func Register(info *PanelInfo) error {
	if _, found := panelMap[info.Name]; found {
		return fmt.Errorf("panel %s already registered", info.Name)
	}
	panelMap[info.Name] = info
	return nil
}

// New brings up the named panel. Any failure is a *cannode.StartupError.
func New(name string, cfg *Config) (cannode.Display, error) {
	for n, info := range panelMap {
		if strings.EqualFold(n, name) {
			d, err := info.New(cfg.withDefaults(info.defaultSize()))
			if err != nil {
				return nil, &cannode.StartupError{Component: "display", Err: err}
			}
			return d, nil
		}
	}
	return nil, &cannode.StartupError{Component: "display", Err: fmt.Errorf("unknown panel %q", name)}
}

func List() []PanelInfo {
	names := make([]string, 0, len(panelMap))
	for name := range panelMap {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]PanelInfo, 0, len(names))
	for _, name := range names {
		out = append(out, *panelMap[name])
	}
	return out
}

func displayError(op string, err error) error {
	return &cannode.DisplayError{Op: op, Err: err}
}
