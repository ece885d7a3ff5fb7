package panel

import "github.com/roffe/cannode"

func init() {
	if err := Register(&PanelInfo{
		Name:        "none",
		Description: "Discards everything, for headless nodes",
		New: func(*Config) (cannode.Display, error) {
			return None{}, nil
		},
	}); err != nil {
		panic(err)
	}
}

type None struct{}

func (None) PrintNext(string) error             { return nil }
func (None) PrintAt(string, cannode.Point) error { return nil }
func (None) Clear() error                        { return nil }
func (None) Close() error                        { return nil }
