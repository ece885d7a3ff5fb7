package panel

import (
	"errors"
	"fmt"
	"image"

	"github.com/golang/glog"
	"github.com/roffe/cannode"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/host/v3"
)

func init() {
	if err := Register(&PanelInfo{
		Name:        "ssd1306",
		Description: "128x64 monochrome OLED on I2C",
		New:         NewSSD1306,
	}); err != nil {
		panic(err)
	}
}

// oled is the part of *ssd1306.Dev the panel uses.
type oled interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Halt() error
}

// SSD1306 renders text with the 7x13 font into a local frame buffer and
// pushes the whole buffer to the OLED on every call.
type SSD1306 struct {
	dev oled
	bus i2c.BusCloser
	buf *raster
}

func NewSSD1306(cfg *Config) (cannode.Display, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.I2CBus, err)
	}
	opts := ssd1306.DefaultOpts
	opts.W, opts.H = cfg.Width, cfg.Height
	dev, err := ssd1306.NewI2C(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("ssd1306: %w", err)
	}
	glog.Infof("ssd1306 %dx%d on %s", cfg.Width, cfg.Height, bus)
	return newSSD1306(dev, bus)
}

func newSSD1306(dev oled, bus i2c.BusCloser) (*SSD1306, error) {
	s := &SSD1306{
		dev: dev,
		bus: bus,
		buf: newRaster(dev.Bounds()),
	}
	if err := s.Clear(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SSD1306) PrintNext(text string) error {
	return s.PrintAt(text, cannode.Point{})
}

func (s *SSD1306) PrintAt(text string, p cannode.Point) error {
	s.buf.drawText(text, p)
	return s.flush("print")
}

func (s *SSD1306) Clear() error {
	s.buf.clear()
	return s.flush("clear")
}

func (s *SSD1306) Close() error {
	var err error
	if herr := s.dev.Halt(); herr != nil {
		err = displayError("halt", herr)
	}
	if s.bus != nil {
		err = errors.Join(err, s.bus.Close())
	}
	return err
}

func (s *SSD1306) flush(op string) error {
	if err := s.dev.Draw(s.dev.Bounds(), s.buf.img, image.Point{}); err != nil {
		return displayError(op, err)
	}
	return nil
}
