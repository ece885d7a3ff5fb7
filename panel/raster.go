package panel

import (
	"image"
	"unicode/utf8"

	"github.com/roffe/cannode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

// raster is a 1 bit frame buffer laid out the way the SSD1306 expects it.
type raster struct {
	img  *image1bit.VerticalLSB
	face *basicfont.Face
	src  image.Image
}

func newRaster(bounds image.Rectangle) *raster {
	return &raster{
		img:  image1bit.NewVerticalLSB(bounds),
		face: basicfont.Face7x13,
		src:  image.NewUniform(image1bit.On),
	}
}

func (r *raster) clear() {
	r.fill(r.img.Bounds(), image1bit.Off)
}

func (r *raster) fill(rect image.Rectangle, b image1bit.Bit) {
	rect = rect.Intersect(r.img.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			r.img.SetBit(x, y, b)
		}
	}
}

// drawText blanks the glyph cells text spans, with p as the top-left corner
// of the first cell, and draws the glyphs into them.
func (r *raster) drawText(text string, p cannode.Point) {
	n := utf8.RuneCountInString(text)
	r.fill(image.Rect(p.X, p.Y, p.X+n*GlyphWidth, p.Y+GlyphHeight), image1bit.Off)
	d := font.Drawer{
		Dst:  r.img,
		Src:  r.src,
		Face: r.face,
		Dot:  fixed.P(p.X, p.Y+r.face.Ascent),
	}
	d.DrawString(text)
}
