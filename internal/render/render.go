package render

import (
	"image"
	"image/color"

	"github.com/andresmejia3/rollcall/internal/types"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	KnownColor   = color.RGBA{0, 200, 0, 255}
	UnknownColor = color.RGBA{220, 0, 0, 255}
)

const (
	lineWidth = 2
	labelPad  = 3
)

// Overlay is one labelled box to draw on a frame.
type Overlay struct {
	Rect  image.Rectangle
	Label string
	Color color.Color
}

// RectOf converts a face box to image coordinates.
func RectOf(r types.Rect) image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

// ColorFor returns green for known names and red for everything else.
func ColorFor(name string) color.Color {
	if name == "" || name == types.Unknown {
		return UnknownColor
	}
	return KnownColor
}

// ToRGBA copies img into a drawable RGBA image.
func ToRGBA(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Src)
	return dst
}

// Annotate draws every overlay onto dst. Boxes are clipped to the image; a label is
// drawn in a filled band along the inside bottom edge of its box.
func Annotate(dst draw.Image, overlays []Overlay) {
	for _, o := range overlays {
		r := o.Rect.Canon().Intersect(dst.Bounds())
		if r.Empty() {
			continue
		}
		c := o.Color
		if c == nil {
			c = UnknownColor
		}
		drawBox(dst, r, c)
		if o.Label != "" {
			drawLabel(dst, r, o.Label, c)
		}
	}
}

func drawBox(dst draw.Image, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	w := min(lineWidth, r.Dx(), r.Dy())
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+w),
		image.Rect(r.Min.X, r.Max.Y-w, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Max.Y),
		image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

func drawLabel(dst draw.Image, r image.Rectangle, label string, c color.Color) {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	height := metrics.Height.Ceil() + 2*labelPad

	band := image.Rect(r.Min.X, r.Max.Y-height, r.Max.X, r.Max.Y)
	if band.Min.Y < r.Min.Y {
		band.Min.Y = r.Min.Y
	}
	draw.Draw(dst, band.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(band.Min.X+labelPad, band.Max.Y-labelPad-metrics.Descent.Ceil()),
	}
	d.DrawString(label)
}
