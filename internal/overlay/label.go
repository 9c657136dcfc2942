package overlay

import (
	"image"
	"image/color"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Anchor selects where a label is placed on the frame
type Anchor int

const (
	TopLeft Anchor = iota
	TopRight
	BottomCenter
)

// Label is a line of text on an optional background plate
type Label struct {
	Text      string
	TextColor color.RGBA

	// Background is drawn behind the text when set
	Background *color.RGBA

	// Opacity applies to text and background, 0.0 to 1.0
	Opacity float64

	// Scale enlarges the 7x13 bitmap font by an integer factor. Zero picks
	// a factor from the frame height.
	Scale int

	// Padding around the text in unscaled pixels
	Padding int

	// Margin from the frame edge in pixels
	Margin int
}

var face = basicfont.Face7x13

// ScaleFor picks a font scale readable at the given frame height
func ScaleFor(frameHeight int) int {
	return max(1, frameHeight/360)
}

// Render rasterizes the label without placing it
func (l *Label) Render(frameHeight int) *image.RGBA {
	text := strings.TrimSpace(l.Text)
	if text == "" {
		return nil
	}

	scale := l.Scale
	if scale <= 0 {
		scale = ScaleFor(frameHeight)
	}

	d := &font.Drawer{Face: face}
	textWidth := d.MeasureString(text).Ceil()
	lineHeight := face.Metrics().Height.Ceil()

	w := textWidth + l.Padding*2
	h := lineHeight + l.Padding*2
	small := image.NewRGBA(image.Rect(0, 0, w, h))
	if l.Background != nil {
		xdraw.Draw(small, small.Bounds(), image.NewUniform(*l.Background), image.Point{}, xdraw.Src)
	}

	d.Dst = small
	d.Src = image.NewUniform(l.TextColor)
	d.Dot = fixed.Point26_6{X: fixed.I(l.Padding), Y: fixed.I(l.Padding) + face.Metrics().Ascent}
	d.DrawString(text)

	if scale == 1 {
		return small
	}
	big := image.NewRGBA(image.Rect(0, 0, w*scale, h*scale))
	xdraw.NearestNeighbor.Scale(big, big.Bounds(), small, small.Bounds(), xdraw.Src, nil)
	return big
}

// Draw renders the label onto dst at anchor and returns the covered area
func (l *Label) Draw(dst xdraw.Image, anchor Anchor) image.Rectangle {
	b := dst.Bounds()
	img := l.Render(b.Dy())
	if img == nil {
		return image.Rectangle{}
	}

	size := img.Bounds().Size()
	var at image.Point
	switch anchor {
	case TopLeft:
		at = image.Pt(b.Min.X+l.Margin, b.Min.Y+l.Margin)
	case TopRight:
		at = image.Pt(b.Max.X-l.Margin-size.X, b.Min.Y+l.Margin)
	case BottomCenter:
		at = image.Pt(b.Min.X+(b.Dx()-size.X)/2, b.Max.Y-l.Margin-size.Y)
	}

	opacity := l.Opacity
	if opacity == 0 {
		opacity = 1
	}
	BlendImage(dst, img, at.X, at.Y, opacity)
	return image.Rectangle{Min: at, Max: at.Add(size)}
}
