// Package frame holds the pixel buffer that flows through the capture,
// transform and publish loop.
//
// A Frame is always packed RGB24: Height rows of Width pixels, three 8-bit
// channels per pixel, no padding between rows. Frame implements draw.Image
// so it can be handed directly to image libraries and font drawers.
package frame

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
)

// Channels is the number of bytes per pixel
const Channels = 3

// Frame is one fixed-size RGB24 pixel buffer
type Frame struct {
	Width  int
	Height int
	Pix    []uint8
}

var _ draw.Image = (*Frame)(nil)

// New allocates a black frame of the given size
func New(width, height int) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*Channels),
	}
}

// Stride returns the number of bytes per row
func (f *Frame) Stride() int {
	return f.Width * Channels
}

// Valid reports whether the buffer length matches the declared shape
func (f *Frame) Valid() bool {
	return f != nil && f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*Channels
}

// SameShape reports whether both frames share width, height and buffer size
func (f *Frame) SameShape(other *Frame) bool {
	if f == nil || other == nil {
		return false
	}
	return f.Width == other.Width && f.Height == other.Height && len(f.Pix) == len(other.Pix)
}

// String describes the frame shape
func (f *Frame) String() string {
	if f == nil {
		return "Frame(nil)"
	}
	return fmt.Sprintf("Frame(%dx%dx%d)", f.Width, f.Height, Channels)
}

// ColorModel implements image.Image
func (f *Frame) ColorModel() color.Model {
	return color.RGBAModel
}

// Bounds implements image.Image
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// At implements image.Image
func (f *Frame) At(x, y int) color.Color {
	if !(image.Point{X: x, Y: y}.In(f.Bounds())) {
		return color.RGBA{}
	}
	i := f.offset(x, y)
	return color.RGBA{R: f.Pix[i], G: f.Pix[i+1], B: f.Pix[i+2], A: 0xff}
}

// Set implements draw.Image. Alpha is dropped, the frame has no alpha channel.
func (f *Frame) Set(x, y int, c color.Color) {
	if !(image.Point{X: x, Y: y}.In(f.Bounds())) {
		return
	}
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	i := f.offset(x, y)
	f.Pix[i] = rgba.R
	f.Pix[i+1] = rgba.G
	f.Pix[i+2] = rgba.B
}

// RGBAt returns the raw channels of a pixel
func (f *Frame) RGBAt(x, y int) (r, g, b uint8) {
	i := f.offset(x, y)
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// SetRGB writes the raw channels of a pixel
func (f *Frame) SetRGB(x, y int, r, g, b uint8) {
	i := f.offset(x, y)
	f.Pix[i] = r
	f.Pix[i+1] = g
	f.Pix[i+2] = b
}

func (f *Frame) offset(x, y int) int {
	return y*f.Stride() + x*Channels
}

// Clone returns a deep copy
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	pix := make([]uint8, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Width: f.Width, Height: f.Height, Pix: pix}
}

// Fill paints every pixel with one color
func (f *Frame) Fill(r, g, b uint8) {
	for i := 0; i+2 < len(f.Pix); i += Channels {
		f.Pix[i] = r
		f.Pix[i+1] = g
		f.Pix[i+2] = b
	}
}

// FlipHorizontal mirrors the frame around its vertical axis in place
func (f *Frame) FlipHorizontal() {
	stride := f.Stride()
	for y := 0; y < f.Height; y++ {
		row := f.Pix[y*stride : (y+1)*stride]
		for l, r := 0, f.Width-1; l < r; l, r = l+1, r-1 {
			li, ri := l*Channels, r*Channels
			row[li], row[ri] = row[ri], row[li]
			row[li+1], row[ri+1] = row[ri+1], row[li+1]
			row[li+2], row[ri+2] = row[ri+2], row[li+2]
		}
	}
}

// ToRGBA converts the frame into an opaque *image.RGBA
func (f *Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(f.Bounds())
	for si, di := 0, 0; si+2 < len(f.Pix); si, di = si+Channels, di+4 {
		img.Pix[di] = f.Pix[si]
		img.Pix[di+1] = f.Pix[si+1]
		img.Pix[di+2] = f.Pix[si+2]
		img.Pix[di+3] = 0xff
	}
	return img
}

// FromImage converts any image into a new frame of the same size.
// Translucent pixels are composited over black.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := New(b.Dx(), b.Dy())
	f.CopyImage(img)
	return f
}

// CopyImage writes img into f starting at the frame origin, clipping
// whatever does not fit.
func (f *Frame) CopyImage(img image.Image) {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok {
		w := min(b.Dx(), f.Width)
		h := min(b.Dy(), f.Height)
		for y := 0; y < h; y++ {
			src := rgba.Pix[rgba.PixOffset(b.Min.X, b.Min.Y+y):]
			dst := f.Pix[y*f.Stride():]
			for x := 0; x < w; x++ {
				// image.RGBA is alpha-premultiplied, which is already "over black"
				dst[x*Channels] = src[x*4]
				dst[x*Channels+1] = src[x*4+1]
				dst[x*Channels+2] = src[x*4+2]
			}
		}
		return
	}
	draw.Draw(f, image.Rect(0, 0, b.Dx(), b.Dy()), img, b.Min, draw.Src)
}
