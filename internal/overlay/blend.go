// Package overlay draws text plates and icons onto frames.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
)

// BlendImage blends src onto dst with its top-left corner at (x, y),
// scaling src's own alpha by opacity. Pixels outside dst are clipped.
func BlendImage(dst draw.Image, src image.Image, x, y int, opacity float64) {
	if opacity <= 0 {
		return
	}
	if opacity > 1 {
		opacity = 1
	}

	srcBounds := src.Bounds()
	dstBounds := dst.Bounds()

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + (sy - srcBounds.Min.Y)
		if dy < dstBounds.Min.Y || dy >= dstBounds.Max.Y {
			continue
		}

		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + (sx - srcBounds.Min.X)
			if dx < dstBounds.Min.X || dx >= dstBounds.Max.X {
				continue
			}

			// Source channels are alpha-premultiplied
			sr, sg, sb, sa := src.At(sx, sy).RGBA()
			if sa == 0 {
				continue
			}
			alpha := float64(sa) / 0xffff * opacity
			if alpha >= 1 {
				dst.Set(dx, dy, color.RGBA64{R: uint16(sr), G: uint16(sg), B: uint16(sb), A: 0xffff})
				continue
			}

			dr, dg, db, _ := dst.At(dx, dy).RGBA()
			mix := func(s, d uint32) uint8 {
				v := float64(s)*opacity + float64(d)*(1-alpha)
				return uint8(min(v/257, 255))
			}
			dst.Set(dx, dy, color.RGBA{R: mix(sr, dr), G: mix(sg, dg), B: mix(sb, db), A: 0xff})
		}
	}
}

// FillRect paints r with c at the given opacity
func FillRect(dst draw.Image, r image.Rectangle, c color.Color, opacity float64) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	if opacity >= 1 {
		draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
		return
	}
	plate := image.NewUniform(c)
	BlendImage(dst, &clipped{plate, r}, r.Min.X, r.Min.Y, opacity)
}

// clipped gives a uniform color finite bounds
type clipped struct {
	*image.Uniform
	r image.Rectangle
}

func (c *clipped) Bounds() image.Rectangle { return c.r }
