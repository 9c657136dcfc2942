package frame

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *Frame {
	f := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.SetRGB(x, y, uint8(x*10), uint8(y*20), uint8(x+y))
		}
	}
	return f
}

func TestNewFrameShape(t *testing.T) {
	f := New(4, 3)
	require.True(t, f.Valid())
	require.Len(t, f.Pix, 4*3*Channels)
	require.Equal(t, 12, f.Stride())
	require.Equal(t, image.Rect(0, 0, 4, 3), f.Bounds())

	require.False(t, (&Frame{Width: 2, Height: 2, Pix: make([]uint8, 3)}).Valid())
	require.False(t, New(0, 5).Valid())
}

func TestFlipHorizontalTwiceIsIdentity(t *testing.T) {
	f := gradient(5, 4)
	orig := f.Clone()

	f.FlipHorizontal()
	r, g, b := f.RGBAt(0, 1)
	r0, g0, b0 := orig.RGBAt(4, 1)
	require.Equal(t, []uint8{r0, g0, b0}, []uint8{r, g, b})
	require.NotEqual(t, orig.Pix, f.Pix)

	f.FlipHorizontal()
	require.Equal(t, orig.Pix, f.Pix)
}

func TestCloneIsDeep(t *testing.T) {
	f := gradient(3, 3)
	c := f.Clone()
	c.SetRGB(0, 0, 1, 2, 3)
	require.NotEqual(t, f.Pix[:3], c.Pix[:3])
	require.True(t, f.SameShape(c))
	require.False(t, f.SameShape(New(3, 4)))
	require.False(t, f.SameShape(nil))
}

func TestRGBARoundTrip(t *testing.T) {
	f := gradient(6, 2)
	back := FromImage(f.ToRGBA())
	require.Equal(t, f.Pix, back.Pix)
}

func TestSetAndAt(t *testing.T) {
	f := New(2, 2)
	f.Set(1, 1, color.RGBA{R: 9, G: 8, B: 7, A: 0xff})
	require.Equal(t, color.RGBA{R: 9, G: 8, B: 7, A: 0xff}, f.At(1, 1))

	// out of bounds writes are ignored
	f.Set(5, 5, color.White)
	require.Equal(t, color.RGBA{}, f.At(5, 5))
}

func TestFromGenericImage(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.SetGray(1, 0, color.Gray{Y: 200})
	f := FromImage(gray)
	r, g, b := f.RGBAt(1, 0)
	require.Equal(t, []uint8{200, 200, 200}, []uint8{r, g, b})
}

func TestYUYVRoundTripIsClose(t *testing.T) {
	f := New(4, 2)
	f.Fill(120, 130, 140)

	buf := EncodeYUYV(f, nil)
	require.Len(t, buf, 4*2*2)

	back := New(4, 2)
	require.NoError(t, DecodeYUYV(back, buf))
	for i := range f.Pix {
		require.InDelta(t, int(f.Pix[i]), int(back.Pix[i]), 3)
	}
}

func TestDecodeYUYVShortBuffer(t *testing.T) {
	require.Error(t, DecodeYUYV(New(4, 4), make([]byte, 10)))
}

func TestDecodeMJPEGRejectsGarbage(t *testing.T) {
	require.Error(t, DecodeMJPEG(New(2, 2), []byte("not a jpeg")))
}
