package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/stretchr/testify/require"
)

func TestBlendOpaque(t *testing.T) {
	dst := frame.New(4, 4)
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}

	BlendImage(dst, src, 3, 3, 1)

	r, g, b := dst.RGBAt(3, 3)
	require.Equal(t, [3]uint8{255, 255, 255}, [3]uint8{r, g, b})
	r, _, _ = dst.RGBAt(2, 2)
	require.Zero(t, r)
}

func TestBlendHalfOpacity(t *testing.T) {
	dst := frame.New(1, 1)
	dst.Fill(0, 0, 200)
	src := image.NewUniform(color.RGBA{R: 200, A: 255})

	BlendImage(dst, &clipped{src, image.Rect(0, 0, 1, 1)}, 0, 0, 0.5)

	r, g, b := dst.RGBAt(0, 0)
	require.InDelta(t, 100, int(r), 1)
	require.Zero(t, g)
	require.InDelta(t, 100, int(b), 1)
}

func TestBlendSkipsTransparent(t *testing.T) {
	dst := frame.New(2, 2)
	dst.Fill(10, 20, 30)
	BlendImage(dst, image.NewRGBA(image.Rect(0, 0, 2, 2)), 0, 0, 1)
	r, g, b := dst.RGBAt(1, 1)
	require.Equal(t, [3]uint8{10, 20, 30}, [3]uint8{r, g, b})
}

func TestFillRectClips(t *testing.T) {
	dst := frame.New(4, 4)
	FillRect(dst, image.Rect(2, 2, 10, 10), color.RGBA{G: 255, A: 255}, 1)
	_, g, _ := dst.RGBAt(3, 3)
	require.EqualValues(t, 255, g)
	_, g, _ = dst.RGBAt(1, 1)
	require.Zero(t, g)
}

func TestLabelAnchors(t *testing.T) {
	dst := frame.New(320, 240)
	gray := color.RGBA{R: 128, G: 128, B: 128, A: 255}
	l := Label{Text: "hello", TextColor: color.RGBA{R: 255, G: 255, B: 255, A: 255}, Background: &gray, Padding: 2, Margin: 4, Scale: 1}

	top := l.Draw(dst, TopLeft)
	require.Equal(t, image.Pt(4, 4), top.Min)

	right := l.Draw(dst, TopRight)
	require.Equal(t, 316, right.Max.X)

	bottom := l.Draw(dst, BottomCenter)
	require.Equal(t, 236, bottom.Max.Y)
	require.InDelta(t, 160, (bottom.Min.X+bottom.Max.X)/2, 1)

	r, _, _ := dst.RGBAt(bottom.Min.X, bottom.Min.Y)
	require.EqualValues(t, 128, r, "background plate is drawn")
}

func TestLabelEmptyText(t *testing.T) {
	dst := frame.New(10, 10)
	l := Label{Text: "   "}
	require.True(t, l.Draw(dst, TopLeft).Empty())
	require.Nil(t, l.Render(10))
}

func TestLabelScale(t *testing.T) {
	l := Label{Text: "x", Scale: 3}
	img := l.Render(100)
	require.Equal(t, 21, img.Bounds().Dx())
	require.Equal(t, 39, img.Bounds().Dy())
	require.Equal(t, 3, ScaleFor(1080))
	require.Equal(t, 1, ScaleFor(240))
}
