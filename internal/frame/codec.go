package frame

import (
	"bytes"
	"fmt"
	"image/jpeg"
)

// DecodeYUYV converts a packed YUYV 4:2:2 buffer into dst.
// dst must already have the capture size.
func DecodeYUYV(dst *Frame, src []byte) error {
	want := dst.Width * dst.Height * 2
	if len(src) < want {
		return fmt.Errorf("short YUYV buffer: got %d bytes, want %d", len(src), want)
	}
	di := 0
	for si := 0; si+3 < want; si += 4 {
		y0, u, y1, v := int(src[si]), int(src[si+1])-128, int(src[si+2]), int(src[si+3])-128
		dst.Pix[di], dst.Pix[di+1], dst.Pix[di+2] = yuvToRGB(y0, u, v)
		dst.Pix[di+3], dst.Pix[di+4], dst.Pix[di+5] = yuvToRGB(y1, u, v)
		di += 2 * Channels
	}
	return nil
}

// EncodeYUYV converts the frame into packed YUYV 4:2:2, reusing buf when it
// is large enough. Chroma is averaged over each horizontal pixel pair.
func EncodeYUYV(f *Frame, buf []byte) []byte {
	size := f.Width * f.Height * 2
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]
	di := 0
	for si := 0; si+5 < len(f.Pix); si += 2 * Channels {
		y0, u0, v0 := rgbToYUV(f.Pix[si], f.Pix[si+1], f.Pix[si+2])
		y1, u1, v1 := rgbToYUV(f.Pix[si+3], f.Pix[si+4], f.Pix[si+5])
		buf[di] = y0
		buf[di+1] = uint8((int(u0) + int(u1)) / 2)
		buf[di+2] = y1
		buf[di+3] = uint8((int(v0) + int(v1)) / 2)
		di += 4
	}
	return buf
}

// DecodeMJPEG decodes one motion-JPEG payload into dst. The decoded picture
// must match the negotiated size; webcams that omit the Huffman tables are
// reported as errors by image/jpeg.
func DecodeMJPEG(dst *Frame, src []byte) error {
	img, err := jpeg.Decode(bytes.NewReader(src))
	if err != nil {
		return fmt.Errorf("failed to decode MJPEG frame: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != dst.Width || b.Dy() != dst.Height {
		return fmt.Errorf("MJPEG frame is %dx%d, negotiated %dx%d", b.Dx(), b.Dy(), dst.Width, dst.Height)
	}
	dst.CopyImage(img)
	return nil
}

// BT.601 full-range integer approximation
func yuvToRGB(y, u, v int) (uint8, uint8, uint8) {
	r := y + (91881*v)>>16
	g := y - (22554*u+46802*v)>>16
	b := y + (116130*u)>>16
	return clamp(r), clamp(g), clamp(b)
}

func rgbToYUV(r, g, b uint8) (uint8, uint8, uint8) {
	ri, gi, bi := int(r), int(g), int(b)
	y := (19595*ri + 38470*gi + 7471*bi + 1<<15) >> 16
	u := ((-11059*ri - 21709*gi + 32768*bi + 1<<15) >> 16) + 128
	v := ((32768*ri - 27439*gi - 5329*bi + 1<<15) >> 16) + 128
	return clamp(y), clamp(u), clamp(v)
}

func clamp(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 0xff {
		return 0xff
	}
	return uint8(v)
}
