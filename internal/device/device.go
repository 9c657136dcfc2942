// Package device defines the contracts between the streaming engine and the
// physical capture device and virtual output device it owns.
package device

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/frame"
)

var (
	// ErrDeviceUnavailable wraps failures to open or provision a device
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrReadTimeout is returned when no frame arrived within the read timeout
	ErrReadTimeout = errors.New("frame read timed out")

	// ErrUnsupportedFormat is returned for pixel formats that cannot be
	// decoded into or encoded from a frame
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// PixelFormat is a V4L2 fourcc code
type PixelFormat uint32

// FourCC builds a pixel format from its four character code
func FourCC(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	YUYV  = FourCC('Y', 'U', 'Y', 'V')
	MJPEG = FourCC('M', 'J', 'P', 'G')
	RGB24 = FourCC('R', 'G', 'B', '3')
)

// String returns the four character code
func (p PixelFormat) String() string {
	b := []byte{byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)}
	return strings.TrimRight(string(b), "\x00 ")
}

// MarshalText writes the fourcc
func (p PixelFormat) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts anything ParsePixelFormat does
func (p *PixelFormat) UnmarshalText(text []byte) error {
	v, err := ParsePixelFormat(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePixelFormat accepts a fourcc or one of the common aliases
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YUYV", "YUY2":
		return YUYV, nil
	case "MJPG", "MJPEG":
		return MJPEG, nil
	case "RGB3", "RGB24", "RGB":
		return RGB24, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Resolution is a frame size in pixels
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Valid reports whether both dimensions are positive
func (r Resolution) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Format is a pixel format at a resolution
type Format struct {
	PixelFormat PixelFormat `json:"pixel_format" yaml:"pixel_format"`
	Resolution  `yaml:",inline"`
}

func (f Format) String() string {
	return fmt.Sprintf("%s %s", f.PixelFormat, f.Resolution)
}

// Capture is an open capture device.
//
// Negotiate must be called before Read. Read blocks until a frame arrives
// or the timeout given when the device was opened elapses.
type Capture interface {
	// Negotiate requests a format and returns the one the device granted,
	// which may differ in both pixel format and resolution
	Negotiate(want Format) (Format, error)

	// Read decodes the next frame into dst, which must match the granted
	// resolution
	Read(dst *frame.Frame) error

	Close() error
}

// Output is an open virtual output device with a fixed frame size
type Output interface {
	// WriteFrame publishes one frame. The frame must match the size the
	// output was opened with.
	WriteFrame(f *frame.Frame) error

	Close() error
}

// Provider opens devices. The engine only talks to devices through it.
type Provider interface {
	// EnsureOutput checks that the loopback node for port exists and
	// accepts output. It never creates the node.
	EnsureOutput(port int) error

	// OpenCapture opens a capture device by path
	OpenCapture(path string, readTimeout time.Duration) (Capture, error)

	// OpenOutput opens the loopback node for port at a fixed format
	OpenOutput(port int, format Format) (Output, error)
}

// OutputPath returns the device node of a loopback port
func OutputPath(port int) string {
	return fmt.Sprintf("/dev/video%d", port)
}
