//go:build linux

package v4l2

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Loopback publishes frames to a v4l2loopback node with write(2)
type Loopback struct {
	path   string
	fd     int
	format device.Format
	buf    []byte
	log    *zerolog.Logger
}

var _ device.Output = (*Loopback)(nil)

// OpenLoopback opens the loopback node for port and fixes its output format
func OpenLoopback(port int, f device.Format) (*Loopback, error) {
	log := logger.WithComponent("v4l2")
	path := device.OutputPath(port)

	if err := EnsureLoopback(port); err != nil {
		return nil, err
	}

	var bytesPerPixel int
	switch f.PixelFormat {
	case device.YUYV:
		bytesPerPixel = 2
	case device.RGB24:
		bytesPerPixel = frame.Channels
	default:
		return nil, fmt.Errorf("%w: cannot publish %s", device.ErrUnsupportedFormat, f.PixelFormat)
	}
	if !f.Resolution.Valid() {
		return nil, fmt.Errorf("invalid output size %s", f.Resolution)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", device.ErrDeviceUnavailable, path, err)
	}

	vf := format{typ: bufTypeVideoOutput}
	pix := vf.pix()
	pix.width = uint32(f.Width)
	pix.height = uint32(f.Height)
	pix.pixelFormat = uint32(f.PixelFormat)
	pix.field = fieldNone
	pix.bytesPerLine = uint32(f.Width * bytesPerPixel)
	pix.sizeImage = uint32(f.Width * f.Height * bytesPerPixel)
	pix.colorspace = colorspaceSRGB
	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&vf)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: failed to set output format %s on %s: %v", device.ErrDeviceUnavailable, f, path, err)
	}

	log.Info().
		Str("path", path).
		Stringer("format", f).
		Msg("Opened loopback device")

	return &Loopback{
		path:   path,
		fd:     fd,
		format: f,
		log:    log,
	}, nil
}

// WriteFrame converts f to the output pixel format and writes it
func (l *Loopback) WriteFrame(f *frame.Frame) error {
	if f.Width != l.format.Width || f.Height != l.format.Height {
		return fmt.Errorf("frame %s does not match output %s", f, l.format.Resolution)
	}

	data := f.Pix
	if l.format.PixelFormat == device.YUYV {
		l.buf = frame.EncodeYUYV(f, l.buf)
		data = l.buf
	}

	for len(data) > 0 {
		n, err := unix.Write(l.fd, data)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to write frame to %s: %w", l.path, err)
		}
		data = data[n:]
	}
	return nil
}

// Close releases the loopback node
func (l *Loopback) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	l.log.Info().Str("path", l.path).Msg("Closed loopback device")
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", l.path, err)
	}
	return nil
}

// EnsureLoopback checks that /dev/video<port> exists and is a loopback or
// output node. Creating the node needs root and is left to the operator.
func EnsureLoopback(port int) error {
	path := device.OutputPath(port)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s does not exist, load v4l2loopback with video_nr=%d", device.ErrDeviceUnavailable, path, port)
		}
		return fmt.Errorf("%w: %v", device.ErrDeviceUnavailable, err)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", device.ErrDeviceUnavailable, path, err)
	}
	defer unix.Close(fd)

	c, err := queryCap(fd)
	if err != nil {
		return fmt.Errorf("%w: %s is not a V4L2 device: %v", device.ErrDeviceUnavailable, path, err)
	}
	if c.caps()&capVideoOutput == 0 && c.driverName() != "v4l2 loopback" {
		return fmt.Errorf("%w: %s (%s) is not an output device", device.ErrDeviceUnavailable, path, c.cardName())
	}
	return nil
}
