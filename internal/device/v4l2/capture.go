//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const bufferCount = 4

// Capture reads frames from a V4L2 capture node using mmap streaming
type Capture struct {
	path    string
	fd      int
	timeout time.Duration
	log     *zerolog.Logger

	format       device.Format
	bytesPerLine int
	buffers      [][]byte
	streaming    bool
	scratch      []byte
}

var _ device.Capture = (*Capture)(nil)

// OpenCapture opens path and checks that it is a streaming capture node
func OpenCapture(path string, timeout time.Duration) (*Capture, error) {
	log := logger.WithComponent("v4l2")

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", device.ErrDeviceUnavailable, path, err)
	}

	c, err := queryCap(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s is not a V4L2 device: %v", device.ErrDeviceUnavailable, path, err)
	}
	if c.caps()&capVideoCapture == 0 || c.caps()&capStreaming == 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %s does not support streaming capture", device.ErrDeviceUnavailable, path)
	}

	log.Info().
		Str("path", path).
		Str("card", c.cardName()).
		Str("driver", c.driverName()).
		Msg("Opened capture device")

	return &Capture{
		path:    path,
		fd:      fd,
		timeout: timeout,
		log:     log,
	}, nil
}

// Negotiate requests want and reads back what the driver granted. Streaming
// starts once a supported format is granted.
func (c *Capture) Negotiate(want device.Format) (device.Format, error) {
	if c.streaming {
		c.stopStreaming()
	}

	granted, bytesPerLine, sizeImage, err := c.setFormat(want)
	if err != nil {
		return granted, err
	}
	if granted.PixelFormat != device.YUYV && granted.PixelFormat != device.MJPEG {
		return granted, fmt.Errorf("%w: %s granted %s", device.ErrUnsupportedFormat, c.path, granted.PixelFormat)
	}

	c.format = granted
	c.bytesPerLine = bytesPerLine
	if err := c.startStreaming(); err != nil {
		return granted, err
	}

	c.log.Info().
		Str("path", c.path).
		Stringer("requested", want).
		Stringer("granted", granted).
		Str("frame_size", humanize.Bytes(uint64(sizeImage))).
		Msg("Negotiated capture format")
	return granted, nil
}

// setFormat issues S_FMT and returns what G_FMT reports afterwards
func (c *Capture) setFormat(want device.Format) (device.Format, int, int, error) {
	f := format{typ: bufTypeVideoCapture}
	pix := f.pix()
	pix.width = uint32(want.Width)
	pix.height = uint32(want.Height)
	pix.pixelFormat = uint32(want.PixelFormat)
	pix.field = fieldNone
	if err := ioctl(c.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return device.Format{}, 0, 0, fmt.Errorf("failed to set format %s on %s: %w", want, c.path, err)
	}

	// Some drivers only update the struct on G_FMT
	got := format{typ: bufTypeVideoCapture}
	if err := ioctl(c.fd, vidiocGFmt, unsafe.Pointer(&got)); err != nil {
		return device.Format{}, 0, 0, fmt.Errorf("failed to read back format on %s: %w", c.path, err)
	}
	gp := got.pix()
	granted := device.Format{
		PixelFormat: device.PixelFormat(gp.pixelFormat),
		Resolution:  device.Resolution{Width: int(gp.width), Height: int(gp.height)},
	}
	return granted, int(gp.bytesPerLine), int(gp.sizeImage), nil
}

func (c *Capture) startStreaming() error {
	req := requestBuffers{count: bufferCount, typ: bufTypeVideoCapture, memory: memoryMmap}
	if err := ioctl(c.fd, vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("failed to request buffers on %s: %w", c.path, err)
	}
	if req.count == 0 {
		return fmt.Errorf("%s granted no buffers", c.path)
	}

	c.buffers = make([][]byte, 0, req.count)
	for i := uint32(0); i < req.count; i++ {
		b := buffer{index: i, typ: bufTypeVideoCapture, memory: memoryMmap}
		if err := ioctl(c.fd, vidiocQueryBuf, unsafe.Pointer(&b)); err != nil {
			c.releaseBuffers()
			return fmt.Errorf("failed to query buffer %d on %s: %w", i, c.path, err)
		}
		data, err := unix.Mmap(c.fd, b.offset(), int(b.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			c.releaseBuffers()
			return fmt.Errorf("failed to map buffer %d on %s: %w", i, c.path, err)
		}
		c.buffers = append(c.buffers, data)

		if err := ioctl(c.fd, vidiocQBuf, unsafe.Pointer(&b)); err != nil {
			c.releaseBuffers()
			return fmt.Errorf("failed to queue buffer %d on %s: %w", i, c.path, err)
		}
	}

	typ := int32(bufTypeVideoCapture)
	if err := ioctl(c.fd, vidiocStreamOn, unsafe.Pointer(&typ)); err != nil {
		c.releaseBuffers()
		return fmt.Errorf("failed to start streaming on %s: %w", c.path, err)
	}
	c.streaming = true
	return nil
}

func (c *Capture) stopStreaming() {
	typ := int32(bufTypeVideoCapture)
	if err := ioctl(c.fd, vidiocStreamOff, unsafe.Pointer(&typ)); err != nil {
		c.log.Debug().Err(err).Str("path", c.path).Msg("STREAMOFF failed")
	}
	c.streaming = false
	c.releaseBuffers()
}

func (c *Capture) releaseBuffers() {
	for _, data := range c.buffers {
		unix.Munmap(data)
	}
	c.buffers = nil

	req := requestBuffers{count: 0, typ: bufTypeVideoCapture, memory: memoryMmap}
	ioctl(c.fd, vidiocReqBufs, unsafe.Pointer(&req))
}

// Format returns the granted format
func (c *Capture) Format() device.Format {
	return c.format
}

// Read waits up to the read timeout for the next frame and decodes it into dst
func (c *Capture) Read(dst *frame.Frame) error {
	if !c.streaming {
		return fmt.Errorf("capture %s is not streaming", c.path)
	}
	if dst.Width != c.format.Width || dst.Height != c.format.Height {
		return fmt.Errorf("read into %s, granted %s", dst, c.format.Resolution)
	}

	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, int(c.timeout.Milliseconds()))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to poll %s: %w", c.path, err)
		}
		if n == 0 {
			return fmt.Errorf("%w after %s on %s", device.ErrReadTimeout, c.timeout, c.path)
		}
		break
	}

	b := buffer{typ: bufTypeVideoCapture, memory: memoryMmap}
	if err := ioctl(c.fd, vidiocDQBuf, unsafe.Pointer(&b)); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return fmt.Errorf("%w: no buffer ready on %s", device.ErrReadTimeout, c.path)
		}
		return fmt.Errorf("failed to dequeue buffer on %s: %w", c.path, err)
	}
	defer func() {
		if err := ioctl(c.fd, vidiocQBuf, unsafe.Pointer(&b)); err != nil {
			c.log.Warn().Err(err).Str("path", c.path).Msg("Failed to requeue buffer")
		}
	}()

	if int(b.index) >= len(c.buffers) {
		return fmt.Errorf("driver returned unknown buffer %d", b.index)
	}
	data := c.buffers[b.index][:min(int(b.bytesUsed), len(c.buffers[b.index]))]
	return c.decode(dst, data)
}

func (c *Capture) decode(dst *frame.Frame, data []byte) error {
	switch c.format.PixelFormat {
	case device.YUYV:
		return frame.DecodeYUYV(dst, c.packed(data, dst.Width*2, dst.Height))
	case device.MJPEG:
		return frame.DecodeMJPEG(dst, data)
	}
	return fmt.Errorf("%w: %s", device.ErrUnsupportedFormat, c.format.PixelFormat)
}

// packed drops row padding when the driver pads lines
func (c *Capture) packed(data []byte, rowBytes, rows int) []byte {
	if c.bytesPerLine <= rowBytes {
		return data
	}
	size := rowBytes * rows
	if cap(c.scratch) < size {
		c.scratch = make([]byte, size)
	}
	c.scratch = c.scratch[:size]
	for y := 0; y < rows; y++ {
		start := y * c.bytesPerLine
		if start >= len(data) {
			break
		}
		copy(c.scratch[y*rowBytes:(y+1)*rowBytes], data[start:])
	}
	return c.scratch
}

// Close stops streaming and releases the device
func (c *Capture) Close() error {
	if c.fd < 0 {
		return nil
	}
	if c.streaming {
		c.stopStreaming()
	}
	err := unix.Close(c.fd)
	c.fd = -1
	c.log.Info().Str("path", c.path).Msg("Closed capture device")
	if err != nil {
		return fmt.Errorf("failed to close %s: %w", c.path, err)
	}
	return nil
}
