//go:build linux

package v4l2

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"golang.org/x/sys/unix"
)

// Device describes one capture node
type Device struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

// ProbeFormats and ProbeSizes are tried by ProbeResolutions, in order
var (
	ProbeFormats = []device.PixelFormat{device.YUYV, device.MJPEG}
	ProbeSizes   = []device.Resolution{
		{Width: 1920, Height: 1080},
		{Width: 1280, Height: 720},
		{Width: 800, Height: 600},
		{Width: 640, Height: 480},
		{Width: 320, Height: 240},
	}
)

// ListDevices returns every capture capable /dev/video node sorted by
// index, leaving out the loopback node at excludePort. Pass a negative
// port to keep all of them.
func ListDevices(excludePort int) ([]Device, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("failed to list video devices: %w", err)
	}

	var devices []Device
	for _, path := range paths {
		index, err := strconv.Atoi(strings.TrimPrefix(path, "/dev/video"))
		if err != nil || index == excludePort {
			continue
		}

		c, err := describe(path)
		if err != nil || c.caps()&capVideoCapture == 0 {
			continue
		}
		devices = append(devices, Device{
			Index:  index,
			Path:   path,
			Name:   c.cardName(),
			Driver: c.driverName(),
		})
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Index < devices[j].Index
	})
	return devices, nil
}

func describe(path string) (*capability, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)
	return queryCap(fd)
}

// ProbeResolutions asks the device for every combination of ProbeFormats
// and ProbeSizes and returns the distinct formats it granted, in probe order
func ProbeResolutions(path string) ([]device.Format, error) {
	c, err := OpenCapture(path, time.Second)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	seen := make(map[device.Format]struct{})
	var granted []device.Format
	for _, pf := range ProbeFormats {
		for _, size := range ProbeSizes {
			got, _, _, err := c.setFormat(device.Format{PixelFormat: pf, Resolution: size})
			if err != nil {
				c.log.Debug().Err(err).Stringer("format", pf).Stringer("size", size).Msg("Probe rejected")
				continue
			}
			if _, dup := seen[got]; dup {
				continue
			}
			seen[got] = struct{}{}
			granted = append(granted, got)
		}
	}
	return granted, nil
}

// ValidateCapture opens path, negotiates want and reads a single frame
func ValidateCapture(path string, want device.Format, timeout time.Duration) (device.Format, error) {
	c, err := OpenCapture(path, timeout)
	if err != nil {
		return device.Format{}, err
	}
	defer c.Close()

	granted, err := c.Negotiate(want)
	if err != nil {
		return granted, err
	}
	if err := c.Read(frame.New(granted.Width, granted.Height)); err != nil {
		return granted, fmt.Errorf("%s produced no frame: %w", path, err)
	}
	return granted, nil
}

// Provider opens real V4L2 devices
type Provider struct{}

var _ device.Provider = Provider{}

// EnsureOutput implements device.Provider
func (Provider) EnsureOutput(port int) error {
	return EnsureLoopback(port)
}

// OpenCapture implements device.Provider
func (Provider) OpenCapture(path string, readTimeout time.Duration) (device.Capture, error) {
	c, err := OpenCapture(path, readTimeout)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// OpenOutput implements device.Provider
func (Provider) OpenOutput(port int, f device.Format) (device.Output, error) {
	l, err := OpenLoopback(port, f)
	if err != nil {
		return nil, err
	}
	return l, nil
}
