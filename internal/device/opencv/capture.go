//go:build with_cv && linux

package opencv

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/device/v4l2"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"gocv.io/x/gocv"
)

// Capture reads frames through gocv
type Capture struct {
	path   string
	cap    *gocv.VideoCapture
	format device.Format
	bgr    gocv.Mat
	rgb    gocv.Mat
}

var _ device.Capture = (*Capture)(nil)

// OpenCapture opens path with the V4L2 backend of OpenCV
func OpenCapture(path string) (*Capture, error) {
	vc, err := gocv.OpenVideoCaptureWithAPI(path, gocv.VideoCaptureV4L2)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", device.ErrDeviceUnavailable, path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: %s did not open", device.ErrDeviceUnavailable, path)
	}

	logger.WithComponent("opencv").Info().Str("path", path).Msg("Opened capture device")
	return &Capture{
		path: path,
		cap:  vc,
		bgr:  gocv.NewMat(),
		rgb:  gocv.NewMat(),
	}, nil
}

// Negotiate sets the fourcc and size, then reads back what OpenCV reports
func (c *Capture) Negotiate(want device.Format) (device.Format, error) {
	c.cap.Set(gocv.VideoCaptureFOURCC, c.cap.ToCodec(want.PixelFormat.String()))
	c.cap.Set(gocv.VideoCaptureFrameWidth, float64(want.Width))
	c.cap.Set(gocv.VideoCaptureFrameHeight, float64(want.Height))

	c.format = device.Format{
		PixelFormat: device.PixelFormat(uint32(c.cap.Get(gocv.VideoCaptureFOURCC))),
		Resolution: device.Resolution{
			Width:  int(c.cap.Get(gocv.VideoCaptureFrameWidth)),
			Height: int(c.cap.Get(gocv.VideoCaptureFrameHeight)),
		},
	}
	if !c.format.Resolution.Valid() {
		return c.format, fmt.Errorf("%s reported size %s", c.path, c.format.Resolution)
	}
	return c.format, nil
}

// Read grabs one frame and converts it from BGR
func (c *Capture) Read(dst *frame.Frame) error {
	if ok := c.cap.Read(&c.bgr); !ok || c.bgr.Empty() {
		return fmt.Errorf("%s returned no frame", c.path)
	}
	if c.bgr.Cols() != dst.Width || c.bgr.Rows() != dst.Height {
		return fmt.Errorf("frame is %dx%d, negotiated %s", c.bgr.Cols(), c.bgr.Rows(), c.format.Resolution)
	}
	if err := gocv.CvtColor(c.bgr, &c.rgb, gocv.ColorBGRToRGB); err != nil {
		return fmt.Errorf("failed to convert frame: %w", err)
	}
	data, err := c.rgb.DataPtrUint8()
	if err != nil {
		return fmt.Errorf("failed to access frame data: %w", err)
	}
	copy(dst.Pix, data)
	return nil
}

// Close releases the device and the conversion buffers
func (c *Capture) Close() error {
	c.bgr.Close()
	c.rgb.Close()
	return c.cap.Close()
}

// Provider captures through OpenCV and publishes through v4l2loopback
type Provider struct {
	v4l2.Provider
}

var _ device.Provider = Provider{}

// OpenCapture implements device.Provider. OpenCV has no read timeout.
func (Provider) OpenCapture(path string, _ time.Duration) (device.Capture, error) {
	c, err := OpenCapture(path)
	if err != nil {
		return nil, err
	}
	return c, nil
}
