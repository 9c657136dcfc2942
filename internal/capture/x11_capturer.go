package capture

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
)

// X11Grabber captures the root window of the default X screen
type X11Grabber struct {
	conn   *xgb.Conn
	root   xproto.Window
	screen *xproto.ScreenInfo
	mu     sync.Mutex
}

var _ Grabber = (*X11Grabber)(nil)

// NewX11Grabber connects to the X server named by $DISPLAY
func NewX11Grabber() (*X11Grabber, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	logger.WithComponent("x11-grabber").Info().
		Uint16("width", screen.WidthInPixels).
		Uint16("height", screen.HeightInPixels).
		Uint8("depth", screen.RootDepth).
		Msg("Connected to X server")

	return &X11Grabber{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
	}, nil
}

// Name returns the grabber name
func (c *X11Grabber) Name() string {
	return "X11"
}

// Close closes the X11 connection
func (c *X11Grabber) Close() error {
	c.conn.Close()
	return nil
}

// Grab captures the whole root window
func (c *X11Grabber) Grab() (*image.RGBA, error) {
	return c.GrabRegion(0, 0, int(c.screen.WidthInPixels), int(c.screen.HeightInPixels))
}

// GrabRegion captures a region of the root window
func (c *X11Grabber) GrabRegion(x, y, width, height int) (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := xproto.GetImage(
		c.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(c.root),
		int16(x), int16(y),
		uint16(width), uint16(height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	depth := int(c.screen.RootDepth)
	if depth != 24 && depth != 32 {
		return nil, fmt.Errorf("unsupported root depth %d", depth)
	}
	return convertBGRX(reply.Data, width, height), nil
}

// convertBGRX converts 32 bits per pixel ZPixmap data to opaque RGBA
func convertBGRX(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := min(len(data), len(img.Pix))
	for i := 0; i+3 < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	return img
}
