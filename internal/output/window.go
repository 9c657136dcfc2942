package output

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
)

// pixmapFormat is how the X server wants pixels laid out for one depth
type pixmapFormat struct {
	depth         uint8
	bytesPerPixel int
	scanlinePad   int
}

// Window shows published frames in a local X11 window. The window is
// created on the first frame, at that frame's size, and recreated when the
// size changes.
type Window struct {
	title  string
	conn   *xgb.Conn
	screen *xproto.ScreenInfo
	format pixmapFormat
	// maxRequest is the largest request the server accepts, in bytes
	maxRequest int

	mu     sync.Mutex
	window xproto.Window
	gc     xproto.Gcontext
	width  int
	height int
	buf    []byte
}

var _ Sink = (*Window)(nil)

// NewWindow connects to the X server named by $DISPLAY
func NewWindow(title string) (*Window, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	w := &Window{
		title:      title,
		conn:       conn,
		screen:     screen,
		maxRequest: int(setup.MaximumRequestLength) * 4,
	}
	for _, f := range setup.PixmapFormats {
		if f.Depth == screen.RootDepth {
			w.format = pixmapFormat{
				depth:         f.Depth,
				bytesPerPixel: int(f.BitsPerPixel) / 8,
				scanlinePad:   int(f.ScanlinePad) / 8,
			}
			break
		}
	}
	if w.format.bytesPerPixel != 3 && w.format.bytesPerPixel != 4 {
		conn.Close()
		return nil, fmt.Errorf("unsupported root depth %d", screen.RootDepth)
	}
	return w, nil
}

// Name implements Sink
func (w *Window) Name() string {
	return "window"
}

// WriteFrame implements Sink
func (w *Window) WriteFrame(f *frame.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.window == 0 || w.width != f.Width || w.height != f.Height {
		w.destroy()
		if err := w.create(f.Width, f.Height); err != nil {
			return err
		}
	}

	var stride int
	w.buf, stride = toZPixmap(w.buf, f, w.format)

	// Large frames are sent in bands that fit in one request
	const putImageHeader = 24
	rows := max(1, (w.maxRequest-putImageHeader)/stride)
	for y := 0; y < f.Height; y += rows {
		n := min(rows, f.Height-y)
		err := xproto.PutImageChecked(
			w.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(w.window),
			w.gc,
			uint16(f.Width), uint16(n),
			0, int16(y),
			0,
			w.format.depth,
			w.buf[y*stride:(y+n)*stride],
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

func (w *Window) create(width, height int) error {
	log := logger.WithComponent("window")

	id, err := xproto.NewWindowId(w.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}
	err = xproto.CreateWindowChecked(
		w.conn,
		w.screen.RootDepth,
		id,
		w.screen.Root,
		0, 0,
		uint16(width), uint16(height),
		0,
		xproto.WindowClassInputOutput,
		w.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}
	w.window = id

	if err := w.setProperty("_NET_WM_NAME", "UTF8_STRING", w.title); err != nil {
		log.Warn().Err(err).Msg("Failed to set window title")
	}
	if err := w.setProperty("WM_CLASS", "", "loopcam\x00LoopCam\x00"); err != nil {
		log.Warn().Err(err).Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(w.conn, w.window).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(w.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(w.conn, gc, xproto.Drawable(w.window), 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	w.gc = gc
	w.width, w.height = width, height

	log.Info().
		Int("width", width).
		Int("height", height).
		Uint32("window_id", uint32(w.window)).
		Msg("Preview window created")
	return nil
}

func (w *Window) destroy() {
	if w.gc != 0 {
		xproto.FreeGC(w.conn, w.gc)
		w.gc = 0
	}
	if w.window != 0 {
		xproto.DestroyWindow(w.conn, w.window)
		w.conn.Sync()
		w.window = 0
	}
}

// setProperty stores value under the named atom. An empty typ means STRING.
func (w *Window) setProperty(name, typ, value string) error {
	prop, err := w.atom(name)
	if err != nil {
		return err
	}
	var kind xproto.Atom = xproto.AtomString
	if typ != "" {
		if kind, err = w.atom(typ); err != nil {
			return err
		}
	}
	return xproto.ChangePropertyChecked(
		w.conn,
		xproto.PropModeReplace,
		w.window,
		prop,
		kind,
		8,
		uint32(len(value)),
		[]byte(value),
	).Check()
}

func (w *Window) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(w.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

// Close destroys the window and disconnects
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.destroy()
	w.conn.Close()
	return nil
}

// toZPixmap converts f to the server's BGR(x) layout with padded rows,
// reusing buf when it is large enough. It returns the buffer and row stride.
func toZPixmap(buf []byte, f *frame.Frame, pf pixmapFormat) ([]byte, int) {
	unpadded := f.Width * pf.bytesPerPixel
	pad := max(1, pf.scanlinePad)
	stride := (unpadded + pad - 1) / pad * pad

	size := stride * f.Height
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	buf = buf[:size]

	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Stride() : (y+1)*f.Stride()]
		dst := buf[y*stride : (y+1)*stride]
		for x := 0; x < f.Width; x++ {
			s := x * frame.Channels
			d := x * pf.bytesPerPixel
			dst[d], dst[d+1], dst[d+2] = src[s+2], src[s+1], src[s]
			if pf.bytesPerPixel == 4 {
				dst[d+3] = 0xff
			}
		}
	}
	return buf, stride
}
