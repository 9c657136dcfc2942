package output

import (
	"bufio"
	"errors"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/device/devicetest"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	frames int
	err    error
}

func (s *recordingSink) WriteFrame(*frame.Frame) error {
	s.frames++
	return s.err
}

func (s *recordingSink) Name() string { return "recording" }

type failingOutput struct{ closed bool }

func (o *failingOutput) WriteFrame(*frame.Frame) error { return errors.New("device gone") }
func (o *failingOutput) Close() error                  { o.closed = true; return nil }

func openFake(t *testing.T) (*devicetest.Provider, device.Output) {
	p := &devicetest.Provider{}
	out, err := p.OpenOutput(20, device.Format{PixelFormat: device.YUYV, Resolution: device.Resolution{Width: 8, Height: 4}})
	require.NoError(t, err)
	return p, out
}

func TestTeeWithoutSinksIsPrimary(t *testing.T) {
	_, out := openFake(t)
	require.Same(t, out, NewTee(out))
}

func TestTeeFansOut(t *testing.T) {
	p, out := openFake(t)
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("slow viewer")}
	tee := NewTee(out, bad, good)

	require.NoError(t, tee.WriteFrame(frame.New(8, 4)))
	require.NoError(t, tee.WriteFrame(frame.New(8, 4)))

	require.Equal(t, 2, p.LastOutput().Written())
	require.Equal(t, 2, bad.frames)
	require.Equal(t, 2, good.frames)

	require.NoError(t, tee.Close())
	require.Equal(t, 0, p.OpenOutputs())
}

func TestTeePrimaryFailureSkipsSinks(t *testing.T) {
	primary := &failingOutput{}
	sink := &recordingSink{}
	tee := NewTee(primary, sink)

	require.Error(t, tee.WriteFrame(frame.New(2, 2)))
	require.Zero(t, sink.frames)

	require.NoError(t, tee.Close())
	require.True(t, primary.closed)
}

func TestPreviewRequiresStart(t *testing.T) {
	m := NewMJPEGPreview(0)
	require.Error(t, m.WriteFrame(frame.New(4, 4)))

	require.NoError(t, m.Start())
	require.Error(t, m.Start())
	require.NoError(t, m.WriteFrame(frame.New(4, 4)), "no clients is not an error")
	require.Zero(t, m.Stats().Frames)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}

func TestPreviewStreamsJPEG(t *testing.T) {
	m := NewMJPEGPreview(90)
	require.NoError(t, m.Start())
	defer m.Stop()

	srv := httptest.NewServer(m.StreamHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "multipart/x-mixed-replace"))

	require.Eventually(t, func() bool { return m.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	src := frame.New(16, 8)
	src.Fill(200, 10, 10)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				m.WriteFrame(src)
			}
		}
	}()

	r := bufio.NewReader(resp.Body)
	boundary, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "--frame\r\n", boundary)

	header, err := textproto.NewReader(r).ReadMIMEHeader()
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", header.Get("Content-Type"))
	size, err := strconv.Atoi(header.Get("Content-Length"))
	require.NoError(t, err)

	img, err := jpeg.Decode(io.LimitReader(r, int64(size)))
	require.NoError(t, err)
	require.Equal(t, 16, img.Bounds().Dx())
	require.Equal(t, 8, img.Bounds().Dy())
	require.Positive(t, m.Stats().Frames)
}

func TestPreviewStreamDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMJPEGPreview(80).StreamHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestZPixmapLayout(t *testing.T) {
	f := frame.New(3, 2)
	f.SetRGB(0, 0, 1, 2, 3)
	f.SetRGB(2, 1, 7, 8, 9)

	buf, stride := toZPixmap(nil, f, pixmapFormat{depth: 24, bytesPerPixel: 4, scanlinePad: 4})
	require.Equal(t, 12, stride)
	require.Len(t, buf, 24)
	require.Equal(t, []byte{3, 2, 1, 0xff}, buf[0:4])
	require.Equal(t, []byte{9, 8, 7, 0xff}, buf[12+8:12+12])

	// Three byte pixels pad each row to a multiple of four
	buf, stride = toZPixmap(buf, f, pixmapFormat{depth: 24, bytesPerPixel: 3, scanlinePad: 4})
	require.Equal(t, 12, stride)
	require.Equal(t, []byte{3, 2, 1}, buf[0:3])
	require.Equal(t, []byte{9, 8, 7}, buf[12+6:12+9])
}
