// Package devicetest provides in-memory capture and output devices that
// count their open handles.
package devicetest

import (
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"go.uber.org/atomic"
)

// SourceFunc fills dst with frame number n. Returning an error makes that
// read fail.
type SourceFunc func(n int, dst *frame.Frame) error

// Provider hands out fake devices and tracks every handle it opened
type Provider struct {
	// Grant overrides the resolution every capture grants when set
	Grant *device.Resolution

	// GrantFormat overrides the pixel format every capture grants when set
	GrantFormat device.PixelFormat

	// MissingOutput makes EnsureOutput fail
	MissingOutput bool

	// CaptureErr makes OpenCapture fail
	CaptureErr error

	// OutputErr makes OpenOutput fail
	OutputErr error

	// Source produces captured frames, a gradient by default
	Source SourceFunc

	// ReadDelay is slept before every read
	ReadDelay time.Duration

	openCaptures atomic.Int64
	openOutputs  atomic.Int64

	mu       sync.Mutex
	captures []*Capture
	outputs  []*Output
}

var _ device.Provider = (*Provider)(nil)

// EnsureOutput implements device.Provider
func (p *Provider) EnsureOutput(port int) error {
	if p.MissingOutput {
		return fmt.Errorf("%w: %s does not exist", device.ErrDeviceUnavailable, device.OutputPath(port))
	}
	return nil
}

// OpenCapture implements device.Provider
func (p *Provider) OpenCapture(path string, readTimeout time.Duration) (device.Capture, error) {
	if p.CaptureErr != nil {
		return nil, p.CaptureErr
	}
	c := &Capture{Path: path, provider: p}
	p.openCaptures.Inc()

	p.mu.Lock()
	p.captures = append(p.captures, c)
	p.mu.Unlock()
	return c, nil
}

// OpenOutput implements device.Provider
func (p *Provider) OpenOutput(port int, format device.Format) (device.Output, error) {
	if p.OutputErr != nil {
		return nil, p.OutputErr
	}
	o := &Output{Port: port, Format: format, provider: p}
	p.openOutputs.Inc()

	p.mu.Lock()
	p.outputs = append(p.outputs, o)
	p.mu.Unlock()
	return o, nil
}

// OpenCaptures returns the number of capture handles not yet closed
func (p *Provider) OpenCaptures() int {
	return int(p.openCaptures.Load())
}

// OpenOutputs returns the number of output handles not yet closed
func (p *Provider) OpenOutputs() int {
	return int(p.openOutputs.Load())
}

// Captures returns every capture handle opened so far
func (p *Provider) Captures() []*Capture {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Capture(nil), p.captures...)
}

// Outputs returns every output handle opened so far
func (p *Provider) Outputs() []*Output {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Output(nil), p.outputs...)
}

// LastOutput returns the most recently opened output, or nil
func (p *Provider) LastOutput() *Output {
	outs := p.Outputs()
	if len(outs) == 0 {
		return nil
	}
	return outs[len(outs)-1]
}

// Capture is a fake capture handle
type Capture struct {
	Path string

	provider *Provider
	granted  device.Format
	reads    atomic.Int64
	closed   atomic.Bool
}

// Negotiate grants the requested format unless the provider overrides it
func (c *Capture) Negotiate(want device.Format) (device.Format, error) {
	if c.closed.Load() {
		return device.Format{}, fmt.Errorf("capture %s is closed", c.Path)
	}
	granted := want
	if c.provider.Grant != nil {
		granted.Resolution = *c.provider.Grant
	}
	if c.provider.GrantFormat != 0 {
		granted.PixelFormat = c.provider.GrantFormat
	}
	c.granted = granted
	return granted, nil
}

// Read produces the next frame from the provider's source
func (c *Capture) Read(dst *frame.Frame) error {
	if c.closed.Load() {
		return fmt.Errorf("capture %s is closed", c.Path)
	}
	if dst.Width != c.granted.Width || dst.Height != c.granted.Height {
		return fmt.Errorf("read into %s, granted %s", dst, c.granted.Resolution)
	}
	if d := c.provider.ReadDelay; d > 0 {
		time.Sleep(d)
	}

	n := int(c.reads.Inc()) - 1
	if src := c.provider.Source; src != nil {
		return src(n, dst)
	}
	Gradient(n, dst)
	return nil
}

// Reads returns the number of Read calls so far
func (c *Capture) Reads() int {
	return int(c.reads.Load())
}

// Closed reports whether Close was called
func (c *Capture) Closed() bool {
	return c.closed.Load()
}

// Close releases the handle. Closing twice is an error.
func (c *Capture) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("capture %s closed twice", c.Path)
	}
	c.provider.openCaptures.Dec()
	return nil
}

// Output is a fake output handle that keeps what was published
type Output struct {
	Port   int
	Format device.Format

	provider *Provider
	closed   atomic.Bool

	mu      sync.Mutex
	written int
	last    *frame.Frame
}

// WriteFrame records f, rejecting frames of the wrong size
func (o *Output) WriteFrame(f *frame.Frame) error {
	if o.closed.Load() {
		return fmt.Errorf("output %d is closed", o.Port)
	}
	if f.Width != o.Format.Width || f.Height != o.Format.Height {
		return fmt.Errorf("wrote %s to output opened at %s", f, o.Format.Resolution)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.written++
	o.last = f.Clone()
	return nil
}

// Written returns the number of published frames
func (o *Output) Written() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written
}

// Last returns a copy of the most recently published frame
func (o *Output) Last() *frame.Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last.Clone()
}

// Closed reports whether Close was called
func (o *Output) Closed() bool {
	return o.closed.Load()
}

// Close releases the handle. Closing twice is an error.
func (o *Output) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("output %d closed twice", o.Port)
	}
	o.provider.openOutputs.Dec()
	return nil
}

// Gradient fills dst with a horizontal red ramp whose green channel carries
// the frame number
func Gradient(n int, dst *frame.Frame) {
	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			dst.SetRGB(x, y, uint8(x*255/max(dst.Width-1, 1)), uint8(n), uint8(y))
		}
	}
}
