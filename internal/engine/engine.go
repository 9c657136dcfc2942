// Package engine owns the capture device, the loopback output and the
// goroutine that moves frames between them.
//
// One Engine serves one input device to one output port at a time. The
// control goroutine calls Start, Stop and SetMapping; everything that
// touches the devices after Start returns runs on the streaming goroutine.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/bryanchriswhite/LoopCam/internal/output"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// ErrDeviceUnavailable is returned by Start when either device cannot be
// opened or the loopback node is missing
var ErrDeviceUnavailable = device.ErrDeviceUnavailable

// ErrDevicePanic wraps a panic recovered from a device read or a publish
var ErrDevicePanic = errors.New("device call panicked")

// Mapping transforms one frame. It may modify its input in place and may
// return it. The engine owns the returned frame until the next iteration.
type Mapping func(*frame.Frame) (*frame.Frame, error)

// Identity is the mapping installed until SetMapping is called
func Identity(f *frame.Frame) (*frame.Frame, error) { return f, nil }

// State is the engine lifecycle state
type State int32

const (
	Idle State = iota
	Starting
	Streaming
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Options selects the devices and formats of one session
type Options struct {
	// Input is the capture device path
	Input string

	// Port is the loopback node number, /dev/video<Port>
	Port int

	// Preferred is the requested capture size; the device may grant another
	Preferred device.Resolution

	// PixelFormat is the requested capture format
	PixelFormat device.PixelFormat

	// OutputFormat is the format written to the loopback node
	OutputFormat device.PixelFormat

	// ReadTimeout bounds one frame read and therefore Stop
	ReadTimeout time.Duration
}

// DefaultOptions returns the options used for fields left zero
func DefaultOptions() Options {
	return Options{
		Input:        "/dev/video0",
		Port:         20,
		Preferred:    device.Resolution{Width: 1920, Height: 1080},
		PixelFormat:  device.YUYV,
		OutputFormat: device.YUYV,
		ReadTimeout:  time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Input == "" {
		o.Input = d.Input
	}
	if !o.Preferred.Valid() {
		o.Preferred = d.Preferred
	}
	if o.PixelFormat == 0 {
		o.PixelFormat = d.PixelFormat
	}
	if o.OutputFormat == 0 {
		o.OutputFormat = d.OutputFormat
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	return o
}

// faultWarnEvery is the number of consecutive faults between warnings
const faultWarnEvery = 100

// Engine runs the capture, transform and publish loop
type Engine struct {
	provider device.Provider
	sinks    []output.Sink
	log      *zerolog.Logger

	mapping atomic.Pointer[Mapping]
	state   atomic.Int32

	// mu serializes Start and Stop; session is published for snapshots
	mu      sync.Mutex
	session atomic.Pointer[session]

	stats counters
}

// New creates an idle engine that opens devices through provider. Every
// published frame is also written to sinks.
func New(provider device.Provider, sinks ...output.Sink) *Engine {
	e := &Engine{
		provider: provider,
		sinks:    sinks,
		log:      logger.WithComponent("engine"),
	}
	identity := Mapping(Identity)
	e.mapping.Store(&identity)
	return e
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// SetMapping atomically replaces the mapping used from the next iteration
// on. A nil mapping installs the identity.
func (e *Engine) SetMapping(m Mapping) {
	if m == nil {
		m = Identity
	}
	e.mapping.Store(&m)
	e.log.Debug().Msg("Mapping replaced")
}

// Start stops any running session, opens the devices and starts streaming.
//
// The capture size the device grants, not opts.Preferred, becomes the size
// of the output and of every frame handed to the mapping. One iteration is
// run before Start returns so broken devices are reported to the caller.
// On error the engine is left Idle with no handles open.
func (e *Engine) Start(opts Options) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	opts = opts.withDefaults()
	e.setState(Starting)
	defer func() {
		if err != nil {
			e.setState(Idle)
		}
	}()

	e.log.Info().
		Str("input", opts.Input).
		Int("port", opts.Port).
		Stringer("preferred", opts.Preferred).
		Stringer("pixel_format", opts.PixelFormat).
		Msg("Starting stream")

	if err := e.provider.EnsureOutput(opts.Port); err != nil {
		return wrapUnavailable(err)
	}

	capture, err := e.provider.OpenCapture(opts.Input, opts.ReadTimeout)
	if err != nil {
		return wrapUnavailable(err)
	}

	granted, err := capture.Negotiate(device.Format{PixelFormat: opts.PixelFormat, Resolution: opts.Preferred})
	if err == nil && !granted.Resolution.Valid() {
		err = fmt.Errorf("device granted invalid size %s", granted.Resolution)
	}
	if err != nil {
		e.closeQuietly("capture", capture)
		return fmt.Errorf("%w: failed to negotiate format on %s: %w", ErrDeviceUnavailable, opts.Input, err)
	}

	out, err := e.provider.OpenOutput(opts.Port, device.Format{PixelFormat: opts.OutputFormat, Resolution: granted.Resolution})
	if err != nil {
		e.closeQuietly("capture", capture)
		return wrapUnavailable(err)
	}

	s := &session{
		opts:    opts,
		format:  granted,
		capture: capture,
		output:  output.NewTee(out, e.sinks...),
		in:      frame.New(granted.Width, granted.Height),
		done:    make(chan struct{}),
		started: time.Now(),
	}

	// Warm-up: a read or publish failure here means the session is unusable
	if err := e.warmUp(s); err != nil {
		s.release(e.log)
		return err
	}

	e.session.Store(s)
	e.setState(Streaming)
	go e.run(s)

	e.log.Info().
		Str("input", opts.Input).
		Str("output", device.OutputPath(opts.Port)).
		Stringer("granted", granted).
		Stringer("output_format", opts.OutputFormat).
		Msg("Streaming")
	return nil
}

func (e *Engine) warmUp(s *session) error {
	if err := guarded(func() error { return s.capture.Read(s.in) }); err != nil {
		e.stats.readFaults.Inc()
		return fmt.Errorf("%w: %s produced no frame: %w", ErrDeviceUnavailable, s.opts.Input, err)
	}
	e.stats.framesRead.Inc()

	out, err := e.process(s)
	if err != nil {
		// A failing unit does not make the devices unusable
		e.fault(err)
		return nil
	}
	if err := guarded(func() error { return s.output.WriteFrame(out) }); err != nil {
		e.stats.publishFaults.Inc()
		return fmt.Errorf("%w: failed to publish to %s: %w", ErrDeviceUnavailable, device.OutputPath(s.opts.Port), err)
	}
	e.stats.framesPublished.Inc()
	return nil
}

// Stop ends the running session and releases both devices. It blocks until
// the streaming goroutine has exited and is a no-op when idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) stopLocked() {
	s := e.session.Load()
	if s == nil {
		return
	}
	e.setState(Stopping)
	s.stop.Store(true)

	// One read timeout plus one iteration of work
	bound := 2*s.opts.ReadTimeout + time.Second
	select {
	case <-s.done:
	case <-time.After(bound):
		e.log.Warn().Dur("waited", bound).Msg("Streaming loop is slow to stop, waiting for current iteration")
		<-s.done
	}

	e.session.Store(nil)
	e.setState(Idle)
	e.log.Info().
		Str("input", s.opts.Input).
		Dur("uptime", time.Since(s.started)).
		Msg("Stream stopped")
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

func (e *Engine) closeQuietly(name string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		e.log.Warn().Err(err).Str("device", name).Msg("Failed to close device")
	}
}

func wrapUnavailable(err error) error {
	if errors.Is(err, ErrDeviceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}
