package engine

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// session is the state of one Start..Stop cycle
type session struct {
	opts    Options
	format  device.Format
	capture device.Capture
	output  device.Output
	in      *frame.Frame
	started time.Time

	stop atomic.Bool
	done chan struct{}
}

func (s *session) release(log *zerolog.Logger) {
	if err := s.capture.Close(); err != nil {
		log.Warn().Err(err).Str("input", s.opts.Input).Msg("Failed to close capture device")
	}
	if err := s.output.Close(); err != nil {
		log.Warn().Err(err).Int("port", s.opts.Port).Msg("Failed to close output device")
	}
}

// run is the streaming goroutine. It owns both devices until it returns.
func (e *Engine) run(s *session) {
	defer close(s.done)
	defer s.release(e.log)

	for !s.stop.Load() {
		e.step(s)
	}
}

// step runs one iteration. Any failure drops this frame and nothing is
// published; the previous output frame is never repeated.
func (e *Engine) step(s *session) {
	began := time.Now()
	if err := guarded(func() error { return s.capture.Read(s.in) }); err != nil {
		e.stats.readFaults.Inc()
		e.fault(fmt.Errorf("read: %w", err))
		// Avoid spinning on a device that fails instantly
		if pause := s.opts.ReadTimeout/10 - time.Since(began); pause > 0 {
			time.Sleep(pause)
		}
		return
	}
	e.stats.framesRead.Inc()

	out, err := e.process(s)
	if err != nil {
		e.fault(err)
		return
	}

	if err := guarded(func() error { return s.output.WriteFrame(out) }); err != nil {
		e.stats.publishFaults.Inc()
		e.fault(fmt.Errorf("publish: %w", err))
		return
	}
	e.stats.framesPublished.Inc()
	e.stats.consecutive.Store(0)
}

// process hands the captured frame to the mapping in mirrored preview
// orientation and flips the result back before it is published
func (e *Engine) process(s *session) (out *frame.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.stats.mappingFaults.Inc()
			out, err = nil, fmt.Errorf("mapping panicked: %v", r)
		}
	}()

	s.in.FlipHorizontal()
	m := *e.mapping.Load()
	out, err = m(s.in)
	if err != nil {
		e.stats.mappingFaults.Inc()
		return nil, err
	}
	if !out.Valid() || !out.SameShape(s.in) {
		e.stats.mappingFaults.Inc()
		return nil, fmt.Errorf("mapping returned %s for a %s frame", out, s.in)
	}
	out.FlipHorizontal()
	return out, nil
}

// guarded runs a device call, turning a panic into an error so a broken
// driver or sink only drops the current frame
func guarded(call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDevicePanic, r)
		}
	}()
	return call()
}

func (e *Engine) fault(err error) {
	n := e.stats.consecutive.Inc()
	e.log.Debug().Err(err).Msg("Dropped frame")
	if n%faultWarnEvery == 0 {
		e.log.Warn().Err(err).Uint64("consecutive", n).Msg("Frames keep failing")
	}
}
