// Package output fans published frames out to the loopback device and to
// preview sinks.
package output

import (
	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
)

// Sink receives a copy of every published frame.
// WriteFrame runs on the streaming goroutine and must not block for long.
type Sink interface {
	WriteFrame(f *frame.Frame) error

	// Name returns a human-readable name for this sink
	Name() string
}

// Tee writes every frame to a primary output and then to each sink. Only
// primary errors are returned; sink errors are logged. Close only closes
// the primary, sinks outlive sessions.
type Tee struct {
	primary device.Output
	sinks   []Sink
}

var _ device.Output = (*Tee)(nil)

// NewTee wraps primary. With no sinks it returns primary unchanged.
func NewTee(primary device.Output, sinks ...Sink) device.Output {
	if len(sinks) == 0 {
		return primary
	}
	return &Tee{primary: primary, sinks: sinks}
}

// WriteFrame implements device.Output
func (t *Tee) WriteFrame(f *frame.Frame) error {
	if err := t.primary.WriteFrame(f); err != nil {
		return err
	}
	for _, s := range t.sinks {
		if err := s.WriteFrame(f); err != nil {
			logger.WithComponent("output").Debug().Err(err).Str("sink", s.Name()).Msg("Sink dropped frame")
		}
	}
	return nil
}

// Close implements device.Output
func (t *Tee) Close() error {
	return t.primary.Close()
}
