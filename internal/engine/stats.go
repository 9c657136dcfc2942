package engine

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"
)

type counters struct {
	framesRead      atomic.Uint64
	framesPublished atomic.Uint64
	readFaults      atomic.Uint64
	mappingFaults   atomic.Uint64
	publishFaults   atomic.Uint64
	consecutive     atomic.Uint64
}

// Stats is a snapshot of the engine. Counters accumulate across sessions.
type Stats struct {
	State           string            `json:"state"`
	Input           string            `json:"input,omitempty"`
	Output          string            `json:"output,omitempty"`
	Resolution      device.Resolution `json:"resolution"`
	PixelFormat     string            `json:"pixel_format,omitempty"`
	OutputFormat    string            `json:"output_format,omitempty"`
	Uptime          time.Duration     `json:"uptime"`
	FramesRead      uint64            `json:"frames_read"`
	FramesPublished uint64            `json:"frames_published"`
	ReadFaults      uint64            `json:"read_faults"`
	MappingFaults   uint64            `json:"mapping_faults"`
	PublishFaults   uint64            `json:"publish_faults"`
}

// Faults returns the total number of dropped frames
func (s Stats) Faults() uint64 {
	return s.ReadFaults + s.MappingFaults + s.PublishFaults
}

func (s Stats) String() string {
	if s.State != Streaming.String() {
		return fmt.Sprintf("%s, %s frames published", s.State, humanize.Comma(int64(s.FramesPublished)))
	}
	return fmt.Sprintf("%s %s -> %s at %s %s, %s frames published, %s dropped, up %s",
		s.State, s.Input, s.Output, s.PixelFormat, s.Resolution,
		humanize.Comma(int64(s.FramesPublished)),
		humanize.Comma(int64(s.Faults())),
		s.Uptime.Round(time.Second))
}

// Stats returns a snapshot that is safe to take from any goroutine. It does
// not wait for a Start or Stop in progress.
func (e *Engine) Stats() Stats {
	st := Stats{
		State:           e.State().String(),
		FramesRead:      e.stats.framesRead.Load(),
		FramesPublished: e.stats.framesPublished.Load(),
		ReadFaults:      e.stats.readFaults.Load(),
		MappingFaults:   e.stats.mappingFaults.Load(),
		PublishFaults:   e.stats.publishFaults.Load(),
	}

	if s := e.session.Load(); s != nil {
		st.Input = s.opts.Input
		st.Output = device.OutputPath(s.opts.Port)
		st.Resolution = s.format.Resolution
		st.PixelFormat = s.format.PixelFormat.String()
		st.OutputFormat = s.opts.OutputFormat.String()
		st.Uptime = time.Since(s.started)
	}
	return st
}

// CurrentResolution returns the granted size of the running session, or the
// zero resolution when idle
func (e *Engine) CurrentResolution() device.Resolution {
	s := e.session.Load()
	if s == nil {
		return device.Resolution{}
	}
	return s.format.Resolution
}
