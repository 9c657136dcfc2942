// Package units holds the transform units shipped with LoopCam. Each file
// registers its unit with the default registry from init, so importing the
// package for side effects makes them discoverable.
//
// Frames reach units in mirrored preview orientation and the engine flips
// the chain's output back before publishing. Units that draw something
// meant to be read use readable so it comes out the right way round.
package units

import (
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/bryanchriswhite/LoopCam/internal/observable"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"github.com/rs/zerolog"
)

// Group names
const (
	GroupHighLevel    = "High Level"
	GroupMisc         = "Misc"
	GroupVideoFilters = "Video Filters"
)

// readable runs draw on f in published orientation
func readable(f *frame.Frame, draw func(*frame.Frame)) {
	f.FlipHorizontal()
	draw(f)
	f.FlipHorizontal()
}

// toggleAction binds label to t; invoking it flips t
func toggleAction(label string, t *observable.Toggle) unit.Action {
	return unit.Action{
		Label: label,
		Handler: func(unit.Args) error {
			t.Flip()
			return nil
		},
		Toggle: t,
	}
}

func unitLogger(id string) *zerolog.Logger {
	return logger.WithComponent("unit/" + id)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
