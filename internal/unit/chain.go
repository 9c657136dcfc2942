package unit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bryanchriswhite/LoopCam/internal/frame"
)

// Chain is a sequence of units sorted ascending by Order. Units sharing an
// order key keep their discovery order.
type Chain []Unit

// NewChain returns a stably sorted copy of units
func NewChain(units []Unit) Chain {
	c := make(Chain, len(units))
	copy(c, units)
	sort.SliceStable(c, func(i, j int) bool {
		return c[i].Order() < c[j].Order()
	})
	return c
}

// Sorted reports whether the chain is in ascending order
func (c Chain) Sorted() bool {
	return sort.SliceIsSorted(c, func(i, j int) bool {
		return c[i].Order() < c[j].Order()
	})
}

// IDs returns the unit identities in chain order
func (c Chain) IDs() []string {
	ids := make([]string, len(c))
	for i, u := range c {
		ids[i] = u.ID()
	}
	return ids
}

// String renders the chain as id(order) pairs
func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, u := range c {
		parts[i] = fmt.Sprintf("%s(%d)", u.ID(), u.Order())
	}
	return strings.Join(parts, " -> ")
}

// Mapping returns a function that runs a frame through every unit in chain
// order. The chain is captured by value, later changes to c are not seen.
//
// The first unit that fails, panics or returns a frame of another shape
// stops the run and the error is returned as a *ProcessError; the caller is
// expected to drop the frame.
func (c Chain) Mapping() func(*frame.Frame) (*frame.Frame, error) {
	units := make(Chain, len(c))
	copy(units, c)

	return func(in *frame.Frame) (*frame.Frame, error) {
		out := in
		for _, u := range units {
			next, err := runUnit(u, out)
			if err != nil {
				return nil, &ProcessError{UnitID: u.ID(), Err: err}
			}
			out = next
		}
		return out, nil
	}
}

func runUnit(u Unit, in *frame.Frame) (out *frame.Frame, err error) {
	width, height := in.Width, in.Height
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrUnitPanic, r)
		}
	}()

	out, err = u.Process(in)
	if err != nil {
		return nil, err
	}
	if out == nil || out.Width != width || out.Height != height || !out.Valid() {
		return nil, fmt.Errorf("%w: got %s, want %dx%dx%d", ErrFrameShape, out, width, height, frame.Channels)
	}
	return out, nil
}
