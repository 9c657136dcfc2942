// Package unit defines the transform unit contract, the registry that
// discovers unit implementations and the ordered chain the streaming engine
// runs every frame through.
package unit

import (
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/observable"
	"github.com/spf13/cast"
)

// Unit is one transformation step of the processing chain.
//
// ID, Name, Group and Order are fixed at construction. Process runs on the
// streaming goroutine; Actions, Save and Load run on the control goroutine.
type Unit interface {
	// ID returns the stable implementation identity, used as the
	// configuration key
	ID() string

	// Name returns the display name within the group
	Name() string

	// Group returns the presentation grouping key. It never affects ordering.
	Group() string

	// Order returns the chain position key; lower runs earlier
	Order() int

	// Actions declares the controls a host may expose for this unit
	Actions() []Action

	// Process transforms one frame. The result must have the same shape as
	// the input. Returning the input unchanged is the identity.
	Process(f *frame.Frame) (*frame.Frame, error)

	// Save captures all user-customized state
	Save() (State, error)

	// Load restores state produced by Save. Missing keys keep their
	// defaults; on error the unit is left in its default state.
	Load(state State) error
}

// Closer is implemented by units that hold resources past the session
type Closer interface {
	Close() error
}

// Args carries host-provided arguments to an action handler, for example
// the text typed into a dialog
type Args map[string]interface{}

// String returns args[key] as a string, or def when missing or not convertible
func (a Args) String(key, def string) string {
	v, ok := a[key]
	if !ok {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}

// Int returns args[key] as an int, or def when missing or not convertible
func (a Args) Int(key string, def int) int {
	v, ok := a[key]
	if !ok {
		return def
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return i
}

// Float returns args[key] as a float64, or def when missing or not convertible
func (a Args) Float(key string, def float64) float64 {
	v, ok := a[key]
	if !ok {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}

// Bool returns args[key] as a bool, or def when missing or not convertible
func (a Args) Bool(key string, def bool) bool {
	v, ok := a[key]
	if !ok {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// Handler is invoked when a host triggers an action
type Handler func(args Args) error

// Action is one control declared by a unit. Toggle is set for togglable
// actions and is the canonical enabled state the host should bind to.
type Action struct {
	Label   string
	Handler Handler
	Toggle  *observable.Toggle
}

// Togglable reports whether the action is bound to a toggle
func (a Action) Togglable() bool {
	return a.Toggle != nil
}

// Base provides identity and identity-transform defaults for units
type Base struct {
	id    string
	name  string
	group string
	order int
}

// NewBase creates the identity part of a unit
func NewBase(id, name, group string, order int) Base {
	return Base{id: id, name: name, group: group, order: order}
}

// ID returns the stable implementation identity
func (b Base) ID() string { return b.id }

// Name returns the display name
func (b Base) Name() string { return b.name }

// Group returns the presentation group
func (b Base) Group() string { return b.group }

// Order returns the chain ordering key
func (b Base) Order() int { return b.order }

// Actions declares no controls
func (b Base) Actions() []Action { return nil }

// Process returns the frame unchanged
func (b Base) Process(f *frame.Frame) (*frame.Frame, error) { return f, nil }

// Save returns an empty state
func (b Base) Save() (State, error) { return State{}, nil }

// Load accepts any state
func (b Base) Load(State) error { return nil }
