package units

import (
	"fmt"
	"sync"

	"github.com/anthonynsimon/bild/transform"
	"github.com/bryanchriswhite/LoopCam/internal/capture"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/observable"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
)

func init() {
	unit.Register("screen", func(unit.Env) (unit.Unit, error) {
		return NewScreen(func() (capture.Grabber, error) {
			g, err := capture.NewX11Grabber()
			if err != nil {
				return nil, err
			}
			return g, nil
		}), nil
	})
}

type screenSettings struct {
	ShareScreen bool `mapstructure:"share_screen"`
}

// Screen replaces the camera picture with the desktop. It runs first so
// overlays are drawn on top of the shared screen.
type Screen struct {
	unit.Base
	share *observable.Toggle
	open  func() (capture.Grabber, error)

	mu      sync.Mutex
	grabber capture.Grabber
}

// NewScreen creates a unit that connects with open when sharing starts
func NewScreen(open func() (capture.Grabber, error)) *Screen {
	return &Screen{
		Base:  unit.NewBase("screen", "Screen", GroupHighLevel, -100),
		share: observable.NewToggle(false),
		open:  open,
	}
}

// Sharing is the screen sharing state
func (u *Screen) Sharing() *observable.Toggle {
	return u.share
}

func (u *Screen) Actions() []unit.Action {
	return []unit.Action{
		{Label: "Share Screen", Handler: func(unit.Args) error {
			return u.setSharing(!u.share.Get())
		}, Toggle: u.share},
	}
}

func (u *Screen) setSharing(on bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if on && u.grabber == nil {
		g, err := u.open()
		if err != nil {
			u.share.Set(false)
			return fmt.Errorf("failed to start screen sharing: %w", err)
		}
		u.grabber = g
		unitLogger(u.ID()).Info().Str("grabber", g.Name()).Msg("Screen sharing started")
	}
	if !on && u.grabber != nil {
		if err := u.grabber.Close(); err != nil {
			unitLogger(u.ID()).Warn().Err(err).Msg("Failed to close screen grabber")
		}
		u.grabber = nil
		unitLogger(u.ID()).Info().Msg("Screen sharing stopped")
	}
	u.share.Set(on)
	return nil
}

func (u *Screen) Process(f *frame.Frame) (*frame.Frame, error) {
	if !u.share.Get() {
		return f, nil
	}

	u.mu.Lock()
	g := u.grabber
	u.mu.Unlock()
	if g == nil {
		return f, nil
	}

	img, err := g.Grab()
	if err != nil {
		return nil, fmt.Errorf("failed to grab screen: %w", err)
	}
	scaled := transform.Resize(img, f.Width, f.Height, transform.Linear)
	readable(f, func(f *frame.Frame) { f.CopyImage(scaled) })
	return f, nil
}

func (u *Screen) Save() (unit.State, error) {
	return unit.EncodeState(screenSettings{ShareScreen: u.share.Get()})
}

func (u *Screen) Load(state unit.State) error {
	s, err := unit.DecodeState(state, screenSettings{})
	if serr := u.setSharing(s.ShareScreen); err == nil {
		err = serr
	}
	return err
}

// Close stops sharing
func (u *Screen) Close() error {
	return u.setSharing(false)
}
