package units

import (
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/observable"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
)

func init() {
	unit.Register("mirror", func(unit.Env) (unit.Unit, error) {
		return NewMirror(), nil
	})
}

type mirrorSettings struct {
	Display bool `mapstructure:"display"`
}

// Mirror flips the published picture. It runs last so every other unit,
// recording included, works on the unmirrored picture.
type Mirror struct {
	unit.Base
	display *observable.Toggle
}

// NewMirror creates a disabled mirror
func NewMirror() *Mirror {
	return &Mirror{
		Base:    unit.NewBase("mirror", "Mirror", GroupHighLevel, 10000),
		display: observable.NewToggle(false),
	}
}

// Display is the enabled state
func (m *Mirror) Display() *observable.Toggle {
	return m.display
}

func (m *Mirror) Actions() []unit.Action {
	return []unit.Action{toggleAction("Mirror display", m.display)}
}

func (m *Mirror) Process(f *frame.Frame) (*frame.Frame, error) {
	if m.display.Get() {
		f.FlipHorizontal()
	}
	return f, nil
}

func (m *Mirror) Save() (unit.State, error) {
	return unit.EncodeState(mirrorSettings{Display: m.display.Get()})
}

func (m *Mirror) Load(state unit.State) error {
	s, err := unit.DecodeState(state, mirrorSettings{})
	m.display.Set(s.Display)
	return err
}
