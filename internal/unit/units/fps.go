package units

import (
	"fmt"
	"image/color"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/observable"
	"github.com/bryanchriswhite/LoopCam/internal/overlay"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"go.uber.org/atomic"
)

func init() {
	unit.Register("fps", func(unit.Env) (unit.Unit, error) {
		return NewFPS(), nil
	})
}

type fpsSettings struct {
	Display bool `mapstructure:"display"`
}

// fpsWindow is how often the displayed rate is refreshed
const fpsWindow = time.Second

// FPS measures the rate at which frames pass through the chain and can
// draw it in the top-left corner
type FPS struct {
	unit.Base
	display *observable.Toggle
	now     func() time.Time

	// touched only by Process
	counter  int
	lastTime time.Time

	rate atomic.Float64
}

// NewFPS creates a hidden counter
func NewFPS() *FPS {
	return &FPS{
		Base:    unit.NewBase("fps", "FPS", GroupMisc, 0),
		display: observable.NewToggle(false),
		now:     time.Now,
	}
}

// Rate returns the last measured frames per second
func (u *FPS) Rate() float64 {
	return u.rate.Load()
}

func (u *FPS) Actions() []unit.Action {
	return []unit.Action{toggleAction("Display FPS", u.display)}
}

func (u *FPS) Process(f *frame.Frame) (*frame.Frame, error) {
	now := u.now()
	if u.lastTime.IsZero() {
		u.lastTime = now
	}
	u.counter++
	if elapsed := now.Sub(u.lastTime); elapsed >= fpsWindow {
		u.rate.Store(float64(u.counter) / elapsed.Seconds())
		u.counter = 0
		u.lastTime = now
	}

	if u.display.Get() {
		text := "? fps"
		if r := u.rate.Load(); r > 0 {
			text = fmt.Sprintf("%.2f fps", r)
		}
		label := overlay.Label{
			Text:      text,
			TextColor: color.RGBA{R: 255, G: 255, B: 255, A: 255},
			Margin:    10,
		}
		readable(f, func(f *frame.Frame) { label.Draw(f, overlay.TopLeft) })
	}
	return f, nil
}

func (u *FPS) Save() (unit.State, error) {
	return unit.EncodeState(fpsSettings{Display: u.display.Get()})
}

func (u *FPS) Load(state unit.State) error {
	s, err := unit.DecodeState(state, fpsSettings{})
	u.display.Set(s.Display)
	return err
}
