package units

import (
	"image/color"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"go.uber.org/atomic"
)

func init() {
	unit.Register("adjustments", func(unit.Env) (unit.Unit, error) {
		return NewAdjustments(), nil
	})
}

// AdjustmentLimit bounds every adjustment to [-AdjustmentLimit, AdjustmentLimit]
const AdjustmentLimit = 100

type adjustmentSettings struct {
	Brightness int `mapstructure:"brightness"`
	Contrast   int `mapstructure:"contrast"`
	Saturation int `mapstructure:"saturation"`
}

// Adjustments tunes brightness, contrast and saturation. Brightness is an
// offset in 8-bit levels, contrast scales by (100+c)/100 and saturation
// scales HSL saturation by (100+s)/100.
type Adjustments struct {
	unit.Base
	brightness atomic.Int32
	contrast   atomic.Int32
	saturation atomic.Int32
}

// NewAdjustments creates neutral adjustments
func NewAdjustments() *Adjustments {
	return &Adjustments{
		Base: unit.NewBase("adjustments", "Adjustments", GroupMisc, 0),
	}
}

func (u *Adjustments) settings() adjustmentSettings {
	return adjustmentSettings{
		Brightness: int(u.brightness.Load()),
		Contrast:   int(u.contrast.Load()),
		Saturation: int(u.saturation.Load()),
	}
}

func (u *Adjustments) apply(s adjustmentSettings) {
	u.brightness.Store(int32(clampInt(s.Brightness, -AdjustmentLimit, AdjustmentLimit)))
	u.contrast.Store(int32(clampInt(s.Contrast, -AdjustmentLimit, AdjustmentLimit)))
	u.saturation.Store(int32(clampInt(s.Saturation, -AdjustmentLimit, AdjustmentLimit)))
}

func (u *Adjustments) setter(knob *atomic.Int32) unit.Handler {
	return func(args unit.Args) error {
		v := args.Int("value", int(knob.Load()))
		knob.Store(int32(clampInt(v, -AdjustmentLimit, AdjustmentLimit)))
		return nil
	}
}

func (u *Adjustments) Actions() []unit.Action {
	return []unit.Action{
		{Label: "Brightness", Handler: u.setter(&u.brightness)},
		{Label: "Contrast", Handler: u.setter(&u.contrast)},
		{Label: "Saturation", Handler: u.setter(&u.saturation)},
		{Label: "Reset", Handler: func(unit.Args) error {
			u.apply(adjustmentSettings{})
			return nil
		}},
	}
}

func (u *Adjustments) Process(f *frame.Frame) (*frame.Frame, error) {
	s := u.settings()
	if s == (adjustmentSettings{}) {
		return f, nil
	}

	if s.Brightness != 0 || s.Contrast != 0 {
		gain := float64(s.Contrast+AdjustmentLimit) / AdjustmentLimit
		var lookup [256]uint8
		for i := range lookup {
			lookup[i] = uint8(clampInt(int(gain*float64(i)+float64(s.Brightness)+0.5), 0, 255))
		}
		f.CopyImage(adjust.Apply(f, func(c color.RGBA) color.RGBA {
			return color.RGBA{R: lookup[c.R], G: lookup[c.G], B: lookup[c.B], A: c.A}
		}))
	}
	if s.Saturation != 0 {
		f.CopyImage(adjust.Saturation(f, float64(s.Saturation)/AdjustmentLimit))
	}
	return f, nil
}

func (u *Adjustments) Save() (unit.State, error) {
	return unit.EncodeState(u.settings())
}

func (u *Adjustments) Load(state unit.State) error {
	s, err := unit.DecodeState(state, adjustmentSettings{})
	u.apply(s)
	return err
}
