package units

import (
	"image"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/observable"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"go.uber.org/atomic"
)

func init() {
	unit.Register("edge", func(unit.Env) (unit.Unit, error) {
		return NewEdge(), nil
	})
}

type edgeSettings struct {
	Display    bool    `mapstructure:"display"`
	KernelSize int     `mapstructure:"kernel_size"`
	ClipValue  int     `mapstructure:"clip_value"`
	Threshold  float64 `mapstructure:"threshold"`
	Binary     bool    `mapstructure:"binary"`
}

var edgeDefaults = edgeSettings{
	KernelSize: 5,
	ClipValue:  500,
	Threshold:  0.55,
	Binary:     true,
}

func (s edgeSettings) normalized() edgeSettings {
	s.KernelSize = clampInt(s.KernelSize, 1, 9) | 1
	s.ClipValue = clampInt(s.ClipValue, 1, 1000)
	if s.Threshold < 0 {
		s.Threshold = 0
	}
	if s.Threshold > 1 {
		s.Threshold = 1
	}
	return s
}

// Edge replaces the picture with its edge strength, optionally binarized
type Edge struct {
	unit.Base
	display *observable.Toggle
	options atomic.Pointer[edgeSettings]
}

// NewEdge creates an inactive filter with default options
func NewEdge() *Edge {
	u := &Edge{
		Base:    unit.NewBase("edge", "Edge Filter", GroupVideoFilters, 0),
		display: observable.NewToggle(false),
	}
	u.setOptions(edgeDefaults)
	return u
}

func (u *Edge) setOptions(s edgeSettings) {
	s = s.normalized()
	u.options.Store(&s)
}

func (u *Edge) Actions() []unit.Action {
	return []unit.Action{
		toggleAction("Activate Filter", u.display),
		{Label: "Options", Handler: func(args unit.Args) error {
			s := *u.options.Load()
			s.KernelSize = args.Int("kernel_size", s.KernelSize)
			s.ClipValue = args.Int("clip_value", s.ClipValue)
			s.Threshold = args.Float("threshold", s.Threshold)
			s.Binary = args.Bool("binary", s.Binary)
			u.setOptions(s)
			return nil
		}},
		{Label: "Reset", Handler: func(unit.Args) error {
			u.setOptions(edgeDefaults)
			return nil
		}},
	}
}

func (u *Edge) Process(f *frame.Frame) (*frame.Frame, error) {
	if !u.display.Get() {
		return f, nil
	}
	s := *u.options.Load()

	gray := effect.Grayscale(f)
	blurred := blur.Box(gray, float64(s.KernelSize/2))
	edges := effect.Sobel(blurred)

	// Clip the gradient, then stretch what is left to the full range
	clip := uint8(max(1, s.ClipValue*255/1000))
	var peak uint8
	for i := 0; i < len(edges.Pix); i += 4 {
		v := min(edges.Pix[i], clip)
		edges.Pix[i] = v
		peak = max(peak, v)
	}
	peak = max(peak, 1)
	for i := 0; i < len(edges.Pix); i += 4 {
		v := uint8(int(edges.Pix[i]) * 255 / int(peak))
		edges.Pix[i], edges.Pix[i+1], edges.Pix[i+2] = v, v, v
	}

	var out image.Image = edges
	if s.Binary {
		out = segment.Threshold(edges, uint8(s.Threshold*255))
	}
	f.CopyImage(out)
	return f, nil
}

func (u *Edge) Save() (unit.State, error) {
	s := *u.options.Load()
	s.Display = u.display.Get()
	return unit.EncodeState(s)
}

func (u *Edge) Load(state unit.State) error {
	s, err := unit.DecodeState(state, edgeDefaults)
	u.setOptions(s)
	u.display.Set(s.Display)
	return err
}
