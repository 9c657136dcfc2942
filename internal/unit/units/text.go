package units

import (
	"image/color"
	"strings"

	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/overlay"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"go.uber.org/atomic"
)

func init() {
	unit.Register("text", func(unit.Env) (unit.Unit, error) {
		return NewText(), nil
	})
}

type textSettings struct {
	Text string `mapstructure:"text"`
}

var textPlate = color.RGBA{R: 127, G: 127, B: 127, A: 255}

// Text writes a caption centred at the bottom of the picture on a gray plate
type Text struct {
	unit.Base
	text atomic.String
}

// NewText creates a unit with no caption
func NewText() *Text {
	return &Text{
		Base: unit.NewBase("text", "Add Text", GroupHighLevel, 110),
	}
}

// SetText replaces the caption; blank text removes it
func (u *Text) SetText(s string) {
	u.text.Store(strings.TrimSpace(s))
}

func (u *Text) Actions() []unit.Action {
	return []unit.Action{
		{Label: "Write Text", Handler: func(args unit.Args) error {
			u.SetText(args.String("text", ""))
			return nil
		}},
	}
}

func (u *Text) Process(f *frame.Frame) (*frame.Frame, error) {
	text := u.text.Load()
	if text == "" {
		return f, nil
	}
	label := overlay.Label{
		Text:       text,
		TextColor:  color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Background: &textPlate,
		Padding:    4,
		Margin:     20,
	}
	readable(f, func(f *frame.Frame) { label.Draw(f, overlay.BottomCenter) })
	return f, nil
}

func (u *Text) Save() (unit.State, error) {
	return unit.EncodeState(textSettings{Text: u.text.Load()})
}

func (u *Text) Load(state unit.State) error {
	s, err := unit.DecodeState(state, textSettings{})
	u.SetText(s.Text)
	return err
}
