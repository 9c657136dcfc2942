package units

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/overlay"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"go.uber.org/atomic"
	xdraw "golang.org/x/image/draw"
)

func init() {
	unit.Register("reactions", func(env unit.Env) (unit.Unit, error) {
		return NewReactions(filepath.Join(env.DataDir, "reactions"))
	})
}

const (
	reactionIconSize = 72
	reactionPadding  = 25
)

type reactionSettings struct {
	SelectedReaction int `mapstructure:"selected_reaction"`
}

// Reaction is one selectable icon. Index 0 is always the empty reaction.
type Reaction struct {
	Name string
	Icon *image.RGBA
}

// Reactions shows the selected icon in the top-right corner
type Reactions struct {
	unit.Base
	reactions []Reaction
	selected  atomic.Int64
}

// NewReactions loads every PNG in dir, sorted by file name. A missing
// directory leaves only the empty reaction.
func NewReactions(dir string) (*Reactions, error) {
	log := unitLogger("reactions")
	reactions := []Reaction{{Name: "none"}}

	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read reactions directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		img, err := imgio.Open(filepath.Join(dir, name))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("Skipping unreadable reaction icon")
			continue
		}
		icon := image.NewRGBA(image.Rect(0, 0, reactionIconSize, reactionIconSize))
		xdraw.CatmullRom.Scale(icon, icon.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		reactions = append(reactions, Reaction{
			Name: strings.TrimSuffix(name, filepath.Ext(name)),
			Icon: icon,
		})
	}

	log.Debug().Str("dir", dir).Int("icons", len(reactions)-1).Msg("Loaded reactions")
	return &Reactions{
		Base:      unit.NewBase("reactions", "Reactions", GroupHighLevel, 100),
		reactions: reactions,
	}, nil
}

// Reactions lists the selectable reactions
func (u *Reactions) Reactions() []Reaction {
	return u.reactions
}

// Selected returns the index of the shown reaction
func (u *Reactions) Selected() int {
	return int(u.selected.Load())
}

// Select shows reaction i
func (u *Reactions) Select(i int) error {
	if i < 0 || i >= len(u.reactions) {
		return fmt.Errorf("reaction %d out of range [0, %d)", i, len(u.reactions))
	}
	u.selected.Store(int64(i))
	return nil
}

func (u *Reactions) lookup(name string) (int, bool) {
	for i, r := range u.reactions {
		if strings.EqualFold(r.Name, name) {
			return i, true
		}
	}
	return 0, false
}

func (u *Reactions) Actions() []unit.Action {
	return []unit.Action{
		{Label: "Choose Reaction", Handler: func(args unit.Args) error {
			if name := args.String("name", ""); name != "" {
				i, ok := u.lookup(name)
				if !ok {
					return fmt.Errorf("unknown reaction %q", name)
				}
				return u.Select(i)
			}
			return u.Select(args.Int("index", 0))
		}},
		{Label: "Next Reaction", Handler: func(unit.Args) error {
			return u.Select((u.Selected() + 1) % len(u.reactions))
		}},
	}
}

func (u *Reactions) Process(f *frame.Frame) (*frame.Frame, error) {
	icon := u.reactions[u.Selected()].Icon
	if icon == nil {
		return f, nil
	}
	readable(f, func(f *frame.Frame) {
		x := f.Width - reactionIconSize - reactionPadding
		overlay.BlendImage(f, icon, x, reactionPadding, 1)
	})
	return f, nil
}

func (u *Reactions) Save() (unit.State, error) {
	return unit.EncodeState(reactionSettings{SelectedReaction: u.Selected()})
}

func (u *Reactions) Load(state unit.State) error {
	s, err := unit.DecodeState(state, reactionSettings{})
	if err == nil {
		err = u.Select(s.SelectedReaction)
	}
	if err != nil {
		u.selected.Store(0)
	}
	return err
}
