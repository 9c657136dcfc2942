package units

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/capture"
	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/recorder"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"github.com/stretchr/testify/require"
)

func action(t *testing.T, u unit.Unit, label string) unit.Action {
	t.Helper()
	for _, a := range u.Actions() {
		if a.Label == label {
			return a
		}
	}
	t.Fatalf("unit %s has no action %q", u.ID(), label)
	return unit.Action{}
}

func filled(w, h int, r, g, b uint8) *frame.Frame {
	f := frame.New(w, h)
	f.Fill(r, g, b)
	return f
}

func TestRegisteredUnits(t *testing.T) {
	require.Equal(t, []string{
		"adjustments", "edge", "fps", "mirror", "reactions", "record", "screen", "text",
	}, unit.Default.IDs())
}

func TestDiscoveredChainOrder(t *testing.T) {
	d := unit.Discover(nil, unit.Env{DataDir: t.TempDir()})
	defer d.Close()

	require.Empty(t, d.Errors)
	require.True(t, d.Chain.Sorted())
	require.Equal(t, []string{
		"screen", "adjustments", "edge", "fps", "reactions", "text", "record", "mirror",
	}, d.Chain.IDs())
	require.Equal(t, []string{GroupHighLevel, GroupMisc, GroupVideoFilters}, d.GroupNames())

	// Everything starts disabled, so the chain is the identity
	in := filled(32, 24, 10, 20, 30)
	out, err := d.Chain.Mapping()(in.Clone())
	require.NoError(t, err)
	require.Equal(t, in.Pix, out.Pix)
}

func TestStateSurvivesRestart(t *testing.T) {
	configure := map[string]func(unit.Unit){
		"mirror": func(u unit.Unit) { u.(*Mirror).Display().Set(true) },
		"fps":    func(u unit.Unit) { action(t, u, "Display FPS").Handler(nil) },
		"adjustments": func(u unit.Unit) {
			action(t, u, "Contrast").Handler(unit.Args{"value": 40})
			action(t, u, "Saturation").Handler(unit.Args{"value": "-20"})
		},
		"edge": func(u unit.Unit) {
			action(t, u, "Activate Filter").Handler(nil)
			action(t, u, "Options").Handler(unit.Args{"kernel_size": 3, "binary": "false"})
		},
		"text": func(u unit.Unit) { u.(*Text).SetText("hello") },
	}
	fresh := map[string]func() unit.Unit{
		"mirror":      func() unit.Unit { return NewMirror() },
		"fps":         func() unit.Unit { return NewFPS() },
		"adjustments": func() unit.Unit { return NewAdjustments() },
		"edge":        func() unit.Unit { return NewEdge() },
		"text":        func() unit.Unit { return NewText() },
	}

	for id, newUnit := range fresh {
		t.Run(id, func(t *testing.T) {
			before := newUnit()
			configure[id](before)
			saved, err := before.Save()
			require.NoError(t, err)

			after := newUnit()
			require.NoError(t, after.Load(saved))
			resaved, err := after.Save()
			require.NoError(t, err)
			require.Equal(t, saved, resaved)

			defaults, err := newUnit().Save()
			require.NoError(t, err)
			require.NotEqual(t, defaults, saved)
		})
	}
}

func TestMirror(t *testing.T) {
	m := NewMirror()
	f := frame.New(2, 1)
	f.SetRGB(0, 0, 255, 0, 0)

	out, err := m.Process(f)
	require.NoError(t, err)
	r, _, _ := out.RGBAt(0, 0)
	require.EqualValues(t, 255, r)

	action(t, m, "Mirror display").Handler(nil)
	require.True(t, m.Display().Get())
	out, err = m.Process(f)
	require.NoError(t, err)
	r, _, _ = out.RGBAt(1, 0)
	require.EqualValues(t, 255, r)
}

func TestFPSRate(t *testing.T) {
	u := NewFPS()
	start := time.Unix(1000, 0)
	calls := 0
	u.now = func() time.Time {
		now := start.Add(time.Duration(calls) * 100 * time.Millisecond)
		calls++
		return now
	}

	f := frame.New(64, 48)
	for i := 0; i < 11; i++ {
		_, err := u.Process(f)
		require.NoError(t, err)
	}
	require.InDelta(t, 11.0, u.Rate(), 0.001)

	// Nothing is drawn until the counter is displayed
	require.Equal(t, frame.New(64, 48).Pix, f.Pix)
	u.display.Set(true)
	_, err := u.Process(f)
	require.NoError(t, err)
	require.NotEqual(t, frame.New(64, 48).Pix, f.Pix)
}

func TestAdjustments(t *testing.T) {
	u := NewAdjustments()

	require.NoError(t, action(t, u, "Brightness").Handler(unit.Args{"value": 500}))
	s, err := u.Save()
	require.NoError(t, err)
	require.EqualValues(t, AdjustmentLimit, s["brightness"])

	require.NoError(t, action(t, u, "Brightness").Handler(unit.Args{"value": 10}))
	out, err := u.Process(filled(4, 4, 100, 100, 100))
	require.NoError(t, err)
	r, g, b := out.RGBAt(2, 2)
	require.Equal(t, [3]uint8{110, 110, 110}, [3]uint8{r, g, b})

	require.NoError(t, action(t, u, "Reset").Handler(nil))
	require.Equal(t, adjustmentSettings{}, u.settings())

	require.Error(t, u.Load(unit.State{"contrast": "steep"}))
	require.Equal(t, adjustmentSettings{}, u.settings())
}

func TestEdgeBinaryOutput(t *testing.T) {
	u := NewEdge()
	f := frame.New(32, 16)
	for y := 0; y < f.Height; y++ {
		for x := f.Width / 2; x < f.Width; x++ {
			f.SetRGB(x, y, 255, 255, 255)
		}
	}

	out, err := u.Process(f.Clone())
	require.NoError(t, err)
	require.Equal(t, f.Pix, out.Pix)

	action(t, u, "Activate Filter").Handler(nil)
	out, err = u.Process(f.Clone())
	require.NoError(t, err)

	seen := map[uint8]bool{}
	for _, v := range out.Pix {
		seen[v] = true
	}
	require.Equal(t, map[uint8]bool{0: true, 255: true}, seen)
}

func TestEdgeOptionsNormalized(t *testing.T) {
	u := NewEdge()
	action(t, u, "Options").Handler(unit.Args{"kernel_size": 4, "clip_value": 5000, "threshold": 2})
	s := *u.options.Load()
	require.Equal(t, 5, s.KernelSize)
	require.Equal(t, 1000, s.ClipValue)
	require.Equal(t, 1.0, s.Threshold)

	action(t, u, "Reset").Handler(nil)
	require.Equal(t, edgeDefaults, *u.options.Load())
}

func TestTextDrawsPlate(t *testing.T) {
	u := NewText()
	f := frame.New(200, 100)

	out, err := u.Process(f)
	require.NoError(t, err)
	require.Equal(t, frame.New(200, 100).Pix, out.Pix)

	require.NoError(t, action(t, u, "Write Text").Handler(unit.Args{"text": "  hi  "}))
	out, err = u.Process(f)
	require.NoError(t, err)

	plate := 0
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			if r, g, b := out.RGBAt(x, y); r == 127 && g == 127 && b == 127 {
				plate++
				require.Greater(t, y, out.Height/2)
			}
		}
	}
	require.Positive(t, plate)

	s, err := u.Save()
	require.NoError(t, err)
	require.Equal(t, "hi", s["text"])
}

func writeIcon(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, c)
		}
	}
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, png.Encode(file, img))
}

func TestReactions(t *testing.T) {
	dir := t.TempDir()
	writeIcon(t, filepath.Join(dir, "red.png"), color.RGBA{R: 255, A: 255})
	writeIcon(t, filepath.Join(dir, "blue.png"), color.RGBA{B: 255, A: 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	u, err := NewReactions(dir)
	require.NoError(t, err)
	names := []string{}
	for _, r := range u.Reactions() {
		names = append(names, r.Name)
	}
	require.Equal(t, []string{"none", "blue", "red"}, names)

	require.NoError(t, action(t, u, "Choose Reaction").Handler(unit.Args{"name": "red"}))
	require.Equal(t, 2, u.Selected())
	require.Error(t, action(t, u, "Choose Reaction").Handler(unit.Args{"name": "green"}))

	out, err := u.Process(frame.New(200, 150))
	require.NoError(t, err)
	// Top right once published, so top left in the mirrored frame
	r, g, b := out.RGBAt(reactionPadding+reactionIconSize/2, reactionPadding+reactionIconSize/2)
	require.Equal(t, [3]uint8{255, 0, 0}, [3]uint8{r, g, b})

	require.NoError(t, action(t, u, "Next Reaction").Handler(nil))
	require.Equal(t, 0, u.Selected())

	require.Error(t, u.Load(unit.State{"selected_reaction": 7}))
	require.Equal(t, 0, u.Selected())
	require.NoError(t, u.Load(unit.State{"selected_reaction": 1}))
	require.Equal(t, 1, u.Selected())
}

func TestReactionsMissingDirectory(t *testing.T) {
	u, err := NewReactions(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.Len(t, u.Reactions(), 1)
	require.Error(t, u.Select(1))
}

func catCommand(path string, _, _, _ int) *exec.Cmd {
	return exec.Command("sh", "-c", `cat > "$0"`, path)
}

func TestRecord(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	dir := t.TempDir()
	u := NewRecord(dir, recorder.New(catCommand, 30))
	u.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }
	toggle := action(t, u, "Record")

	require.ErrorIs(t, toggle.Handler(nil), ErrNoFrameYet)
	require.False(t, u.Recording().Get())

	f := filled(8, 4, 1, 2, 3)
	_, err := u.Process(f.Clone())
	require.NoError(t, err)

	require.NoError(t, toggle.Handler(nil))
	require.True(t, u.Recording().Get())
	_, err = u.Process(f.Clone())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	s, err := u.Save()
	require.NoError(t, err)
	require.Empty(t, s)
	require.False(t, u.Recording().Get())

	data, err := os.ReadFile(filepath.Join(dir, "2024-05-01_12-30-00.mp4"))
	require.NoError(t, err)
	require.Len(t, data, len(f.Pix))
	require.Equal(t, f.Pix, data)

	require.NoError(t, u.Load(unit.State{"recording": true}))
	require.False(t, u.Recording().Get())
	require.NoError(t, u.Close())
}

func stalledCommand(string, int, int, int) *exec.Cmd {
	return exec.Command("sh", "-c", "sleep 30")
}

func TestRecordStopDoesNotBlockProcess(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	rec := recorder.New(stalledCommand, 30)
	rec.SetStopTimeout(time.Second)
	u := NewRecord(t.TempDir(), rec)

	_, err := u.Process(frame.New(128, 128))
	require.NoError(t, err)
	require.NoError(t, action(t, u, "Record").Handler(nil))
	for i := 0; i < 20; i++ {
		_, err := u.Process(frame.New(128, 128))
		require.NoError(t, err)
	}

	loaded := make(chan error, 1)
	go func() { loaded <- u.Load(nil) }()

	processed := make(chan struct{})
	go func() {
		defer close(processed)
		for i := 0; i < 10; i++ {
			u.Process(frame.New(128, 128))
		}
	}()
	select {
	case <-processed:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Process blocked while the recording was stopping")
	}

	select {
	case err := <-loaded:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Load did not return after the encoder was killed")
	}
	require.False(t, u.Recording().Get())
	require.False(t, rec.Recording())
}

type fakeGrabber struct {
	img    *image.RGBA
	closed bool
}

func (g *fakeGrabber) Grab() (*image.RGBA, error) { return g.img, nil }
func (g *fakeGrabber) Name() string               { return "fake" }
func (g *fakeGrabber) Close() error {
	g.closed = true
	return nil
}

func TestScreenSharing(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+2], img.Pix[i+3] = 255, 255
	}
	g := &fakeGrabber{img: img}
	opened := 0
	u := NewScreen(func() (capture.Grabber, error) {
		opened++
		return g, nil
	})

	require.NoError(t, action(t, u, "Share Screen").Handler(nil))
	require.True(t, u.Sharing().Get())

	out, err := u.Process(frame.New(16, 8))
	require.NoError(t, err)
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			r, g, b := out.RGBAt(x, y)
			require.LessOrEqual(t, r, uint8(2))
			require.LessOrEqual(t, g, uint8(2))
			require.GreaterOrEqual(t, b, uint8(253))
		}
	}

	s, err := u.Save()
	require.NoError(t, err)
	require.Equal(t, true, s["share_screen"])

	require.NoError(t, u.Close())
	require.True(t, g.closed)
	require.False(t, u.Sharing().Get())

	require.NoError(t, u.Load(s))
	require.True(t, u.Sharing().Get())
	require.Equal(t, 2, opened)
}

func TestScreenOpenFailure(t *testing.T) {
	u := NewScreen(func() (capture.Grabber, error) {
		return nil, errors.New("no display")
	})
	require.Error(t, action(t, u, "Share Screen").Handler(nil))
	require.False(t, u.Sharing().Get())

	out, err := u.Process(filled(4, 4, 9, 9, 9))
	require.NoError(t, err)
	r, _, _ := out.RGBAt(0, 0)
	require.EqualValues(t, 9, r)
}
