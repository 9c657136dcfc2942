package units

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/observable"
	"github.com/bryanchriswhite/LoopCam/internal/overlay"
	"github.com/bryanchriswhite/LoopCam/internal/recorder"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"go.uber.org/atomic"
)

func init() {
	unit.Register("record", func(env unit.Env) (unit.Unit, error) {
		return NewRecord(filepath.Join(env.DataDir, "record"), recorder.New(nil, 30)), nil
	})
}

// ErrNoFrameYet is returned when recording is requested before the unit
// has seen a frame and therefore does not know the size to record at
var ErrNoFrameYet = errors.New("no frame seen yet")

// Record encodes the chain's picture to <dir>/<timestamp>.mp4. It runs
// after the overlays but before the mirror, so recordings are never
// mirrored.
type Record struct {
	unit.Base
	dir    string
	rec    *recorder.Recorder
	record *observable.Toggle
	size   atomic.Pointer[image.Point]
	now    func() time.Time
}

// NewRecord creates an idle recorder writing into dir
func NewRecord(dir string, rec *recorder.Recorder) *Record {
	return &Record{
		Base:   unit.NewBase("record", "Record", GroupHighLevel, 1000),
		dir:    dir,
		rec:    rec,
		record: observable.NewToggle(false),
		now:    time.Now,
	}
}

// Recording is the recording state
func (u *Record) Recording() *observable.Toggle {
	return u.record
}

func (u *Record) Actions() []unit.Action {
	return []unit.Action{
		{Label: "Record", Handler: func(unit.Args) error { return u.toggle() }, Toggle: u.record},
	}
}

func (u *Record) toggle() error {
	if u.record.Get() {
		return u.stop()
	}

	size := u.size.Load()
	if size == nil {
		return ErrNoFrameYet
	}
	path := filepath.Join(u.dir, u.now().Format("2006-01-02_15-04-05")+".mp4")
	if err := u.rec.Start(path, size.X, size.Y); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	u.record.Set(true)
	return nil
}

func (u *Record) stop() error {
	u.record.Set(false)
	return u.rec.Stop()
}

func (u *Record) Process(f *frame.Frame) (*frame.Frame, error) {
	if p := u.size.Load(); p == nil || p.X != f.Width || p.Y != f.Height {
		u.size.Store(&image.Point{X: f.Width, Y: f.Height})
	}
	if !u.rec.Recording() {
		return f, nil
	}

	published := f.Clone()
	published.FlipHorizontal()
	if err := u.rec.Write(published); err != nil {
		unitLogger(u.ID()).Debug().Err(err).Msg("Frame not recorded")
	}

	readable(f, drawRecordMark)
	return f, nil
}

// drawRecordMark marks the top-left corner while recording
func drawRecordMark(f *frame.Frame) {
	size := 16 * max(1, f.Height/480)
	overlay.FillRect(f, image.Rect(20, 20, 20+size, 20+size), color.RGBA{R: 220, A: 255}, 1)
}

// Save stops an active recording; recordings are never resumed
func (u *Record) Save() (unit.State, error) {
	if u.record.Get() {
		if err := u.stop(); err != nil {
			unitLogger(u.ID()).Warn().Err(err).Msg("Recording did not finish cleanly")
		}
	}
	return unit.State{}, nil
}

// Load always leaves recording off
func (u *Record) Load(unit.State) error {
	if u.record.Get() {
		return u.stop()
	}
	return nil
}

// Close finishes any active recording
func (u *Record) Close() error {
	if u.record.Get() {
		return u.stop()
	}
	return nil
}
