package unit

import (
	"errors"
	"testing"

	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/stretchr/testify/require"
)

type fakeUnit struct {
	Base
	process func(*frame.Frame) (*frame.Frame, error)
	state   State
}

func (u *fakeUnit) Process(f *frame.Frame) (*frame.Frame, error) {
	if u.process == nil {
		return f, nil
	}
	return u.process(f)
}

func (u *fakeUnit) Save() (State, error) { return u.state, nil }

func (u *fakeUnit) Load(s State) error {
	u.state = s
	return nil
}

func newFake(id string, order int) *fakeUnit {
	return &fakeUnit{Base: NewBase(id, id, "Test", order)}
}

func factoryOf(u Unit) Factory {
	return func(Env) (Unit, error) { return u, nil }
}

func TestDiscoverSortsByOrderKey(t *testing.T) {
	r := NewRegistry()
	r.Register("a", factoryOf(newFake("a", 10)))
	r.Register("b", factoryOf(newFake("b", -5)))
	r.Register("c", factoryOf(newFake("c", 0)))

	d := r.Discover(nil, Env{})
	require.Empty(t, d.Errors)
	require.Equal(t, []string{"b", "c", "a"}, d.Chain.IDs())

	orders := make([]int, 0, len(d.Chain))
	for _, u := range d.Chain {
		orders = append(orders, u.Order())
	}
	require.Equal(t, []int{-5, 0, 10}, orders)
}

func TestDiscoverInstantiatesOncePerCall(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("counted", func(Env) (Unit, error) {
		calls++
		return newFake("counted", 0), nil
	})

	first := r.Discover(nil, Env{})
	require.Equal(t, 1, calls)
	second := r.Discover(nil, Env{})
	require.Equal(t, 2, calls)
	require.NotSame(t, first.Units[0], second.Units[0], "re-discovery must produce fresh instances")
}

func TestDiscoverSkipsBlockedAndReserved(t *testing.T) {
	r := NewRegistry()
	r.Register("keep", factoryOf(newFake("keep", 0)))
	r.Register("blocked", factoryOf(newFake("blocked", 0)))
	r.Register("unit", factoryOf(newFake("unit", 0)))
	r.Register("_internal", factoryOf(newFake("_internal", 0)))

	d := r.Discover([]string{"blocked"}, Env{})
	require.Equal(t, []string{"keep"}, d.Chain.IDs())
}

func TestDiscoverReportsBrokenImplementations(t *testing.T) {
	r := NewRegistry()
	r.Register("ok", factoryOf(newFake("ok", 1)))
	r.Register("fails", func(Env) (Unit, error) { return nil, errors.New("missing resource") })
	r.Register("panics", func(Env) (Unit, error) { panic("malformed") })
	r.Register("nil", func(Env) (Unit, error) { return nil, nil })

	d := r.Discover(nil, Env{})
	require.Equal(t, []string{"ok"}, d.Chain.IDs())
	require.Len(t, d.Errors, 3)

	var derr *DiscoveryError
	require.ErrorAs(t, d.Errors[0], &derr)
	require.Equal(t, "fails", derr.UnitID)
	require.ErrorIs(t, d.Errors[2], ErrUnitPanic)
}

func TestDiscoverGroupsIndependentOfOrder(t *testing.T) {
	r := NewRegistry()
	a := newFake("a", 5)
	a.group = "High Level"
	b := newFake("b", -1)
	b.group = "Misc"
	c := newFake("c", 1)
	c.group = "High Level"
	r.Register("a", factoryOf(a))
	r.Register("b", factoryOf(b))
	r.Register("c", factoryOf(c))

	d := r.Discover(nil, Env{})
	require.Equal(t, []string{"High Level", "Misc"}, d.GroupNames())
	require.Len(t, d.Groups["High Level"], 2)
	require.Equal(t, "a", d.Groups["High Level"][0].ID())

	u, ok := d.Find("b")
	require.True(t, ok)
	require.Same(t, b, u)
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.Register("x", factoryOf(newFake("x", 0)))
	require.Panics(t, func() { r.Register("x", factoryOf(newFake("x", 0))) })
	require.Panics(t, func() { r.Register("", factoryOf(newFake("y", 0))) })
}

func TestNewUnknownUnit(t *testing.T) {
	_, err := NewRegistry().New("nope", Env{})
	require.ErrorIs(t, err, ErrUnknownUnit)
}

func TestChainSortIsStableAndIdempotent(t *testing.T) {
	units := []Unit{
		newFake("first-zero", 0),
		newFake("late", 100),
		newFake("second-zero", 0),
		newFake("early", -100),
		newFake("third-zero", 0),
	}
	c := NewChain(units)
	require.Equal(t, []string{"early", "first-zero", "second-zero", "third-zero", "late"}, c.IDs())
	require.True(t, c.Sorted())

	again := NewChain(c)
	require.Equal(t, c.IDs(), again.IDs())
	require.False(t, Chain(units).Sorted())
}

func TestMappingRunsInChainOrder(t *testing.T) {
	var trace []string
	mk := func(id string, order int) *fakeUnit {
		u := newFake(id, order)
		u.process = func(f *frame.Frame) (*frame.Frame, error) {
			trace = append(trace, id)
			return f, nil
		}
		return u
	}
	mapping := NewChain([]Unit{mk("mirror", 10000), mk("screen", -100), mk("text", 110)}).Mapping()

	out, err := mapping(frame.New(2, 2))
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, []string{"screen", "text", "mirror"}, trace)
}

func TestMappingFeedsOutputIntoNextUnit(t *testing.T) {
	paint := newFake("paint", 0)
	paint.process = func(f *frame.Frame) (*frame.Frame, error) {
		out := frame.New(f.Width, f.Height)
		out.Fill(10, 20, 30)
		return out, nil
	}
	check := newFake("check", 1)
	var seen uint8
	check.process = func(f *frame.Frame) (*frame.Frame, error) {
		seen = f.Pix[0]
		return f, nil
	}

	_, err := NewChain([]Unit{check, paint}).Mapping()(frame.New(1, 1))
	require.NoError(t, err)
	require.Equal(t, uint8(10), seen)
}

func TestMappingReportsFailures(t *testing.T) {
	boom := newFake("boom", 0)
	boom.process = func(*frame.Frame) (*frame.Frame, error) { panic("bad frame") }
	_, err := NewChain([]Unit{boom}).Mapping()(frame.New(1, 1))
	var perr *ProcessError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "boom", perr.UnitID)
	require.ErrorIs(t, err, ErrUnitPanic)

	resize := newFake("resize", 0)
	resize.process = func(*frame.Frame) (*frame.Frame, error) { return frame.New(3, 3), nil }
	_, err = NewChain([]Unit{resize}).Mapping()(frame.New(1, 1))
	require.ErrorIs(t, err, ErrFrameShape)

	failing := newFake("failing", 0)
	failing.process = func(*frame.Frame) (*frame.Frame, error) { return nil, errors.New("nope") }
	_, err = NewChain([]Unit{failing}).Mapping()(frame.New(1, 1))
	require.ErrorContains(t, err, "nope")
}

func TestMappingCapturesChainByValue(t *testing.T) {
	c := Chain{newFake("a", 0)}
	mapping := c.Mapping()
	blow := newFake("b", 0)
	blow.process = func(*frame.Frame) (*frame.Frame, error) { return nil, errors.New("must not run") }
	c[0] = blow

	_, err := mapping(frame.New(1, 1))
	require.NoError(t, err)
}

func TestDecodeStateKeepsDefaults(t *testing.T) {
	type settings struct {
		Display   bool    `mapstructure:"display"`
		Threshold float64 `mapstructure:"threshold"`
		Kernel    int     `mapstructure:"kernel_size"`
	}
	defaults := settings{Display: false, Threshold: 0.55, Kernel: 5}

	got, err := DecodeState(State{"display": true, "unknown": "ignored"}, defaults)
	require.NoError(t, err)
	require.Equal(t, settings{Display: true, Threshold: 0.55, Kernel: 5}, got)

	got, err = DecodeState(State{"kernel_size": "7"}, defaults)
	require.NoError(t, err)
	require.Equal(t, 7, got.Kernel)

	got, err = DecodeState(State{"kernel_size": []string{"x"}}, defaults)
	require.Error(t, err)
	require.Equal(t, defaults, got)

	got, err = DecodeState(nil, defaults)
	require.NoError(t, err)
	require.Equal(t, defaults, got)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	type settings struct {
		Text       string `mapstructure:"text"`
		Brightness int    `mapstructure:"brightness"`
	}
	in := settings{Text: "hello", Brightness: -12}
	s, err := EncodeState(in)
	require.NoError(t, err)
	require.Equal(t, "hello", s["text"])

	out, err := DecodeState(s, settings{})
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestArgsConversions(t *testing.T) {
	a := Args{"text": "hi", "n": "4", "f": 2, "bad": []int{1}, "on": "true"}
	require.Equal(t, "hi", a.String("text", ""))
	require.Equal(t, 4, a.Int("n", 0))
	require.Equal(t, 2.0, a.Float("f", 0))
	require.Equal(t, 9, a.Int("bad", 9))
	require.Equal(t, "d", a.String("missing", "d"))
	require.True(t, a.Bool("on", false))
	require.True(t, a.Bool("bad", true))
}
