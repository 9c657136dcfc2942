package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/config"
	"github.com/bryanchriswhite/LoopCam/internal/device/devicetest"
	"github.com/bryanchriswhite/LoopCam/internal/engine"
	"github.com/bryanchriswhite/LoopCam/internal/output"
	"github.com/bryanchriswhite/LoopCam/internal/state"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"github.com/bryanchriswhite/LoopCam/internal/unit/units"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server   *Server
	provider *devicetest.Provider
	engine   *engine.Engine
	store    *state.Store
	mirror   *units.Mirror
	text     *units.Text
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	configMgr, err := config.NewManager(filepath.Join(home, "config.yaml"))
	require.NoError(t, err)

	f := &fixture{
		provider: &devicetest.Provider{},
		mirror:   units.NewMirror(),
		text:     units.NewText(),
		store:    state.NewStore(filepath.Join(home, "state")),
	}
	r := unit.NewRegistry()
	r.Register("mirror", func(unit.Env) (unit.Unit, error) { return f.mirror, nil })
	r.Register("text", func(unit.Env) (unit.Unit, error) { return f.text, nil })
	d := r.Discover(nil, unit.Env{})

	preview := output.NewMJPEGPreview(0)
	f.engine = engine.New(f.provider, preview)
	t.Cleanup(f.engine.Stop)
	f.server = NewServer(d, f.engine, f.store, configMgr, preview)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestListUnits(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/api/units", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Groups map[string][]UnitInfo `json:"groups"`
		Chain  []string              `json:"chain"`
	}](t, rec)

	require.Equal(t, []string{"text", "mirror"}, got.Chain)
	require.Len(t, got.Groups[units.GroupHighLevel], 2)
	mirror := got.Groups[units.GroupHighLevel][0]
	require.Equal(t, "mirror", mirror.ID)
	require.Equal(t, 10000, mirror.Order)
	require.Len(t, mirror.Actions, 1)
	require.True(t, mirror.Actions[0].Togglable)
	require.False(t, *mirror.Actions[0].Value)
}

func TestInvokeAction(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/units/mirror/actions/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, *decode[UnitInfo](t, rec).Actions[0].Value)
	require.True(t, f.mirror.Display().Get())

	rec = f.do(t, "POST", "/api/units/text/actions/0", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, "GET", "/api/units/text/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]interface{}{"text": "hello"}, decode[map[string]interface{}](t, rec))

	require.Equal(t, http.StatusNotFound, f.do(t, "POST", "/api/units/mirror/actions/5", nil).Code)
	require.Equal(t, http.StatusNotFound, f.do(t, "POST", "/api/units/nope/actions/0", nil).Code)
}

func TestPutUnitState(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "PUT", "/api/units/mirror/state", map[string]interface{}{"display": true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.mirror.Display().Get())

	rec = f.do(t, "PUT", "/api/units/mirror/state", map[string]interface{}{"display": "sideways"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.False(t, f.mirror.Display().Get())
}

func TestSaveAndLoadState(t *testing.T) {
	f := newFixture(t)
	f.mirror.Display().Set(true)
	f.text.SetText("saved")

	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/state/save", nil).Code)
	require.FileExists(t, f.store.RecentPath())

	named := filepath.Join(t.TempDir(), "named.yaml")
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/state/save", SlotRequest{Path: named}).Code)

	f.mirror.Display().Set(false)
	f.text.SetText("changed")

	rec := f.do(t, "POST", "/api/state/load", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, f.mirror.Display().Get())
	st, err := f.text.Save()
	require.NoError(t, err)
	require.Equal(t, "saved", st["text"])

	rec = f.do(t, "POST", "/api/state/load", SlotRequest{Path: filepath.Join(t.TempDir(), "absent.yaml")})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamStartStop(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/api/stream/start", StartRequest{Width: 64, Height: 48})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[engine.Stats](t, rec)
	require.Equal(t, "streaming", stats.State)
	require.Equal(t, 64, stats.Resolution.Width)
	require.Equal(t, "/dev/video20", stats.Output)

	rec = f.do(t, "GET", "/api/stream/status", nil)
	require.Equal(t, "streaming", decode[engine.Stats](t, rec).State)

	rec = f.do(t, "POST", "/api/stream/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "idle", decode[engine.Stats](t, rec).State)
	require.Zero(t, f.provider.OpenCaptures())

	require.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/stream/start", StartRequest{Format: "H264"}).Code)

	f.provider.MissingOutput = true
	rec = f.do(t, "POST", "/api/stream/start", StartRequest{Width: 64, Height: 48})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, engine.Idle, f.engine.State())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "idle", decode[map[string]string](t, rec)["stream"])
}

func TestToggleFeed(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/toggles/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev ToggleEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, ToggleEvent{Unit: "mirror", Index: 0, Label: "Mirror display", Value: false}, ev)

	f.mirror.Display().Flip()
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "mirror", ev.Unit)
	require.True(t, ev.Value)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool {
		return f.mirror.Display().Observers() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestToggleSubscriptionUnderConcurrentChanges(t *testing.T) {
	mirror := units.NewMirror()
	done := make(chan struct{})
	flipping := make(chan struct{})
	go func() {
		defer close(flipping)
		for {
			select {
			case <-done:
				return
			default:
				mirror.Display().Flip()
			}
		}
	}()

	events := make(chan ToggleEvent, feedBuffer)
	initial, unsubscribe := subscribeToggles([]unit.Unit{mirror}, events)
	time.Sleep(20 * time.Millisecond)
	close(done)
	<-flipping
	unsubscribe()

	require.Len(t, initial, 1)
	require.Equal(t, "mirror", initial[0].Unit)
	require.Equal(t, "Mirror display", initial[0].Label)
	require.NotEmpty(t, events)
	for len(events) > 0 {
		ev := <-events
		require.Equal(t, "mirror", ev.Unit)
		require.Equal(t, "Mirror display", ev.Label)
	}
	require.Zero(t, mirror.Display().Observers())
}
