package controlbus

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DankBSD/InitWare/internal/server/socketunit"
	"github.com/DankBSD/InitWare/shared/logger"
)

type fakeUnit struct {
	id       string
	active   socketunit.ActiveState
	sub      string
	result   socketunit.Result
	warnings []string

	started, stopped bool
	killedWho        string
	killedSigno      int
}

func (f *fakeUnit) Start() error { f.started = true; return nil }
func (f *fakeUnit) Stop() error  { f.stopped = true; return nil }
func (f *fakeUnit) Kill(who string, signo int) error {
	f.killedWho = who
	f.killedSigno = signo
	return nil
}
func (f *fakeUnit) ActiveState() socketunit.ActiveState { return f.active }
func (f *fakeUnit) SubState() string                    { return f.sub }
func (f *fakeUnit) Result() socketunit.Result           { return f.result }
func (f *fakeUnit) Warnings() []string                  { return f.warnings }

type fakeRegistry struct {
	units map[string]*fakeUnit
}

func (r *fakeRegistry) Unit(id string) (Controllable, bool) {
	u, ok := r.units[id]
	return u, ok
}

func (r *fakeRegistry) UnitIDs() []string {
	ids := make([]string, 0, len(r.units))
	for id := range r.units {
		ids = append(ids, id)
	}
	return ids
}

func newTestBus() (*Bus, *fakeRegistry) {
	reg := &fakeRegistry{units: map[string]*fakeUnit{
		"echo.socket": {id: "echo.socket", active: socketunit.ActiveStateActive, sub: "listening", result: socketunit.ResultSuccess},
	}}

	return New(reg, logger.NewForTesting()), reg
}

func TestHandleListUnits(t *testing.T) {
	bus, _ := newTestBus()

	req := httptest.NewRequest(http.MethodGet, "/units", nil)
	rec := httptest.NewRecorder()

	bus.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var out []map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "echo.socket", out[0]["id"])
	assert.Equal(t, "listening", out[0]["subState"])
}

func TestHandleGetUnitNotFound(t *testing.T) {
	bus, _ := newTestBus()

	req := httptest.NewRequest(http.MethodGet, "/units/nope.socket", nil)
	rec := httptest.NewRecorder()

	bus.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStartAction(t *testing.T) {
	bus, reg := newTestBus()

	req := httptest.NewRequest(http.MethodPost, "/units/echo.socket/start", nil)
	rec := httptest.NewRecorder()

	bus.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, reg.units["echo.socket"].started)
}

func TestHandleKillDefaultsToAllSigterm(t *testing.T) {
	bus, reg := newTestBus()

	req := httptest.NewRequest(http.MethodPost, "/units/echo.socket/kill", nil)
	rec := httptest.NewRecorder()

	bus.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "all", reg.units["echo.socket"].killedWho)
	assert.Equal(t, 15, reg.units["echo.socket"].killedSigno)
}

func TestHandleKillExplicitSignal(t *testing.T) {
	bus, reg := newTestBus()

	req := httptest.NewRequest(http.MethodPost, "/units/echo.socket/kill?who=control&signal=SIGKILL", nil)
	rec := httptest.NewRecorder()

	bus.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "control", reg.units["echo.socket"].killedWho)
	assert.Equal(t, 9, reg.units["echo.socket"].killedSigno)
}

func TestNotifyStateChangedBroadcastsToSubscribers(t *testing.T) {
	bus, _ := newTestBus()

	ch := make(chan Event, 1)
	bus.mu.Lock()
	bus.subs[ch] = struct{}{}
	bus.mu.Unlock()

	bus.NotifyStateChanged("echo.socket", socketunit.ActiveStateActive, socketunit.StateListening, socketunit.ResultSuccess)

	select {
	case ev := <-ch:
		assert.Equal(t, "state-changed", ev.Type)
		assert.Equal(t, "echo.socket", ev.UnitID)
		assert.Equal(t, "listening", ev.SubState)
	default:
		t.Fatal("expected a broadcast event")
	}
}

func TestParseSignalNames(t *testing.T) {
	n, err := parseSignal("SIGTERM")
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	n, err = parseSignal("9")
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}
