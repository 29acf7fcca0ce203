// Package controlbus implements socketunit.ControlBus as an HTTP+
// WebSocket introspection/control surface: go-chi/chi routes expose unit
// status and start/stop/kill actions, and every state transition or
// warning a unit reports is also fanned out to connected
// gorilla/websocket clients as it happens.
package controlbus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/DankBSD/InitWare/internal/server/socketunit"
	"github.com/DankBSD/InitWare/shared/logger"
)

// Controllable is the subset of SocketUnit the HTTP surface drives.
type Controllable interface {
	Start() error
	Stop() error
	Kill(who string, signo int) error
	ActiveState() socketunit.ActiveState
	SubState() string
	Result() socketunit.Result
	Warnings() []string
}

// Registry looks up a managed unit by ID, implemented by whatever keeps
// the authoritative unit table (internal/daemon).
type Registry interface {
	Unit(id string) (Controllable, bool)
	UnitIDs() []string
}

// Event is one state-change or warning notification, broadcast verbatim
// to every connected WebSocket client as JSON.
type Event struct {
	Type     string `json:"type"`
	UnitID   string `json:"unitId"`
	Active   string `json:"active,omitempty"`
	SubState string `json:"subState,omitempty"`
	Result   string `json:"result,omitempty"`
	Message  string `json:"message,omitempty"`
	Time     string `json:"time"`
}

// Bus is the concrete socketunit.ControlBus.
type Bus struct {
	log      logger.Logger
	registry Registry

	mu   sync.Mutex
	subs map[chan Event]struct{}

	upgrader websocket.Upgrader
}

// New constructs a Bus backed by registry for unit lookups.
func New(registry Registry, log logger.Logger) *Bus {
	return &Bus{
		log:      log,
		registry: registry,
		subs:     make(map[chan Event]struct{}),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// Router builds the chi mux: GET /units, GET /units/{id}, POST
// /units/{id}/{start,stop,kill}, GET /events (WebSocket upgrade).
func (b *Bus) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Get("/units", b.handleListUnits)
	r.Get("/units/{id}", b.handleGetUnit)
	r.Post("/units/{id}/start", b.handleAction(func(c Controllable) error { return c.Start() }))
	r.Post("/units/{id}/stop", b.handleAction(func(c Controllable) error { return c.Stop() }))
	r.Post("/units/{id}/kill", b.handleKill)
	r.Get("/events", b.handleEvents)

	return r
}

func (b *Bus) handleListUnits(w http.ResponseWriter, r *http.Request) {
	ids := b.registry.UnitIDs()
	out := make([]map[string]string, 0, len(ids))

	for _, id := range ids {
		c, ok := b.registry.Unit(id)
		if !ok {
			continue
		}

		out = append(out, unitSummary(id, c))
	}

	writeJSON(w, http.StatusOK, out)
}

func (b *Bus) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, ok := b.registry.Unit(id)
	if !ok {
		http.Error(w, "unit not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, unitSummary(id, c))
}

func (b *Bus) handleAction(action func(Controllable) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		c, ok := b.registry.Unit(id)
		if !ok {
			http.Error(w, "unit not found", http.StatusNotFound)
			return
		}

		if err := action(c); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func (b *Bus) handleKill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, ok := b.registry.Unit(id)
	if !ok {
		http.Error(w, "unit not found", http.StatusNotFound)
		return
	}

	who := r.URL.Query().Get("who")
	if who == "" {
		who = "all"
	}

	signo := 15 // SIGTERM
	if s := r.URL.Query().Get("signal"); s != "" {
		if n, err := parseSignal(s); err == nil {
			signo = n
		}
	}

	if err := c.Kill(who, signo); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (b *Bus) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", logger.Ctx{"error": err.Error()})
		return
	}

	defer conn.Close()

	ch := make(chan Event, 32)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// NotifyStateChanged implements socketunit.ControlBus.
func (b *Bus) NotifyStateChanged(unitID string, active socketunit.ActiveState, state socketunit.State, result socketunit.Result) {
	b.broadcast(Event{
		Type:     "state-changed",
		UnitID:   unitID,
		Active:   active.String(),
		SubState: state.String(),
		Result:   result.String(),
		Time:     time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// NotifyWarning implements socketunit.ControlBus.
func (b *Bus) NotifyWarning(unitID string, msg string) {
	b.broadcast(Event{
		Type:    "warning",
		UnitID:  unitID,
		Message: msg,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (b *Bus) broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the unit that's
			// reporting this transition.
		}
	}
}

func unitSummary(id string, c Controllable) map[string]string {
	return map[string]string{
		"id":       id,
		"active":   c.ActiveState().String(),
		"subState": c.SubState(),
		"result":   c.Result().String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseSignal(s string) (int, error) {
	switch s {
	case "TERM", "SIGTERM":
		return 15, nil
	case "KILL", "SIGKILL":
		return 9, nil
	case "HUP", "SIGHUP":
		return 1, nil
	default:
		var n int
		_, err := fmt.Sscanf(s, "%d", &n)
		return n, err
	}
}
