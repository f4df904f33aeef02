// Package testutil provides shared fixtures for the citest suites: a
// fully wired session core around a scripted engine, an event recorder,
// and an HTTP test server.
package testutil

import (
	"net/http/httptest"
	"sync"
	"time"

	"github.com/arche-ai/arche/internal/engine"
	"github.com/arche-ai/arche/internal/event"
	"github.com/arche-ai/arche/internal/permission"
	"github.com/arche-ai/arche/internal/server"
	"github.com/arche-ai/arche/internal/session"
	"github.com/arche-ai/arche/pkg/types"
)

// Harness wires a complete session core around a scripted engine.
type Harness struct {
	Bus     *event.Bus
	Broker  *permission.Broker
	Engine  *engine.Scripted
	Manager *session.Manager
}

// Options configures a harness.
type Options struct {
	// Steps is the scripted engine's event script.
	Steps []engine.ScriptStep

	// PermissionTimeout bounds broker waits. Zero means one minute.
	PermissionTimeout time.Duration

	// DefaultMode is the permission mode for new sessions.
	DefaultMode types.PermissionMode
}

// NewHarness builds a session core for a test.
func NewHarness(opts Options) *Harness {
	if opts.PermissionTimeout == 0 {
		opts.PermissionTimeout = time.Minute
	}

	bus := event.NewBus()
	broker := permission.NewBroker(bus, opts.PermissionTimeout)
	eng := engine.NewScripted(opts.Steps...)

	reg := engine.NewRegistry()
	if err := reg.Register(eng); err != nil {
		panic(err)
	}

	mgr := session.NewManager(session.Options{
		Bus:           bus,
		Broker:        broker,
		Engines:       reg,
		DefaultModel:  "claude-sonnet-4",
		DefaultMode:   opts.DefaultMode,
		DefaultEngine: engine.KindScripted,
	})

	return &Harness{Bus: bus, Broker: broker, Engine: eng, Manager: mgr}
}

// Close shuts the harness down.
func (h *Harness) Close() {
	h.Bus.Close()
}

// StartHTTP exposes the harness over an httptest server.
func (h *Harness) StartHTTP() *httptest.Server {
	srv := server.New(server.DefaultConfig(), h.Manager, h.Bus)
	return httptest.NewServer(srv.Router())
}

// Recorder collects bus events in delivery order.
type Recorder struct {
	mu     sync.Mutex
	events []event.Event
}

// Record subscribes a recorder to every event on the bus.
func Record(bus *event.Bus) *Recorder {
	r := &Recorder{}
	bus.SubscribeGlobal(func(ev event.Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []event.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// StateSequence returns the state.changed targets recorded for a
// session, in order.
func (r *Recorder) StateSequence(sessionID string) []types.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.SessionState
	for _, ev := range r.events {
		if ev.Type != event.StateChanged || ev.SessionID != sessionID {
			continue
		}
		if data, ok := ev.Data.(event.StateChangedData); ok {
			out = append(out, data.To)
		}
	}
	return out
}

// Count returns how many events of the given type were recorded.
func (r *Recorder) Count(t event.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
