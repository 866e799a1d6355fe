// Package hooks implements the in-process lifecycle hook registry.
//
// Handlers for one event run in registration order, one at a time; a failing
// handler is logged and the remaining handlers still run.
package hooks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jvs-project/hookctl/pkg/errclass"
	"github.com/jvs-project/hookctl/pkg/logging"
)

// Event names a lifecycle phase.
type Event string

const (
	OnInit     Event = "onInit"
	OnDestroy  Event = "onDestroy"
	OnUpdate   Event = "onUpdate"
	OnRender   Event = "onRender"
	OnValidate Event = "onValidate"
	OnMerge    Event = "onMerge"
)

// BuiltinEvents is the fixed set every registry knows.
var BuiltinEvents = []Event{OnInit, OnDestroy, OnUpdate, OnRender, OnValidate, OnMerge}

// IsBuiltin reports whether name is one of BuiltinEvents.
func IsBuiltin(name string) bool {
	for _, e := range BuiltinEvents {
		if string(e) == name {
			return true
		}
	}
	return false
}

// ExecutionContext is passed to every invoked hook.
type ExecutionContext struct {
	Module  string         `json:"module"`
	Role    string         `json:"role"`
	DryRun  bool           `json:"dryRun"`
	Verbose bool           `json:"verbose"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Handler is a hook callback.
type Handler func(ctx context.Context, ec ExecutionContext) error

type registration struct {
	handler Handler
	name    string
}

// Registry holds handlers per event. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	log      *logging.Logger
	known    map[Event]bool
	handlers map[Event][]*registration
}

// NewRegistry creates a registry accepting the built-in events plus extra.
func NewRegistry(log *logging.Logger, extra ...Event) *Registry {
	if log == nil {
		log = logging.Discard()
	}
	known := make(map[Event]bool, len(BuiltinEvents)+len(extra))
	for _, e := range BuiltinEvents {
		known[e] = true
	}
	for _, e := range extra {
		known[e] = true
	}
	return &Registry{
		log:      log,
		known:    known,
		handlers: make(map[Event][]*registration),
	}
}

// Events lists the events this registry accepts, sorted.
func (r *Registry) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.known))
	for e := range r.known {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Register adds handler to event and returns a func that removes exactly
// this registration. Registering on an unknown event is a configuration error.
func (r *Registry) Register(event Event, handler Handler) (func(), error) {
	return r.RegisterNamed(event, "", handler)
}

// RegisterNamed is Register with a name used in logs and traces.
func (r *Registry) RegisterNamed(event Event, name string, handler Handler) (func(), error) {
	if handler == nil {
		return nil, errclass.ErrConfig.WithMessagef("nil handler for event %s", event)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.known[event] {
		return nil, errclass.ErrUnknownEvent.WithMessagef("cannot register on unknown event %q", event)
	}

	reg := &registration{handler: handler, name: name}
	r.handlers[event] = append(r.handlers[event], reg)

	var once sync.Once
	return func() {
		once.Do(func() { r.unregister(event, reg) })
	}, nil
}

// MustRegister is Register for startup wiring; it panics on configuration errors.
func (r *Registry) MustRegister(event Event, handler Handler) func() {
	unregister, err := r.Register(event, handler)
	if err != nil {
		panic(err)
	}
	return unregister
}

// Len returns the number of handlers registered for event.
func (r *Registry) Len(event Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[event])
}

func (r *Registry) unregister(event Event, target *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[event]
	for i, reg := range list {
		if reg == target {
			r.handlers[event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Trigger runs every handler of event sequentially in registration order.
// Handler errors and panics are logged and do not stop later handlers.
// Only an unknown event is reported as an error.
func (r *Registry) Trigger(ctx context.Context, event Event, ec ExecutionContext) error {
	r.mu.Lock()
	if !r.known[event] {
		r.mu.Unlock()
		return errclass.ErrUnknownEvent.WithMessagef("cannot trigger unknown event %q", event)
	}
	snapshot := append([]*registration(nil), r.handlers[event]...)
	r.mu.Unlock()

	if len(snapshot) == 0 {
		r.log.Debug("no hooks registered", map[string]any{"event": string(event)})
		_ = r.log.Trace(string(event), map[string]any{"handlers": 0, "context": ec})
		return nil
	}

	for i, reg := range snapshot {
		_ = r.log.Trace(string(event), map[string]any{"handler": reg.label(i), "context": ec})
		if err := invoke(ctx, reg.handler, ec); err != nil {
			r.log.Error(fmt.Sprintf("hook failed for event %s: %v", event, err), map[string]any{
				"event":   string(event),
				"handler": reg.label(i),
			})
		}
	}
	return nil
}

func (reg *registration) label(i int) string {
	if reg.name != "" {
		return reg.name
	}
	return fmt.Sprintf("#%d", i)
}

// invoke calls h, converting a panic into an error.
func invoke(ctx context.Context, h Handler, ec ExecutionContext) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h(ctx, ec)
}
