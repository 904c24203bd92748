// Package platform registers delivery targets and maps canonical events into
// each target's accepted parameter shape.
package platform

import (
	"sync"

	"github.com/cdlhelp/telemetry/internal/event"
)

// SendFunc delivers one mapped event to a platform. Errors are logged by the
// fan-out and never propagate further.
type SendFunc func(eventName string, params map[string]any) error

// Mapper turns a canonical event into the parameter shape one platform
// accepts. A nil Mapper passes properties through unmodified.
type Mapper func(e event.Event) map[string]any

// Platform is one registered delivery target. Only enabled platforms are
// considered by the fan-out.
type Platform struct {
	Name    string
	Enabled bool
	Mapper  Mapper
	Send    SendFunc
}

// Registry holds registered platforms in registration order. Platforms are
// added dynamically as staged activation brings them up.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]Platform
}

func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Platform)}
}

// Register adds or replaces a platform.
func (r *Registry) Register(p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[p.Name]; !ok {
		r.order = append(r.order, p.Name)
	}
	r.byKey[p.Name] = p
}

// SetEnabled flips a platform's enabled flag, e.g. after a consent change.
func (r *Registry) SetEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byKey[name]; ok {
		p.Enabled = enabled
		r.byKey[name] = p
	}
}

// Names lists registered platforms in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Clear drops every registration. Used on teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.byKey = make(map[string]Platform)
}

func (r *Registry) enabled() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Platform, 0, len(r.order))
	for _, name := range r.order {
		if p := r.byKey[name]; p.Enabled {
			out = append(out, p)
		}
	}
	return out
}
