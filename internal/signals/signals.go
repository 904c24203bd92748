// Package signals carries the runtime's external events (visibility, network
// connectivity, user interaction) to the pipeline components that react to
// them. The host feeds the hub; tests drive it directly, which keeps every
// timer- and signal-driven behavior deterministic.
package signals

import "sync"

// Kind identifies a runtime signal.
type Kind int

const (
	// Interaction fires on the first pointer press, scroll, key press,
	// touch start or pointer move the host observes.
	Interaction Kind = iota
	Visible
	Hidden
	Online
	Offline
)

func (k Kind) String() string {
	switch k {
	case Interaction:
		return "interaction"
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	case Online:
		return "online"
	case Offline:
		return "offline"
	}
	return "unknown"
}

// ParseKind maps a signal name from the host to its Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "interaction":
		return Interaction, true
	case "visible":
		return Visible, true
	case "hidden":
		return Hidden, true
	case "online":
		return Online, true
	case "offline":
		return Offline, true
	}
	return 0, false
}

type subscription struct {
	fn       func()
	once     bool
	canceled bool
}

// Hub fans runtime signals out to subscribers and keeps a snapshot of the
// visibility and connectivity state.
type Hub struct {
	mu      sync.Mutex
	visible bool
	online  bool
	subs    map[Kind][]*subscription
}

// NewHub starts visible and online, matching a freshly loaded foreground
// page.
func NewHub() *Hub {
	return &Hub{visible: true, online: true, subs: make(map[Kind][]*subscription)}
}

// Visible reports whether the runtime is currently in the foreground.
func (h *Hub) Visible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible
}

// Online reports whether the runtime currently has network connectivity.
func (h *Hub) Online() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

// Subscribe registers fn for every occurrence of k. The returned cancel
// function removes the subscription.
func (h *Hub) Subscribe(k Kind, fn func()) (cancel func()) {
	return h.add(k, fn, false)
}

// Once registers fn for the next occurrence of k only.
func (h *Hub) Once(k Kind, fn func()) (cancel func()) {
	return h.add(k, fn, true)
}

func (h *Hub) add(k Kind, fn func(), once bool) func() {
	sub := &subscription{fn: fn, once: once}
	h.mu.Lock()
	h.subs[k] = append(h.subs[k], sub)
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		sub.canceled = true
		h.mu.Unlock()
	}
}

// Notify delivers a signal: the state snapshot is updated first, then
// subscribers run in registration order. Once-subscriptions are consumed
// before their callback runs, so a callback re-notifying the hub cannot fire
// itself twice.
func (h *Hub) Notify(k Kind) {
	h.mu.Lock()
	switch k {
	case Visible:
		h.visible = true
	case Hidden:
		h.visible = false
	case Online:
		h.online = true
	case Offline:
		h.online = false
	}
	var run []func()
	kept := h.subs[k][:0]
	for _, sub := range h.subs[k] {
		if sub.canceled {
			continue
		}
		run = append(run, sub.fn)
		if !sub.once {
			kept = append(kept, sub)
		}
	}
	h.subs[k] = kept
	h.mu.Unlock()

	for _, fn := range run {
		fn()
	}
}
