// Package consent tracks the visitor's consent grants. The pipeline never
// suppresses delivery on its own; it stamps a consent snapshot into every
// outbound payload and lets platform activation decide what gets enabled.
package consent

import "sync"

// Category is a consent bucket a platform or payload field can be gated on.
type Category string

const (
	Necessary   Category = "necessary"
	Analytics   Category = "analytics"
	Marketing   Category = "marketing"
	Preferences Category = "preferences"
)

// Checker is what the pipeline needs from the host's consent collaborator.
type Checker interface {
	HasConsent(c Category) bool
}

// Snapshot is the consent state stamped into an outbound payload at send
// time. Necessary is always granted and therefore not carried on the wire.
type Snapshot struct {
	Analytics   bool `json:"analytics"`
	Marketing   bool `json:"marketing"`
	Preferences bool `json:"preferences"`
}

// Manager is the default consent collaborator. Grants may change at runtime;
// registered callbacks run after every change.
type Manager struct {
	mu        sync.RWMutex
	grants    map[Category]bool
	callbacks []func(Snapshot)
}

// NewManager starts with only necessary consent granted.
func NewManager() *Manager {
	return &Manager{grants: map[Category]bool{Necessary: true}}
}

func (m *Manager) HasConsent(c Category) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grants[c]
}

// Set merges the given grants into the current state. Necessary cannot be
// revoked.
func (m *Manager) Set(grants map[Category]bool) {
	m.mu.Lock()
	for c, v := range grants {
		if c == Necessary {
			continue
		}
		m.grants[c] = v
	}
	snap := m.snapshotLocked()
	callbacks := make([]func(Snapshot), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(snap)
	}
}

// GrantAll grants every category. Matches the accept-all path of the consent
// banner.
func (m *Manager) GrantAll() {
	m.Set(map[Category]bool{Analytics: true, Marketing: true, Preferences: true})
}

// OnChange registers fn to run after every consent change.
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Snapshot returns the current consent state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		Analytics:   m.grants[Analytics],
		Marketing:   m.grants[Marketing],
		Preferences: m.grants[Preferences],
	}
}
