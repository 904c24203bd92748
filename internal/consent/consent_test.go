package consent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsToNecessaryOnly(t *testing.T) {
	m := NewManager()
	assert.True(t, m.HasConsent(Necessary))
	assert.False(t, m.HasConsent(Analytics))
	assert.False(t, m.HasConsent(Marketing))
	assert.False(t, m.HasConsent(Preferences))
}

func TestSetMerges(t *testing.T) {
	m := NewManager()
	m.Set(map[Category]bool{Analytics: true})
	m.Set(map[Category]bool{Marketing: true})

	assert.True(t, m.HasConsent(Analytics))
	assert.True(t, m.HasConsent(Marketing))

	m.Set(map[Category]bool{Analytics: false})
	assert.False(t, m.HasConsent(Analytics))
	assert.True(t, m.HasConsent(Marketing))
}

func TestNecessaryCannotBeRevoked(t *testing.T) {
	m := NewManager()
	m.Set(map[Category]bool{Necessary: false})
	assert.True(t, m.HasConsent(Necessary))
}

func TestGrantAll(t *testing.T) {
	m := NewManager()
	m.GrantAll()
	snap := m.Snapshot()
	assert.True(t, snap.Analytics)
	assert.True(t, snap.Marketing)
	assert.True(t, snap.Preferences)
}

func TestOnChange(t *testing.T) {
	m := NewManager()
	var seen []Snapshot
	m.OnChange(func(s Snapshot) { seen = append(seen, s) })

	m.Set(map[Category]bool{Analytics: true})
	m.GrantAll()

	assert.Len(t, seen, 2)
	assert.True(t, seen[0].Analytics)
	assert.False(t, seen[0].Marketing)
	assert.True(t, seen[1].Marketing)
}
