package queue

import "sync"

// defaultDedupCap bounds the sent-id set. When full, the oldest half is
// evicted so recent ids keep their protection.
const defaultDedupCap = 1000

// Dedup remembers which event ids have already been accepted. Ids are
// retained in insertion order so eviction always removes the oldest.
type Dedup struct {
	mu    sync.Mutex
	limit int
	seen  map[string]struct{}
	order []string
}

// NewDedup builds a tracker. limit <= 0 uses the default bound.
func NewDedup(limit int) *Dedup {
	if limit <= 0 {
		limit = defaultDedupCap
	}
	return &Dedup{limit: limit, seen: make(map[string]struct{})}
}

// Seen records id and reports whether it was already present.
func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if len(d.order) >= d.limit {
		half := len(d.order) / 2
		for _, old := range d.order[:half] {
			delete(d.seen, old)
		}
		d.order = append(d.order[:0], d.order[half:]...)
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return false
}

// Len reports the number of remembered ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
