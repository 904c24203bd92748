package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cdlhelp/telemetry/internal/kvstore"
)

const offlineQueueKey = "transport.offline_queue"

// maxOfflinePayloads bounds the durable queue; the oldest entry is evicted
// first once the cap is reached.
const maxOfflinePayloads = 100

// OfflineQueue persists undelivered payloads, in order, until connectivity
// returns.
type OfflineQueue struct {
	mu    sync.Mutex
	store kvstore.Store
}

func NewOfflineQueue(store kvstore.Store) *OfflineQueue {
	return &OfflineQueue{store: store}
}

// Enqueue appends a payload, evicting from the front when full.
func (q *OfflineQueue) Enqueue(p Payload) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	queued, err := q.loadLocked()
	if err != nil {
		return err
	}
	queued = append(queued, p)
	if over := len(queued) - maxOfflinePayloads; over > 0 {
		queued = queued[over:]
	}
	return q.saveLocked(queued)
}

// Drain removes and returns every queued payload in FIFO order. The queue is
// cleared before the caller replays, matching fire-and-forget semantics:
// replayed payloads are not re-tracked on delivery failure unless the send
// path re-enqueues them.
func (q *OfflineQueue) Drain() ([]Payload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queued, err := q.loadLocked()
	if err != nil {
		return nil, err
	}
	if len(queued) == 0 {
		return nil, nil
	}
	if err := q.store.Remove(offlineQueueKey); err != nil {
		return nil, fmt.Errorf("clear offline queue: %w", err)
	}
	return queued, nil
}

// Len reports the number of queued payloads.
func (q *OfflineQueue) Len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queued, err := q.loadLocked()
	return len(queued), err
}

func (q *OfflineQueue) loadLocked() ([]Payload, error) {
	raw, ok, err := q.store.Get(offlineQueueKey)
	if err != nil {
		return nil, fmt.Errorf("load offline queue: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var queued []Payload
	if err := json.Unmarshal(raw, &queued); err != nil {
		// A corrupt queue is dropped rather than wedging delivery.
		return nil, nil
	}
	return queued, nil
}

func (q *OfflineQueue) saveLocked(queued []Payload) error {
	buf, err := json.Marshal(queued)
	if err != nil {
		return fmt.Errorf("encode offline queue: %w", err)
	}
	if err := q.store.Set(offlineQueueKey, buf); err != nil {
		return fmt.Errorf("persist offline queue: %w", err)
	}
	return nil
}
