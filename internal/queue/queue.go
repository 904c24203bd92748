// Package queue holds captured events until a flush trigger fires: the batch
// filling up, the batch interval elapsing, the runtime becoming visible
// again, or a critical event arriving.
package queue

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/cdlhelp/telemetry/internal/event"
	"github.com/cdlhelp/telemetry/internal/signals"
)

// Config bounds the queue. Zero values fall back to the defaults.
type Config struct {
	BatchSize int
	MaxSize   int
	Interval  time.Duration
}

// DefaultConfig mirrors the production tuning: flush at 5 events or 5
// seconds, never hold more than 50.
func DefaultConfig() Config {
	return Config{BatchSize: 5, MaxSize: 50, Interval: 5 * time.Second}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxSize <= 0 {
		c.MaxSize = d.MaxSize
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	return c
}

// Entry wraps an event with its delivery metadata.
type Entry struct {
	Event        event.Event
	AttemptCount int
	EnqueuedAt   time.Time
}

// FlushFunc receives each removed batch, in insertion order.
type FlushFunc func(batch []Entry)

// Queue is the dedup-and-batch stage. All mutation happens under one mutex;
// the flush callback always runs outside it.
type Queue struct {
	mu       sync.Mutex
	cfg      Config
	clock    clockwork.Clock
	flush    FlushFunc
	entries   []Entry
	timerGen  int
	timer     clockwork.Timer
	timerStop chan struct{}
	unsub     func()
	closed    bool
}

// New builds a queue and subscribes it to visibility-restore flushes.
func New(cfg Config, clock clockwork.Clock, hub *signals.Hub, flush FlushFunc) *Queue {
	q := &Queue{cfg: cfg.withDefaults(), clock: clock, flush: flush}
	if hub != nil {
		q.unsub = hub.Subscribe(signals.Visible, q.flushIfPending)
	}
	return q
}

// Add enqueues an event. Critical events bypass batching and flush alone,
// immediately.
func (q *Queue) Add(e event.Event) {
	entry := Entry{Event: e, EnqueuedAt: q.clock.Now()}

	if e.Critical {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		q.flush([]Entry{entry})
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.entries = append(q.entries, entry)
	if over := len(q.entries) - q.cfg.MaxSize; over > 0 {
		// Bounded memory: keep the most recent entries.
		q.entries = q.entries[over:]
		log.Warn().Int("dropped", over).Msg("event queue overflow, dropped oldest entries")
	}

	var batch []Entry
	if len(q.entries) >= q.cfg.BatchSize {
		batch = q.takeLocked()
	} else if q.timer == nil {
		q.armTimerLocked()
	}
	q.mu.Unlock()

	if batch != nil {
		q.flush(batch)
	}
}

// armTimerLocked starts the batch interval timer. The generation counter
// keeps a stale fire from flushing a batch that was already taken; the stop
// channel releases the waiting goroutine when the timer is disarmed early.
func (q *Queue) armTimerLocked() {
	q.timerGen++
	gen := q.timerGen
	timer := q.clock.NewTimer(q.cfg.Interval)
	stop := make(chan struct{})
	q.timer = timer
	q.timerStop = stop
	go func() {
		select {
		case <-timer.Chan():
		case <-stop:
			return
		}
		q.mu.Lock()
		if gen != q.timerGen || q.closed {
			q.mu.Unlock()
			return
		}
		batch := q.takeLocked()
		q.mu.Unlock()
		if batch != nil {
			q.flush(batch)
		}
	}()
}

// takeLocked swaps the queue for an empty one and disarms the timer, so no
// entry can be flushed twice.
func (q *Queue) takeLocked() []Entry {
	if len(q.entries) == 0 {
		return nil
	}
	batch := q.entries
	q.entries = nil
	q.stopTimerLocked()
	return batch
}

func (q *Queue) stopTimerLocked() {
	q.timerGen++
	if q.timer == nil {
		return
	}
	if !q.timer.Stop() {
		select {
		case <-q.timer.Chan():
		default:
		}
	}
	close(q.timerStop)
	q.timerStop = nil
	q.timer = nil
}

func (q *Queue) flushIfPending() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	batch := q.takeLocked()
	q.mu.Unlock()
	if batch != nil {
		q.flush(batch)
	}
}

// Flush forces out whatever is pending.
func (q *Queue) Flush() {
	q.flushIfPending()
}

// Len reports the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close flushes pending entries, stops the timer and detaches from the
// signal hub. Further Adds are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	batch := q.entries
	q.entries = nil
	q.stopTimerLocked()
	q.mu.Unlock()

	if q.unsub != nil {
		q.unsub()
	}
	if len(batch) > 0 {
		q.flush(batch)
	}
}
