package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdlhelp/telemetry/internal/kvstore"
	"github.com/cdlhelp/telemetry/internal/signals"
)

type fakeSender struct {
	mu    sync.Mutex
	name  string
	err   error
	calls []Payload
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(ctx context.Context, endpoint string, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return f.err
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSender) last() Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestChain(t *testing.T, primaries []Sender, lastResort Sender, hub *signals.Hub, clock clockwork.Clock) (*Chain, *OfflineQueue) {
	t.Helper()
	offline := NewOfflineQueue(kvstore.NewMemory())
	chain, err := NewChain("https://collect.example.com/c", "CT-1", primaries, lastResort, offline, hub, clock)
	require.NoError(t, err)
	t.Cleanup(chain.Close)
	return chain, offline
}

func TestDeliverFirstSenderWins(t *testing.T) {
	beacon := &fakeSender{name: "beacon"}
	fetch := &fakeSender{name: "fetch"}
	chain, offline := newTestChain(t, []Sender{beacon, fetch}, nil, signals.NewHub(), clockwork.NewFakeClock())

	var delivered []Payload
	chain.OnDelivered = func(p Payload) { delivered = append(delivered, p) }

	require.NoError(t, chain.Deliver(context.Background(), Payload{Event: "page_view"}))
	assert.Equal(t, 1, beacon.count())
	assert.Equal(t, 0, fetch.count())
	assert.Len(t, delivered, 1)
	n, _ := offline.Len()
	assert.Equal(t, 0, n)
}

func TestDeliverFallsThroughToNextSender(t *testing.T) {
	beacon := &fakeSender{name: "beacon", err: errors.New("blocked")}
	fetch := &fakeSender{name: "fetch"}
	chain, offline := newTestChain(t, []Sender{beacon, fetch}, nil, signals.NewHub(), clockwork.NewFakeClock())

	require.NoError(t, chain.Deliver(context.Background(), Payload{Event: "page_view"}))
	assert.Equal(t, 1, beacon.count())
	assert.Equal(t, 1, fetch.count())
	n, _ := offline.Len()
	assert.Equal(t, 0, n)
}

func TestDeliverRealFailuresParkInsteadOfPixel(t *testing.T) {
	beacon := &fakeSender{name: "beacon", err: errors.New("blocked")}
	fetch := &fakeSender{name: "fetch", err: errors.New("500")}
	pixel := &fakeSender{name: "pixel"}
	chain, offline := newTestChain(t, []Sender{beacon, fetch}, pixel, signals.NewHub(), clockwork.NewFakeClock())

	require.NoError(t, chain.Deliver(context.Background(), Payload{Event: "page_view"}))
	assert.Equal(t, 0, pixel.count())
	n, _ := offline.Len()
	assert.Equal(t, 1, n)
}

func TestDeliverUsesPixelWhenPrimariesUnsupported(t *testing.T) {
	beacon := &fakeSender{name: "beacon", err: ErrUnsupported}
	fetch := &fakeSender{name: "fetch", err: ErrUnsupported}
	pixel := &fakeSender{name: "pixel"}
	chain, offline := newTestChain(t, []Sender{beacon, fetch}, pixel, signals.NewHub(), clockwork.NewFakeClock())

	require.NoError(t, chain.Deliver(context.Background(), Payload{Event: "page_view"}))
	assert.Equal(t, 1, pixel.count())
	n, _ := offline.Len()
	assert.Equal(t, 0, n)
}

func TestDeliverPixelFailureParksOffline(t *testing.T) {
	beacon := &fakeSender{name: "beacon", err: ErrUnsupported}
	pixel := &fakeSender{name: "pixel", err: errors.New("img failed")}
	chain, offline := newTestChain(t, []Sender{beacon}, pixel, signals.NewHub(), clockwork.NewFakeClock())

	require.NoError(t, chain.Deliver(context.Background(), Payload{Event: "page_view"}))
	n, _ := offline.Len()
	assert.Equal(t, 1, n)
}

func TestDeliverOfflineParksWithoutSending(t *testing.T) {
	beacon := &fakeSender{name: "beacon"}
	hub := signals.NewHub()
	hub.Notify(signals.Offline)
	chain, offline := newTestChain(t, []Sender{beacon}, nil, hub, clockwork.NewFakeClock())

	require.NoError(t, chain.Deliver(context.Background(), Payload{Event: "page_view"}))
	assert.Equal(t, 0, beacon.count())
	n, _ := offline.Len()
	assert.Equal(t, 1, n)
}

func TestOnlineSignalReplaysQueuedPayloads(t *testing.T) {
	beacon := &fakeSender{name: "beacon"}
	hub := signals.NewHub()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1700000500000))
	hub.Notify(signals.Offline)
	chain, offline := newTestChain(t, []Sender{beacon}, nil, hub, clock)

	require.NoError(t, chain.Deliver(context.Background(), Payload{Event: "page_view", EventTimestamp: 1700000000000}))
	n, _ := offline.Len()
	require.Equal(t, 1, n)

	hub.Notify(signals.Online)

	require.Equal(t, 1, beacon.count())
	replayed := beacon.last()
	assert.True(t, replayed.Queued)
	assert.Equal(t, int64(1700000500000), replayed.EventTimestamp)
	n, _ = offline.Len()
	assert.Equal(t, 0, n)
}

type failOnceSender struct {
	fakeSender
	failed bool
}

func (f *failOnceSender) Send(ctx context.Context, endpoint string, p Payload) error {
	if !f.failed {
		f.failed = true
		f.fakeSender.Send(ctx, endpoint, p)
		return errors.New("transient")
	}
	return f.fakeSender.Send(ctx, endpoint, p)
}

// brittleStore accepts a fixed number of writes and then fails every Set.
type brittleStore struct {
	kvstore.Store
	writesLeft int
}

func (s *brittleStore) Set(key string, value []byte) error {
	if s.writesLeft <= 0 {
		return errors.New("store full")
	}
	s.writesLeft--
	return s.Store.Set(key, value)
}

func TestReplayContinuesPastFailedDelivery(t *testing.T) {
	beacon := &failOnceSender{fakeSender: fakeSender{name: "beacon"}}
	// Two writes park the payloads; the re-park of the failed first replay
	// then has nowhere to go and surfaces a Deliver error mid-replay.
	store := &brittleStore{Store: kvstore.NewMemory(), writesLeft: 2}
	offline := NewOfflineQueue(store)
	chain, err := NewChain("https://collect.example.com/c", "CT-1", []Sender{beacon}, nil, offline, nil, clockwork.NewFakeClock())
	require.NoError(t, err)
	t.Cleanup(chain.Close)

	require.NoError(t, offline.Enqueue(Payload{Event: "a"}))
	require.NoError(t, offline.Enqueue(Payload{Event: "b"}))

	require.NoError(t, chain.Replay(context.Background()))

	// Both payloads were attempted even though the first one errored.
	require.Equal(t, 2, beacon.count())
	assert.Equal(t, "b", beacon.last().Event)
	assert.True(t, beacon.last().Queued)
}

func TestOfflineQueueEvictsOldestAtCap(t *testing.T) {
	offline := NewOfflineQueue(kvstore.NewMemory())
	for i := 0; i < maxOfflinePayloads+1; i++ {
		require.NoError(t, offline.Enqueue(Payload{EventID: string(rune('A' + i%26))}))
	}
	n, err := offline.Len()
	require.NoError(t, err)
	assert.Equal(t, maxOfflinePayloads, n)
}

func TestOfflineQueueDrainsInOrder(t *testing.T) {
	offline := NewOfflineQueue(kvstore.NewMemory())
	require.NoError(t, offline.Enqueue(Payload{Event: "a"}))
	require.NoError(t, offline.Enqueue(Payload{Event: "b"}))

	drained, err := offline.Drain()
	require.NoError(t, err)
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].Event)
	assert.Equal(t, "b", drained[1].Event)

	again, err := offline.Drain()
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestNormalizeEndpoint(t *testing.T) {
	got, err := normalizeEndpoint("http://collect.example.com/c", "CT-1")
	require.NoError(t, err)
	assert.Equal(t, "https://collect.example.com/c?container_id=CT-1", got)

	got, err = normalizeEndpoint("collect.example.com/c", "")
	require.NoError(t, err)
	assert.Equal(t, "https://collect.example.com/c", got)

	_, err = normalizeEndpoint("", "")
	assert.Error(t, err)
}
