package platform

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/cdlhelp/telemetry/internal/queue"
	"github.com/cdlhelp/telemetry/internal/signals"
)

// Fanout delivers flushed batches to every enabled platform. Platforms run
// concurrently with all-settled semantics: one platform failing or stalling
// never blocks another, and there is no ordering guarantee across platforms.
// Within one platform, events keep their insertion order.
type Fanout struct {
	registry  *Registry
	keyEvents *KeyEventRegistry
	hub       *signals.Hub
	ads       SendFunc
}

// NewFanout wires the fan-out. ads is the destination for synthetic
// conversion calls; nil disables the ads import.
func NewFanout(registry *Registry, keyEvents *KeyEventRegistry, hub *signals.Hub, ads SendFunc) *Fanout {
	return &Fanout{registry: registry, keyEvents: keyEvents, hub: hub, ads: ads}
}

// Dispatch sends one batch to all enabled platforms and waits for every
// platform to settle. Synthetic conversions go out only after the primary
// sends have settled.
func (f *Fanout) Dispatch(batch []queue.Entry) {
	if len(batch) == 0 {
		return
	}
	platforms := f.registry.enabled()

	var wg sync.WaitGroup
	for _, p := range platforms {
		wg.Add(1)
		go func(p Platform) {
			defer wg.Done()
			f.sendToPlatform(p, batch)
		}(p)
	}
	wg.Wait()

	if f.ads != nil && f.keyEvents != nil {
		f.sendConversions(batch)
	}
}

// Redispatch sends a batch to the enabled platforms that were not yet
// registered when it was first dispatched, identified by the names registered
// back then. Conversions are not re-emitted.
func (f *Fanout) Redispatch(batch []queue.Entry, alreadySent []string) {
	if len(batch) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(alreadySent))
	for _, name := range alreadySent {
		seen[name] = struct{}{}
	}

	var wg sync.WaitGroup
	for _, p := range f.registry.enabled() {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		wg.Add(1)
		go func(p Platform) {
			defer wg.Done()
			f.sendToPlatform(p, batch)
		}(p)
	}
	wg.Wait()
}

func (f *Fanout) sendToPlatform(p Platform, batch []queue.Entry) {
	for _, entry := range batch {
		e := entry.Event
		// Backgrounded tabs skip non-critical sends; the event stays
		// recorded as sent so it is not re-captured later.
		if f.hub != nil && !f.hub.Visible() && !e.Critical {
			continue
		}
		mapper := p.Mapper
		if mapper == nil {
			mapper = MapPassthrough
		}
		if err := p.Send(e.Name, mapper(e)); err != nil {
			log.Warn().Err(err).
				Str("platform", p.Name).
				Str("event", e.Name).
				Msg("platform send failed")
		}
	}
}

// sendConversions emits at most one synthetic conversion call per ads-imported
// key event in the batch.
func (f *Fanout) sendConversions(batch []queue.Entry) {
	for _, entry := range batch {
		e := entry.Event
		if f.hub != nil && !f.hub.Visible() && !e.Critical {
			continue
		}
		params, ok := f.keyEvents.ConversionParams(e.Name, e.Properties)
		if !ok {
			continue
		}
		if err := f.ads("conversion", params); err != nil {
			log.Warn().Err(err).
				Str("event", e.Name).
				Msg("ads conversion send failed")
		}
	}
}
