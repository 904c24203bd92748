// Package analytics is the pipeline facade: it captures events, walks the
// staged activation state machine, and hands flushed batches to the platform
// fan-out and the delivery chain.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/cdlhelp/telemetry/internal/device"
	"github.com/cdlhelp/telemetry/internal/event"
	"github.com/cdlhelp/telemetry/internal/identity"
	"github.com/cdlhelp/telemetry/internal/platform"
	"github.com/cdlhelp/telemetry/internal/queue"
	"github.com/cdlhelp/telemetry/internal/signals"
	"github.com/cdlhelp/telemetry/internal/transport"
)

// DefaultActivationFallback is how long the pipeline waits for the first
// interaction before activating the deferred platforms anyway.
const DefaultActivationFallback = 5 * time.Second

// Config tunes the facade. Zero values fall back to the defaults.
type Config struct {
	PlatformTag        string
	Queue              queue.Config
	ActivationFallback time.Duration
	DedupCap           int
	DebugMode          bool
}

func (c Config) withDefaults() Config {
	if c.PlatformTag == "" {
		c.PlatformTag = event.PlatformWebsite
	}
	if c.ActivationFallback <= 0 {
		c.ActivationFallback = DefaultActivationFallback
	}
	return c
}

// Deps are the collaborators the facade drives. LoadLite and LoadDeferred
// register platforms on the shared registry; either may be nil.
type Deps struct {
	Clock        clockwork.Clock
	Hub          *signals.Hub
	Identity     *identity.Store
	Device       device.ContextProvider
	Registry     *platform.Registry
	Fanout       *platform.Fanout
	Builder      *transport.Builder
	Chain        *transport.Chain
	LoadLite     func() error
	LoadDeferred func() error
	Suffix       event.SuffixFunc
}

// TrackOptions adjusts a single capture call.
type TrackOptions struct {
	// Critical bypasses batching: the event flushes alone, immediately.
	Critical bool
	// AllowDuplicates skips the sent-id check.
	AllowDuplicates bool
}

// Status is the introspection snapshot returned by GetStatus.
type Status struct {
	Initialized   bool     `json:"initialized"`
	Stage         string   `json:"stage"`
	QueueSize     int      `json:"queue_size"`
	Platforms     []string `json:"platforms"`
	SentEvents    int      `json:"sent_events"`
	OfflineQueued int      `json:"offline_queued"`
	DebugMode     bool     `json:"debug_mode"`
}

// Service is the public face of the pipeline.
type Service struct {
	cfg   Config
	deps  Deps
	queue *queue.Queue
	dedup *queue.Dedup

	mu                sync.Mutex
	stage             Stage
	ready             []func()
	cancelInteraction func()
	fallbackTimer     clockwork.Timer
	fallbackStop      chan struct{}
	fallbackGen       int
	closed            bool
	sent              int

	wg sync.WaitGroup
}

// NewService wires the facade. The queue is created here so its flush path
// lands on this service's fan-out and delivery chain.
func NewService(cfg Config, deps Deps) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:   cfg,
		deps:  deps,
		dedup: queue.NewDedup(cfg.DedupCap),
		stage: StageInitial,
	}
	s.queue = queue.New(cfg.Queue, deps.Clock, deps.Hub, s.handleFlush)
	return s
}

// Init walks the activation stages up to critical-ready, emits the immediate
// page view, replays any offline backlog, and arms the deferred activation
// trigger (first interaction, or the fallback timeout). Idempotent.
func (s *Service) Init() error {
	s.mu.Lock()
	if s.closed || s.stage != StageInitial {
		s.mu.Unlock()
		return nil
	}
	s.stage = StageCritical
	s.mu.Unlock()

	if s.deps.LoadLite != nil {
		if err := s.deps.LoadLite(); err != nil {
			log.Warn().Err(err).Msg("lite platform load failed")
		}
	}

	s.mu.Lock()
	s.stage = StageCriticalReady
	s.mu.Unlock()

	s.PageView("")

	if s.deps.Chain != nil {
		if err := s.deps.Chain.Replay(context.Background()); err != nil {
			log.Warn().Err(err).Msg("offline replay on init failed")
		}
	}

	s.armActivation()
	return nil
}

// armActivation races the first interaction against the fallback timer;
// whichever fires first activates the deferred platforms exactly once.
func (s *Service) armActivation() {
	s.mu.Lock()
	s.fallbackGen++
	gen := s.fallbackGen
	s.mu.Unlock()

	fire := func() { s.activateDeferred(gen) }

	timer := s.deps.Clock.NewTimer(s.cfg.ActivationFallback)
	stop := make(chan struct{})
	s.mu.Lock()
	s.fallbackTimer = timer
	s.fallbackStop = stop
	if s.deps.Hub != nil {
		s.cancelInteraction = s.deps.Hub.Once(signals.Interaction, fire)
	}
	s.mu.Unlock()

	go func() {
		select {
		case <-timer.Chan():
			fire()
		case <-stop:
		}
	}()
}

// stopFallbackLocked disarms the activation fallback timer, draining a fire
// that already landed in the channel and releasing the waiting goroutine.
func (s *Service) stopFallbackLocked() {
	if s.fallbackTimer == nil {
		return
	}
	if !s.fallbackTimer.Stop() {
		select {
		case <-s.fallbackTimer.Chan():
		default:
		}
	}
	close(s.fallbackStop)
	s.fallbackStop = nil
	s.fallbackTimer = nil
}

func (s *Service) activateDeferred(gen int) {
	s.mu.Lock()
	if s.closed || gen != s.fallbackGen || s.stage >= StageDeferred {
		s.mu.Unlock()
		return
	}
	s.fallbackGen++
	s.stage = StageDeferred
	s.stopFallbackLocked()
	cancel := s.cancelInteraction
	s.cancelInteraction = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.deps.LoadDeferred != nil {
		if err := s.deps.LoadDeferred(); err != nil {
			log.Warn().Err(err).Msg("deferred platform load failed")
		}
	}

	s.mu.Lock()
	s.stage = StageComplete
	ready := s.ready
	s.ready = nil
	s.mu.Unlock()

	log.Info().Msg("pipeline activation complete")
	for _, fn := range ready {
		fn()
	}
}

// Track captures one event. Calls before Init or after Destroy are dropped
// silently.
func (s *Service) Track(name string, properties map[string]any, opts TrackOptions) {
	s.mu.Lock()
	if s.closed || s.stage == StageInitial {
		s.mu.Unlock()
		log.Debug().Str("event", name).Msg("capture dropped, pipeline not active")
		return
	}
	s.mu.Unlock()

	idctx, err := s.deps.Identity.Context()
	if err != nil {
		log.Warn().Err(err).Str("event", name).Msg("identity lookup failed, event dropped")
		return
	}

	e := event.New(name, properties, opts.Critical, s.deps.Clock.Now(), s.deps.Suffix)
	if err := event.Validate(e, s.cfg.PlatformTag, idctx.ClientID, idctx.SessionID); err != nil {
		log.Warn().Err(err).Str("event", name).Msg("event rejected")
		return
	}
	if !opts.AllowDuplicates && s.dedup.Seen(e.ID) {
		log.Debug().Str("event_id", e.ID).Msg("duplicate event dropped")
		return
	}

	page := s.deps.Device.Page()
	if page.URL != "" {
		if err := s.deps.Identity.Touch(page.URL, page.Referrer); err != nil {
			log.Warn().Err(err).Msg("attribution touch failed")
		}
	}

	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	s.queue.Add(e)
}

// PageView captures a page view as a critical event, populating the standard
// page and device keys and recording the URL for attribution.
func (s *Service) PageView(rawURL string) {
	page := s.deps.Device.Page()
	if rawURL == "" {
		rawURL = page.URL
	}
	props := map[string]any{}
	if rawURL != "" {
		props["page_location"] = rawURL
		if err := s.deps.Identity.Touch(rawURL, page.Referrer); err != nil {
			log.Warn().Err(err).Msg("attribution touch failed")
		}
	}
	if page.Title != "" {
		props["page_title"] = page.Title
	}
	if ua := s.deps.Device.Device().UserAgent; ua != "" {
		props["device_class"] = device.Class(ua)
	}
	s.Track("page_view", props, TrackOptions{Critical: true})
}

// Identify records the signed-in user. Raw email and phone values are hashed
// by the identity store and never forwarded as event properties.
func (s *Service) Identify(userID string, properties map[string]any) {
	email, _ := properties["email"].(string)
	phone, _ := properties["phone"].(string)
	if err := s.deps.Identity.SetUser(userID, email, phone); err != nil {
		log.Warn().Err(err).Msg("identify failed")
		return
	}
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		if k == "email" || k == "phone" {
			continue
		}
		props[k] = v
	}
	props["user_id"] = userID
	s.Track("identify", props, TrackOptions{Critical: true})
}

// DownloadIntent captures an app-store outclick as a critical conversion
// event.
func (s *Service) DownloadIntent(appPlatform, source string) {
	s.Track("download_intent", map[string]any{
		"platform": appPlatform,
		"source":   source,
	}, TrackOptions{Critical: true})
}

// WhenReady runs fn once activation completes, immediately if it already has.
func (s *Service) WhenReady(fn func()) {
	s.mu.Lock()
	if s.stage == StageComplete {
		s.mu.Unlock()
		fn()
		return
	}
	s.ready = append(s.ready, fn)
	s.mu.Unlock()
}

// Stage reports the current activation stage.
func (s *Service) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// GetStatus returns the introspection snapshot.
func (s *Service) GetStatus() Status {
	s.mu.Lock()
	stage := s.stage
	sent := s.sent
	s.mu.Unlock()

	st := Status{
		Initialized: stage != StageInitial,
		Stage:       stage.String(),
		QueueSize:   s.queue.Len(),
		SentEvents:  sent,
		DebugMode:   s.cfg.DebugMode,
	}
	if s.deps.Registry != nil {
		st.Platforms = s.deps.Registry.Names()
	}
	return st
}

// Flush forces out whatever the queue is holding.
func (s *Service) Flush() {
	s.queue.Flush()
}

// Destroy flushes the queue, waits for in-flight deliveries, and detaches
// from the signal hub. The service drops all calls afterwards.
func (s *Service) Destroy() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.fallbackGen++
	s.stopFallbackLocked()
	cancel := s.cancelInteraction
	s.cancelInteraction = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.queue.Close()
	s.wg.Wait()
	if s.deps.Chain != nil {
		s.deps.Chain.Close()
	}
	if s.deps.Registry != nil {
		s.deps.Registry.Clear()
	}
}

// handleFlush is the queue's flush sink: fan the batch out to the platforms,
// then build and deliver one payload per event. Runs async so a slow
// endpoint never blocks capture.
func (s *Service) handleFlush(batch []queue.Entry) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.deps.Fanout != nil {
			var sentTo []string
			if s.deps.Registry != nil {
				sentTo = s.deps.Registry.Names()
			}
			s.deps.Fanout.Dispatch(batch)
			s.queueRedispatch(batch, sentTo)
		}
		if s.deps.Builder == nil || s.deps.Chain == nil {
			return
		}
		for _, entry := range batch {
			p, err := s.deps.Builder.Build(entry.Event)
			if err != nil {
				log.Warn().Err(err).Str("event", entry.Event.Name).Msg("payload build failed")
				continue
			}
			if err := s.deps.Chain.Deliver(context.Background(), p); err != nil {
				log.Warn().Err(err).Str("event", entry.Event.Name).Msg("payload delivery failed")
			}
		}
	}()
}

// queueRedispatch arranges for a batch flushed before activation completed to
// reach the platforms registered afterwards. Events are never dropped by the
// staged activation; only their enrichment is delayed.
func (s *Service) queueRedispatch(batch []queue.Entry, sentTo []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage == StageComplete || s.closed {
		return
	}
	s.ready = append(s.ready, func() {
		s.deps.Fanout.Redispatch(batch, sentTo)
	})
}
