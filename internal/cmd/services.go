package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	zlog "github.com/rs/zerolog/log"

	"github.com/cdlhelp/telemetry/internal/analytics"
	"github.com/cdlhelp/telemetry/internal/consent"
	"github.com/cdlhelp/telemetry/internal/device"
	"github.com/cdlhelp/telemetry/internal/identity"
	"github.com/cdlhelp/telemetry/internal/kvstore"
	"github.com/cdlhelp/telemetry/internal/platform"
	"github.com/cdlhelp/telemetry/internal/queue"
	"github.com/cdlhelp/telemetry/internal/signals"
	"github.com/cdlhelp/telemetry/internal/transport"
)

type Services struct {
	Analytics *analytics.Service
	Hub       *signals.Hub
	Consent   *consent.Manager
	Device    *device.Static
	Offline   *transport.OfflineQueue
	Live      *liveFeed

	durable *kvstore.Badger
	relay   *nats.Conn
}

func setupServices(config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Storage layer → identity/consent → transport → platforms → facade

	durable, err := kvstore.OpenBadger(getEnv("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}
	session := kvstore.NewMemory()

	clock := clockwork.NewRealClock()
	hub := signals.NewHub()
	ids := identity.NewStore(durable, session, clock)

	consentMgr := consent.NewManager()
	consentMgr.Set(map[consent.Category]bool{
		consent.Analytics: true,
	})

	devctx := device.NewStatic(
		device.Page{URL: config.Page.URL, Title: config.Page.Title, Referrer: config.Page.Referrer},
		device.Device{Platform: "web", Language: "en-US"},
	)

	builder := transport.NewBuilder(ids, consentMgr, devctx, config.DebugMode)
	offline := transport.NewOfflineQueue(durable)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	chain, err := transport.NewChain(
		config.Endpoint,
		config.ContainerID,
		[]transport.Sender{transport.NewBeacon(httpClient), transport.NewFetch(httpClient)},
		transport.NewPixel(httpClient),
		offline,
		hub,
		clock,
	)
	if err != nil {
		return nil, fmt.Errorf("build delivery chain: %w", err)
	}

	live := newLiveFeed()
	chain.OnDelivered = live.broadcast

	keyEvents := platform.NewKeyEventRegistry(config.AdsID)
	if config.KeyEventsPath != "" {
		data, err := os.ReadFile(config.KeyEventsPath)
		if err != nil {
			return nil, fmt.Errorf("read key events file: %w", err)
		}
		if err := keyEvents.LoadYAML(data); err != nil {
			return nil, fmt.Errorf("load key events: %w", err)
		}
	}

	registry := platform.NewRegistry()

	var relayConn *nats.Conn
	var relayPlatform platform.Platform
	var ads platform.SendFunc
	if config.Relay.URL != "" {
		relayPlatform, relayConn, err = platform.DialRelay(config.Relay.URL, config.Relay.Subject)
		if err != nil {
			return nil, fmt.Errorf("dial relay: %w", err)
		}
		ads = relaySend(relayConn, config.Relay.Subject+".ads")
	}

	fanout := platform.NewFanout(registry, keyEvents, hub, ads)

	loadLite := func() error {
		registry.Register(platform.Platform{
			Name:    "ga",
			Enabled: true,
			Mapper:  platform.MapForGA,
			Send:    logSend("ga"),
		})
		return nil
	}
	loadDeferred := func() error {
		registry.Register(platform.Platform{
			Name:    "pixel",
			Enabled: true,
			Mapper:  platform.MapForPixel,
			Send:    logSend("pixel"),
		})
		if relayConn != nil {
			registry.Register(relayPlatform)
		}
		return nil
	}

	svc := analytics.NewService(
		analytics.Config{
			Queue:     queue.DefaultConfig(),
			DebugMode: config.DebugMode,
		},
		analytics.Deps{
			Clock:        clock,
			Hub:          hub,
			Identity:     ids,
			Device:       devctx,
			Registry:     registry,
			Fanout:       fanout,
			Builder:      builder,
			Chain:        chain,
			LoadLite:     loadLite,
			LoadDeferred: loadDeferred,
		},
	)

	if err := svc.Init(); err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	return &Services{
		Analytics: svc,
		Hub:       hub,
		Consent:   consentMgr,
		Device:    devctx,
		Offline:   offline,
		Live:      live,
		durable:   durable,
		relay:     relayConn,
	}, nil
}

func (s *Services) Close() {
	s.Analytics.Destroy()
	if s.relay != nil {
		s.relay.Close()
	}
	if err := s.durable.Close(); err != nil {
		zlog.Warn().Err(err).Msg("durable store close failed")
	}
}

// logSend stands in for platforms whose real destination lives in the host
// page; the daemon records the mapped call for inspection.
func logSend(name string) platform.SendFunc {
	return func(eventName string, params map[string]any) error {
		zlog.Info().
			Str("platform", name).
			Str("event", eventName).
			Interface("params", params).
			Msg("platform call")
		return nil
	}
}

// relaySend publishes synthetic conversion calls on their own subject.
func relaySend(nc *nats.Conn, subject string) platform.SendFunc {
	relay := platform.NewRelay(nc, subject)
	return relay.Send
}
