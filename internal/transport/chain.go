package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/cdlhelp/telemetry/internal/signals"
)

// Chain drives delivery through an ordered list of primary senders with one
// last-resort sender behind them. A primary returning ErrUnsupported is
// skipped silently; a primary failing for real still counts as an attempt,
// and exhausting the primaries after a real attempt parks the payload in the
// offline queue instead of trying the last resort.
type Chain struct {
	endpoint   string
	primaries  []Sender
	lastResort Sender
	offline    *OfflineQueue
	hub        *signals.Hub
	clock      clockwork.Clock

	// OnDelivered, when set, observes every successfully shipped payload.
	// Used by the debug live feed; must not block.
	OnDelivered func(p Payload)

	unsubscribe func()
}

// NewChain builds the delivery chain. endpoint is normalized to https and
// stamped with the container id; the Online signal triggers a replay of the
// offline queue.
func NewChain(endpoint, containerID string, primaries []Sender, lastResort Sender, offline *OfflineQueue, hub *signals.Hub, clock clockwork.Clock) (*Chain, error) {
	normalized, err := normalizeEndpoint(endpoint, containerID)
	if err != nil {
		return nil, err
	}
	c := &Chain{
		endpoint:   normalized,
		primaries:  primaries,
		lastResort: lastResort,
		offline:    offline,
		hub:        hub,
		clock:      clock,
	}
	if hub != nil {
		c.unsubscribe = hub.Subscribe(signals.Online, func() {
			if err := c.Replay(context.Background()); err != nil {
				log.Warn().Err(err).Msg("offline replay failed")
			}
		})
	}
	return c, nil
}

// Close detaches the chain from the signal hub.
func (c *Chain) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// Deliver ships one payload, falling through the sender chain. Offline
// runtimes and exhausted chains park the payload in the offline queue; the
// returned error reports only broken plumbing, never a parked payload.
func (c *Chain) Deliver(ctx context.Context, p Payload) error {
	if c.hub != nil && !c.hub.Online() {
		return c.park(p, "offline")
	}

	attempted := false
	for _, s := range c.primaries {
		err := s.Send(ctx, c.endpoint, p)
		if err == nil {
			c.delivered(s, p)
			return nil
		}
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		attempted = true
		log.Warn().Err(err).
			Str("sender", s.Name()).
			Str("event", p.Event).
			Msg("send attempt failed")
	}

	if !attempted && c.lastResort != nil {
		err := c.lastResort.Send(ctx, c.endpoint, p)
		if err == nil {
			c.delivered(c.lastResort, p)
			return nil
		}
		if !errors.Is(err, ErrUnsupported) {
			log.Warn().Err(err).
				Str("sender", c.lastResort.Name()).
				Str("event", p.Event).
				Msg("last-resort send failed")
		}
	}

	return c.park(p, "delivery failed")
}

// Replay drains the offline queue and re-delivers each payload with a
// refreshed timestamp and the queued marker set.
func (c *Chain) Replay(ctx context.Context) error {
	if c.offline == nil {
		return nil
	}
	queued, err := c.offline.Drain()
	if err != nil {
		return fmt.Errorf("drain offline queue: %w", err)
	}
	if len(queued) == 0 {
		return nil
	}
	log.Info().Int("count", len(queued)).Msg("replaying offline payloads")
	for _, p := range queued {
		p.EventTimestamp = c.clock.Now().UnixMilli()
		p.Queued = true
		// The drain already cleared the store, so one broken payload must
		// not abandon the rest of the backlog.
		if err := c.Deliver(ctx, p); err != nil {
			log.Warn().Err(err).Str("event", p.Event).Msg("replay delivery failed")
		}
	}
	return nil
}

func (c *Chain) delivered(s Sender, p Payload) {
	log.Debug().
		Str("sender", s.Name()).
		Str("event", p.Event).
		Str("event_id", p.EventID).
		Msg("payload delivered")
	if c.OnDelivered != nil {
		c.OnDelivered(p)
	}
}

func (c *Chain) park(p Payload, reason string) error {
	if c.offline == nil {
		return fmt.Errorf("drop payload %q: %s and no offline queue", p.Event, reason)
	}
	if err := c.offline.Enqueue(p); err != nil {
		return fmt.Errorf("park payload: %w", err)
	}
	log.Debug().Str("event", p.Event).Str("reason", reason).Msg("payload parked offline")
	return nil
}

// normalizeEndpoint upgrades the scheme to https and appends the container
// id parameter when one is configured.
func normalizeEndpoint(endpoint, containerID string) (string, error) {
	if endpoint == "" {
		return "", errors.New("endpoint required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	if containerID != "" {
		q := u.Query()
		q.Set("container_id", containerID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
