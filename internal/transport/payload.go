// Package transport builds the outbound wire payload and delivers it through
// a fallback chain of send mechanisms, parking payloads in a durable offline
// queue whenever the runtime has no connectivity.
package transport

import (
	"fmt"

	"github.com/cdlhelp/telemetry/internal/consent"
	"github.com/cdlhelp/telemetry/internal/device"
	"github.com/cdlhelp/telemetry/internal/event"
	"github.com/cdlhelp/telemetry/internal/identity"
)

// Payload is the flat object shipped to the server container endpoint.
type Payload struct {
	Event          string               `json:"event"`
	EventTimestamp int64                `json:"event_timestamp"`
	EventID        string               `json:"event_id"`
	ClientID       string               `json:"client_id"`
	SessionID      string               `json:"session_id"`
	PageLocation   string               `json:"page_location"`
	PageTitle      string               `json:"page_title"`
	PageReferrer   string               `json:"page_referrer"`
	UserData       identity.UserData    `json:"user_data"`
	Device         device.Device        `json:"device"`
	CustomData     map[string]any       `json:"custom_data"`
	ConsentState   consent.Snapshot     `json:"consent_state"`
	Attribution    identity.Attribution `json:"attribution"`
	AdClickID      string               `json:"ad_click_id,omitempty"`
	SocialClickID  string               `json:"social_click_id,omitempty"`
	Queued         bool                 `json:"queued,omitempty"`
	DebugMode      bool                 `json:"debug_mode"`
}

// ConsentSource supplies the consent snapshot stamped into each payload at
// send time.
type ConsentSource interface {
	Snapshot() consent.Snapshot
}

// Builder assembles payloads from the identity store, the consent
// collaborator and the device context.
type Builder struct {
	identity *identity.Store
	consent  ConsentSource
	device   device.ContextProvider
	debug    bool
}

func NewBuilder(ids *identity.Store, cs ConsentSource, dev device.ContextProvider, debug bool) *Builder {
	return &Builder{identity: ids, consent: cs, device: dev, debug: debug}
}

// Build assembles the payload for one canonical event. Consent is re-read
// here so the snapshot reflects the state at send time, not capture time.
func (b *Builder) Build(e event.Event) (Payload, error) {
	idctx, err := b.identity.Context()
	if err != nil {
		return Payload{}, fmt.Errorf("identity context: %w", err)
	}
	attr, err := b.identity.Attribution()
	if err != nil {
		return Payload{}, fmt.Errorf("attribution: %w", err)
	}
	clicks, err := b.identity.ClickIDs()
	if err != nil {
		return Payload{}, fmt.Errorf("click ids: %w", err)
	}
	user, err := b.identity.User()
	if err != nil {
		return Payload{}, fmt.Errorf("user data: %w", err)
	}
	page := b.device.Page()

	return Payload{
		Event:          e.Name,
		EventTimestamp: e.CreatedAt.UnixMilli(),
		EventID:        e.ID,
		ClientID:       idctx.ClientID,
		SessionID:      idctx.SessionID,
		PageLocation:   page.URL,
		PageTitle:      page.Title,
		PageReferrer:   page.Referrer,
		UserData:       user,
		Device:         b.device.Device(),
		CustomData:     e.Properties,
		ConsentState:   b.consent.Snapshot(),
		Attribution:    attr,
		AdClickID:      clicks.AdClickID(),
		SocialClickID:  clicks.SocialClickID(),
		DebugMode:      b.debug,
	}, nil
}
