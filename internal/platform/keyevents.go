package platform

import (
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// KeyEvent marks an event as a conversion candidate. Events with ImportToAds
// set additionally produce a synthetic conversion call toward the ads
// destination after the primary send.
type KeyEvent struct {
	Name        string         `yaml:"name"`
	Category    string         `yaml:"category"`
	Value       float64        `yaml:"value"`
	ImportToAds bool           `yaml:"import_to_ads"`
	Parameters  map[string]any `yaml:"parameters"`
}

// KeyEventRegistry maps internal event names to their conversion
// configuration and the ads destination's conversion-action identifiers.
type KeyEventRegistry struct {
	adsID       string
	events      map[string]KeyEvent
	conversions map[string]string
}

// defaultKeyEvents is the shipped registry. Purchase stays out of the ads
// import because it is tracked through enhanced conversions, and view_item
// fires too often to be a key event.
func defaultKeyEvents() map[string]KeyEvent {
	return map[string]KeyEvent{
		"trial_started": {
			Name: "trial_started", Category: "engagement", ImportToAds: true,
			Parameters: map[string]any{"trial_type": nil, "trial_days": nil},
		},
		"sign_up": {
			Name: "sign_up", Category: "engagement", ImportToAds: true,
			Parameters: map[string]any{"method": "email"},
		},
		"add_to_cart": {
			Name: "add_to_cart", Category: "ecommerce", ImportToAds: true,
			Parameters: map[string]any{"currency": "USD"},
		},
		"begin_checkout": {
			Name: "begin_checkout", Category: "ecommerce", ImportToAds: true,
			Parameters: map[string]any{"currency": "USD"},
		},
		"purchase": {
			Name: "purchase", Category: "ecommerce", ImportToAds: false,
			Parameters: map[string]any{"currency": "USD"},
		},
		"quiz_completed": {
			Name: "quiz_completed", Category: "engagement", ImportToAds: true,
			Parameters: map[string]any{"quiz_type": nil, "score": nil, "passed": nil},
		},
		"first_quiz_passed": {
			Name: "first_quiz_passed", Category: "engagement", ImportToAds: true,
			Parameters: map[string]any{"quiz_type": nil, "score": nil},
		},
		"app_tutorial_complete": {
			Name: "tutorial_complete", Category: "engagement", ImportToAds: true,
		},
		"generate_lead": {
			Name: "generate_lead", Category: "engagement", ImportToAds: true,
			Parameters: map[string]any{"lead_source": nil},
		},
		"view_item": {
			Name: "view_item", Category: "engagement", ImportToAds: false,
		},
		"engaged_session": {
			Name: "user_engagement", Category: "engagement", ImportToAds: false,
		},
	}
}

// defaultConversionActions maps internal event names to the ads platform's
// conversion-action identifiers.
func defaultConversionActions() map[string]string {
	return map[string]string{
		"trial_started":     "start_trial",
		"sign_up":           "sign_up",
		"add_to_cart":       "add_to_cart",
		"begin_checkout":    "begin_checkout",
		"quiz_completed":    "complete_registration",
		"first_quiz_passed": "submit_lead_form",
		"tutorial_complete": "complete_registration",
		"generate_lead":     "submit_lead_form",
	}
}

// NewKeyEventRegistry builds the registry with the shipped tables. adsID is
// the destination account identifier prefixed onto conversion actions.
func NewKeyEventRegistry(adsID string) *KeyEventRegistry {
	return &KeyEventRegistry{
		adsID:       adsID,
		events:      defaultKeyEvents(),
		conversions: defaultConversionActions(),
	}
}

type keyEventOverrides struct {
	KeyEvents         []KeyEvent        `yaml:"key_events"`
	ConversionActions map[string]string `yaml:"conversion_actions"`
}

// LoadYAML merges registry overrides from a config document on top of the
// shipped tables.
func (r *KeyEventRegistry) LoadYAML(data []byte) error {
	var ov keyEventOverrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("parse key event overrides: %w", err)
	}
	for _, ke := range ov.KeyEvents {
		if ke.Name == "" {
			return fmt.Errorf("key event override missing name")
		}
		r.events[ke.Name] = ke
	}
	for name, action := range ov.ConversionActions {
		r.conversions[name] = action
	}
	return nil
}

// Lookup returns the key event configuration for an internal event name.
func (r *KeyEventRegistry) Lookup(name string) (KeyEvent, bool) {
	ke, ok := r.events[name]
	return ke, ok
}

// ConversionParams builds the synthetic conversion call for an ads-imported
// key event. The transaction id is generated when the caller did not supply
// one. Returns false when the event is not imported or has no mapped action.
func (r *KeyEventRegistry) ConversionParams(name string, params map[string]any) (map[string]any, bool) {
	ke, ok := r.events[name]
	if !ok || !ke.ImportToAds {
		return nil, false
	}
	action, ok := r.conversions[ke.Name]
	if !ok {
		return nil, false
	}

	value := any(ke.Value)
	if v, ok := params["value"]; ok {
		value = v
	}
	currency := any("USD")
	if c, ok := params["currency"]; ok {
		currency = c
	}
	txID := any(uuid.NewString())
	if id, ok := params["transaction_id"]; ok && id != nil && id != "" {
		txID = id
	}
	return map[string]any{
		"send_to":        fmt.Sprintf("%s/%s", r.adsID, action),
		"value":          value,
		"currency":       currency,
		"transaction_id": txID,
	}, true
}
