package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Platform tags accepted on the wire. Events carrying anything else are
// rejected before they reach the queue.
const (
	PlatformWebsite = "website"
	PlatformMobile  = "mobile"
	PlatformBackend = "backend"
)

// Identity prefixes shared with the mobile and backend pipelines. A client id
// or session id without its prefix means the identity store was bypassed.
const (
	ClientIDPrefix  = "cdlh_"
	SessionIDPrefix = "sess_"
)

// Event is the canonical, platform-neutral record of a tracked occurrence.
// Immutable once created; mappers derive per-platform shapes from it.
type Event struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"`
	Critical   bool           `json:"critical"`
}

// SuffixFunc produces the random component of an event id. Injectable so
// tests can derive deterministic ids.
type SuffixFunc func() string

// UUIDSuffix is the default id suffix source.
func UUIDSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}

// New builds an Event with an id derived from name, timestamp and a random
// suffix. Properties are copied so later mutation by the caller cannot leak
// into an already-enqueued event.
func New(name string, properties map[string]any, critical bool, now time.Time, suffix SuffixFunc) Event {
	if suffix == nil {
		suffix = UUIDSuffix
	}
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		props[k] = v
	}
	return Event{
		ID:         fmt.Sprintf("%s_%d_%s", name, now.UnixMilli(), suffix()),
		Name:       name,
		Properties: props,
		CreatedAt:  now,
		Critical:   critical,
	}
}

// ValidPlatformTag reports whether tag is one of the cross-platform schema's
// accepted platforms.
func ValidPlatformTag(tag string) bool {
	switch tag {
	case PlatformWebsite, PlatformMobile, PlatformBackend:
		return true
	}
	return false
}

// Validate enforces the cross-platform event schema: name and timestamp are
// required, the platform tag must be known, and the identity pair must carry
// the shared prefixes.
func Validate(e Event, platformTag, clientID, sessionID string) error {
	var problems []string
	if e.Name == "" {
		problems = append(problems, "event name is required")
	}
	if e.CreatedAt.IsZero() {
		problems = append(problems, "timestamp is required")
	}
	if !ValidPlatformTag(platformTag) {
		problems = append(problems, fmt.Sprintf("unknown platform tag %q", platformTag))
	}
	if !strings.HasPrefix(clientID, ClientIDPrefix) {
		problems = append(problems, "client id missing identity prefix")
	}
	if !strings.HasPrefix(sessionID, SessionIDPrefix) {
		problems = append(problems, "session id missing identity prefix")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid event: %s", strings.Join(problems, "; "))
	}
	return nil
}
