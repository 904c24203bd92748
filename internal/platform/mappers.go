package platform

import "github.com/cdlhelp/telemetry/internal/event"

// Field-length limits of the GA-style receiver.
const (
	maxParamKeyLen   = 40
	maxParamValueLen = 100
)

// MapForGA truncates parameter keys and string values to the receiver's
// field-length limits. A value under a too-long key moves to the truncated
// key and the original key is dropped.
func MapForGA(e event.Event) map[string]any {
	mapped := make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		if len(k) > maxParamKeyLen {
			k = k[:maxParamKeyLen]
		}
		if s, ok := v.(string); ok && len(s) > maxParamValueLen {
			v = s[:maxParamValueLen]
		}
		mapped[k] = v
	}
	return mapped
}

// MapForPixel adds the pixel receiver's content_type default and forwards
// the event id so the receiver can deduplicate against its server-side twin.
func MapForPixel(e event.Event) map[string]any {
	mapped := make(map[string]any, len(e.Properties)+2)
	for k, v := range e.Properties {
		mapped[k] = v
	}
	if _, ok := mapped["content_type"]; !ok {
		mapped["content_type"] = "website"
	}
	mapped["event_id"] = e.ID
	return mapped
}

// MapPassthrough forwards properties unmodified.
func MapPassthrough(e event.Event) map[string]any {
	mapped := make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		mapped[k] = v
	}
	return mapped
}
