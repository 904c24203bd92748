package platform

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdlhelp/telemetry/internal/event"
)

func TestMapForGATruncatesKeys(t *testing.T) {
	longKey := strings.Repeat("k", 50)
	e := event.New("test", map[string]any{longKey: "v"}, false, time.Now(), nil)

	mapped := MapForGA(e)
	require.Len(t, mapped, 1)
	assert.Equal(t, "v", mapped[longKey[:40]])
	assert.NotContains(t, mapped, longKey)
}

func TestMapForGATruncatesStringValues(t *testing.T) {
	longValue := strings.Repeat("v", 150)
	e := event.New("test", map[string]any{"note": longValue, "count": 150}, false, time.Now(), nil)

	mapped := MapForGA(e)
	assert.Equal(t, longValue[:100], mapped["note"])
	// Non-string values pass through untouched.
	assert.Equal(t, 150, mapped["count"])
}

func TestMapForPixelAddsDefaults(t *testing.T) {
	e := event.New("purchase", map[string]any{"value": 9.99}, false, time.Now(), nil)

	mapped := MapForPixel(e)
	assert.Equal(t, "website", mapped["content_type"])
	assert.Equal(t, e.ID, mapped["event_id"])
	assert.Equal(t, 9.99, mapped["value"])
}

func TestMapForPixelKeepsExplicitContentType(t *testing.T) {
	e := event.New("purchase", map[string]any{"content_type": "product"}, false, time.Now(), nil)
	mapped := MapForPixel(e)
	assert.Equal(t, "product", mapped["content_type"])
}

func TestMapPassthroughCopies(t *testing.T) {
	e := event.New("test", map[string]any{"a": 1}, false, time.Now(), nil)
	mapped := MapPassthrough(e)
	mapped["a"] = 2
	assert.Equal(t, 1, e.Properties["a"])
}
