package identity

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdlhelp/telemetry/internal/event"
	"github.com/cdlhelp/telemetry/internal/kvstore"
)

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	return NewStore(kvstore.NewMemory(), kvstore.NewMemory(), clock), clock
}

func TestClientIDCreatedOnceAndStable(t *testing.T) {
	s, _ := newTestStore(t)

	first, err := s.Context()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.ClientID, event.ClientIDPrefix))

	second, err := s.Context()
	require.NoError(t, err)
	assert.Equal(t, first.ClientID, second.ClientID)
}

func TestSessionSurvivesShortIdle(t *testing.T) {
	s, clock := newTestStore(t)

	first, err := s.Context()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.SessionID, event.SessionIDPrefix))

	clock.Advance(29 * time.Minute)
	second, err := s.Context()
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestSessionRotatesAfterIdleTimeout(t *testing.T) {
	s, clock := newTestStore(t)

	first, err := s.Context()
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	second, err := s.Context()
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.ClientID, second.ClientID)
}

func TestActivityExtendsSession(t *testing.T) {
	s, clock := newTestStore(t)

	first, err := s.Context()
	require.NoError(t, err)

	// Keep touching every 20 minutes; the session must never rotate.
	for i := 0; i < 4; i++ {
		clock.Advance(20 * time.Minute)
		ctx, err := s.Context()
		require.NoError(t, err)
		assert.Equal(t, first.SessionID, ctx.SessionID)
	}
}

func TestFirstTouchWrittenOnce(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Touch("https://www.cdlhelp.com/?utm_source=google&utm_campaign=launch", "https://google.com"))
	require.NoError(t, s.Touch("https://www.cdlhelp.com/pricing?utm_source=facebook", ""))

	first, ok, err := s.FirstTouch()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "google", first.UTMSource)
	assert.Equal(t, "launch", first.UTMCampaign)
}

func TestLastTouchOverwritesOnlyWithCampaignParams(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Touch("https://www.cdlhelp.com/?utm_source=google", ""))
	require.NoError(t, s.Touch("https://www.cdlhelp.com/?utm_source=facebook&utm_medium=social", ""))
	// A bare URL must not wipe the last campaign.
	require.NoError(t, s.Touch("https://www.cdlhelp.com/pricing", ""))

	attr, err := s.Attribution()
	require.NoError(t, err)
	assert.Equal(t, "facebook", attr.UTMSource)
	assert.Equal(t, "social", attr.UTMMedium)
}

func TestAttributionMergesLastOverFirst(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Touch("https://www.cdlhelp.com/?utm_source=google&utm_term=cdl", ""))
	require.NoError(t, s.Touch("https://www.cdlhelp.com/?utm_source=facebook", ""))

	attr, err := s.Attribution()
	require.NoError(t, err)
	assert.Equal(t, "facebook", attr.UTMSource)
	// Fields the last touch lacks fall back to the first touch.
	assert.Equal(t, "cdl", attr.UTMTerm)
}

func TestClickIDsFirstSeenWins(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Touch("https://www.cdlhelp.com/?gclid=AAA", ""))
	require.NoError(t, s.Touch("https://www.cdlhelp.com/?gclid=BBB&fbclid=CCC", ""))

	ids, err := s.ClickIDs()
	require.NoError(t, err)
	assert.Equal(t, "AAA", ids.GCLID)
	assert.Equal(t, "CCC", ids.FBCLID)
	assert.Equal(t, "AAA", ids.AdClickID())
	assert.Equal(t, "CCC", ids.SocialClickID())
}

func TestNewSessionClearsSessionScopedAttribution(t *testing.T) {
	s, clock := newTestStore(t)

	_, err := s.Context()
	require.NoError(t, err)
	require.NoError(t, s.Touch("https://www.cdlhelp.com/?utm_source=google&gclid=AAA", ""))

	clock.Advance(SessionIdleTimeout + time.Minute)
	_, err = s.Context()
	require.NoError(t, err)

	ids, err := s.ClickIDs()
	require.NoError(t, err)
	assert.Empty(t, ids.GCLID)

	// First touch is durable and survives the rotation.
	attr, err := s.Attribution()
	require.NoError(t, err)
	assert.Equal(t, "google", attr.UTMSource)
}

func TestSetUserHashesPII(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.SetUser("u-1", " Driver@Example.COM ", "+1 555 0100"))
	user, err := s.User()
	require.NoError(t, err)

	assert.Equal(t, "u-1", user.UserID)
	assert.Equal(t, HashValue("driver@example.com"), user.HashedEmail)
	assert.Len(t, user.HashedEmail, 64)
	assert.NotContains(t, user.HashedEmail, "@")
}

func TestHashValueEmptyInEmptyOut(t *testing.T) {
	assert.Empty(t, HashValue("  "))
}
