// Package identity owns the client/session identifiers and the marketing
// attribution captured from landing URLs. The client id lives in the durable
// store; everything session-scoped lives in the session store and disappears
// with the browsing context.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/cdlhelp/telemetry/internal/event"
	"github.com/cdlhelp/telemetry/internal/kvstore"
)

// SessionIdleTimeout is the gap after which the next call starts a new
// session.
const SessionIdleTimeout = 30 * time.Minute

const (
	clientIDKey   = "identity.client_id"
	sessionKey    = "identity.session"
	userKey       = "identity.user"
	firstTouchKey = "attribution.first_touch"
	lastTouchKey  = "attribution.last_touch"
	clickIDsKey   = "attribution.click_ids"
)

// Context is the identity pair stamped into every payload. Read-only outside
// this package.
type Context struct {
	ClientID          string    `json:"client_id"`
	SessionID         string    `json:"session_id"`
	SessionStartedAt  time.Time `json:"session_started_at"`
	SessionLastSeenAt time.Time `json:"session_last_seen_at"`
}

// Attribution holds the campaign parameters associated with how the visitor
// arrived.
type Attribution struct {
	UTMSource   string    `json:"utm_source,omitempty"`
	UTMMedium   string    `json:"utm_medium,omitempty"`
	UTMCampaign string    `json:"utm_campaign,omitempty"`
	UTMTerm     string    `json:"utm_term,omitempty"`
	UTMContent  string    `json:"utm_content,omitempty"`
	Referrer    string    `json:"referrer,omitempty"`
	LandingPage string    `json:"landing_page,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

func (a Attribution) empty() bool {
	return a.UTMSource == "" && a.UTMMedium == "" && a.UTMCampaign == "" &&
		a.UTMTerm == "" && a.UTMContent == ""
}

// ClickIDs are the ad-platform click identifiers seen this session. Each is
// kept first-seen-wins: once captured from a URL it survives even if later
// URLs drop it.
type ClickIDs struct {
	GCLID   string `json:"gclid,omitempty"`
	FBCLID  string `json:"fbclid,omitempty"`
	MSCLKID string `json:"msclkid,omitempty"`
	TTCLID  string `json:"ttclid,omitempty"`
}

// AdClickID is the search-ads click identifier carried on the wire.
func (c ClickIDs) AdClickID() string {
	if c.GCLID != "" {
		return c.GCLID
	}
	return c.MSCLKID
}

// SocialClickID is the social-ads click identifier carried on the wire.
func (c ClickIDs) SocialClickID() string {
	if c.FBCLID != "" {
		return c.FBCLID
	}
	return c.TTCLID
}

// UserData is the identified-user block of the payload. Email and phone are
// stored already hashed; the raw values never touch a store.
type UserData struct {
	UserID      string `json:"user_id,omitempty"`
	HashedEmail string `json:"hashed_email,omitempty"`
	HashedPhone string `json:"hashed_phone,omitempty"`
}

// Store derives and persists identity and attribution state.
type Store struct {
	mu      sync.Mutex
	durable kvstore.Store
	session kvstore.Store
	clock   clockwork.Clock
}

type sessionRecord struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	LastSeen  time.Time `json:"last_seen_at"`
}

// NewStore wires the identity store over the two storage scopes.
func NewStore(durable, session kvstore.Store, clock clockwork.Clock) *Store {
	return &Store{durable: durable, session: session, clock: clock}
}

// Context returns the current identity, creating the client id on first use
// and rotating the session id when the idle threshold has passed.
func (s *Store) Context() (Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientID, err := s.clientIDLocked()
	if err != nil {
		return Context{}, err
	}
	sess, err := s.sessionLocked()
	if err != nil {
		return Context{}, err
	}
	return Context{
		ClientID:          clientID,
		SessionID:         sess.ID,
		SessionStartedAt:  sess.StartedAt,
		SessionLastSeenAt: sess.LastSeen,
	}, nil
}

func (s *Store) clientIDLocked() (string, error) {
	raw, ok, err := s.durable.Get(clientIDKey)
	if err != nil {
		return "", fmt.Errorf("load client id: %w", err)
	}
	if ok {
		return string(raw), nil
	}
	id := event.ClientIDPrefix + uuid.NewString()
	if err := s.durable.Set(clientIDKey, []byte(id)); err != nil {
		return "", fmt.Errorf("persist client id: %w", err)
	}
	return id, nil
}

func (s *Store) sessionLocked() (sessionRecord, error) {
	now := s.clock.Now()
	var sess sessionRecord
	raw, ok, err := s.session.Get(sessionKey)
	if err != nil {
		return sessionRecord{}, fmt.Errorf("load session: %w", err)
	}
	if ok {
		if err := json.Unmarshal(raw, &sess); err != nil {
			ok = false
		}
	}
	if !ok || sess.ID == "" || now.Sub(sess.LastSeen) > SessionIdleTimeout {
		sess = sessionRecord{
			ID:        event.SessionIDPrefix + uuid.NewString(),
			StartedAt: now,
			LastSeen:  now,
		}
		// A fresh session also resets session-scoped attribution state.
		_ = s.session.Remove(lastTouchKey)
		_ = s.session.Remove(clickIDsKey)
	} else {
		sess.LastSeen = now
	}
	buf, err := json.Marshal(sess)
	if err != nil {
		return sessionRecord{}, fmt.Errorf("encode session: %w", err)
	}
	if err := s.session.Set(sessionKey, buf); err != nil {
		return sessionRecord{}, fmt.Errorf("persist session: %w", err)
	}
	return sess, nil
}

// Touch inspects a URL the visitor landed on. Click identifiers are captured
// first-seen-wins for the session; campaign parameters overwrite the
// last-touch record while the first-touch record is written only once.
func (s *Store) Touch(rawURL, referrer string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.captureClickIDsLocked(q); err != nil {
		return err
	}

	attr := Attribution{
		UTMSource:   q.Get("utm_source"),
		UTMMedium:   q.Get("utm_medium"),
		UTMCampaign: q.Get("utm_campaign"),
		UTMTerm:     q.Get("utm_term"),
		UTMContent:  q.Get("utm_content"),
		Referrer:    referrer,
		LandingPage: u.Path,
		Timestamp:   s.clock.Now(),
	}

	if _, ok, err := s.loadAttr(s.durable, firstTouchKey); err != nil {
		return err
	} else if !ok {
		if err := s.saveAttr(s.durable, firstTouchKey, attr); err != nil {
			return err
		}
	}

	// Last touch only moves when the URL actually carries campaign params.
	if !attr.empty() {
		if err := s.saveAttr(s.session, lastTouchKey, attr); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) captureClickIDsLocked(q url.Values) error {
	ids, _, err := s.loadClickIDsLocked()
	if err != nil {
		return err
	}
	changed := false
	capture := func(dst *string, param string) {
		if *dst == "" {
			if v := q.Get(param); v != "" {
				*dst = v
				changed = true
			}
		}
	}
	capture(&ids.GCLID, "gclid")
	capture(&ids.FBCLID, "fbclid")
	capture(&ids.MSCLKID, "msclkid")
	capture(&ids.TTCLID, "ttclid")
	if !changed {
		return nil
	}
	buf, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode click ids: %w", err)
	}
	if err := s.session.Set(clickIDsKey, buf); err != nil {
		return fmt.Errorf("persist click ids: %w", err)
	}
	return nil
}

func (s *Store) loadClickIDsLocked() (ClickIDs, bool, error) {
	var ids ClickIDs
	raw, ok, err := s.session.Get(clickIDsKey)
	if err != nil {
		return ids, false, fmt.Errorf("load click ids: %w", err)
	}
	if !ok {
		return ids, false, nil
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		return ClickIDs{}, false, nil
	}
	return ids, true, nil
}

// ClickIDs returns the click identifiers captured so far this session.
func (s *Store) ClickIDs() (ClickIDs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, _, err := s.loadClickIDsLocked()
	return ids, err
}

// FirstTouch returns the attribution captured from the first URL ever seen.
func (s *Store) FirstTouch() (Attribution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAttr(s.durable, firstTouchKey)
}

// Attribution merges last-touch over first-touch, field by field.
func (s *Store) Attribution() (Attribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	first, _, err := s.loadAttr(s.durable, firstTouchKey)
	if err != nil {
		return Attribution{}, err
	}
	last, ok, err := s.loadAttr(s.session, lastTouchKey)
	if err != nil {
		return Attribution{}, err
	}
	if !ok {
		return first, nil
	}
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return Attribution{
		UTMSource:   pick(last.UTMSource, first.UTMSource),
		UTMMedium:   pick(last.UTMMedium, first.UTMMedium),
		UTMCampaign: pick(last.UTMCampaign, first.UTMCampaign),
		UTMTerm:     pick(last.UTMTerm, first.UTMTerm),
		UTMContent:  pick(last.UTMContent, first.UTMContent),
		Referrer:    pick(last.Referrer, first.Referrer),
		LandingPage: pick(first.LandingPage, last.LandingPage),
		Timestamp:   last.Timestamp,
	}, nil
}

func (s *Store) loadAttr(store kvstore.Store, key string) (Attribution, bool, error) {
	raw, ok, err := store.Get(key)
	if err != nil {
		return Attribution{}, false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return Attribution{}, false, nil
	}
	var attr Attribution
	if err := json.Unmarshal(raw, &attr); err != nil {
		return Attribution{}, false, nil
	}
	return attr, true, nil
}

func (s *Store) saveAttr(store kvstore.Store, key string, attr Attribution) error {
	buf, err := json.Marshal(attr)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := store.Set(key, buf); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

// SetUser records an identified user. Email and phone are normalized and
// hashed before they are stored.
func (s *Store) SetUser(userID, email, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := UserData{
		UserID:      userID,
		HashedEmail: HashValue(email),
		HashedPhone: HashValue(phone),
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode user data: %w", err)
	}
	if err := s.durable.Set(userKey, buf); err != nil {
		return fmt.Errorf("persist user data: %w", err)
	}
	return nil
}

// User returns the identified-user block, zero-valued when anonymous.
func (s *Store) User() (UserData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.durable.Get(userKey)
	if err != nil {
		return UserData{}, fmt.Errorf("load user data: %w", err)
	}
	if !ok {
		return UserData{}, nil
	}
	var data UserData
	if err := json.Unmarshal(raw, &data); err != nil {
		return UserData{}, nil
	}
	return data, nil
}

// HashValue normalizes and hashes a PII value for the payload's user_data
// block. Empty in, empty out.
func HashValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}
