// Package device supplies the page and device context stamped into outbound
// payloads.
package device

import (
	"strings"
	"sync"
)

// Page describes where the event happened.
type Page struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Referrer string `json:"referrer"`
}

// Device describes what the event happened on. Field names follow the wire
// payload's device block.
type Device struct {
	UserAgent        string `json:"user_agent"`
	ScreenResolution string `json:"screen_resolution"`
	ViewportSize     string `json:"viewport_size"`
	Language         string `json:"language"`
	Platform         string `json:"platform"`
	Timezone         string `json:"timezone"`
}

// ContextProvider is what the pipeline needs from the host to describe the
// current page and device.
type ContextProvider interface {
	Page() Page
	Device() Device
}

// Static is a ContextProvider the host updates explicitly, e.g. from request
// headers or navigation callbacks.
type Static struct {
	mu     sync.RWMutex
	page   Page
	device Device
}

func NewStatic(page Page, dev Device) *Static {
	return &Static{page: page, device: dev}
}

func (s *Static) Page() Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

func (s *Static) Device() Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.device
}

// SetPage records a navigation.
func (s *Static) SetPage(p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = p
}

// SetDevice replaces the device description.
func (s *Static) SetDevice(d Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = d
}

// Class buckets a user agent into mobile, tablet or desktop.
func Class(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return "unknown"
	}
	switch {
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "android"),
		strings.Contains(ua, "iphone"), strings.Contains(ua, "ipod"):
		return "mobile"
	}
	return "desktop"
}

// OS derives the operating system family from a user agent.
func OS(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ipod"):
		return "ios"
	case strings.Contains(ua, "win"):
		return "windows"
	case strings.Contains(ua, "mac"):
		return "macos"
	}
	return "other"
}

// Browser derives the browser family from a user agent.
func Browser(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg"):
		return "edge"
	case strings.Contains(ua, "chrome"), strings.Contains(ua, "crios"):
		return "chrome"
	case strings.Contains(ua, "firefox"), strings.Contains(ua, "fxios"):
		return "firefox"
	case strings.Contains(ua, "safari"):
		return "safari"
	}
	return "other"
}
