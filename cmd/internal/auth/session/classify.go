package session

import "strings"

// Device and browser classes reported for sessions.
const (
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceDesktop = "Desktop"

	BrowserChrome  = "Chrome"
	BrowserFirefox = "Firefox"
	BrowserEdge    = "Edge"
	BrowserOther   = "Other"

	Unknown = "Unknown"
)

// ClassifyDevice maps a user agent onto a device class. The first matching
// marker wins, compared case-insensitively.
func ClassifyDevice(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return Unknown
	}
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "mobile"):
		return DeviceMobile
	case strings.Contains(ua, "tablet"):
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// ClassifyBrowser maps a user agent onto a browser class, case-insensitively.
//
// Chrome is checked first, so Chromium-based Edge user agents (which also carry
// "Chrome") classify as Chrome.
func ClassifyBrowser(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return Unknown
	}
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "chrome"):
		return BrowserChrome
	case strings.Contains(ua, "firefox"):
		return BrowserFirefox
	case strings.Contains(ua, "edge"):
		return BrowserEdge
	default:
		return BrowserOther
	}
}
