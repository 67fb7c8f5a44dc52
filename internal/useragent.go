package internal

import "strings"

// BrowserInfo is what the agent derives once from the raw user-agent string.
type BrowserInfo struct {
	Browser string
	OS      string
	Device  string
}

// ParseUserAgent classifies a user-agent string with ordered substring
// rules. Order matters: Chromium-based Edge contains "Chrome", and Chrome
// itself contains "Safari", so the more specific tokens are tested first.
func ParseUserAgent(userAgent string) BrowserInfo {
	info := BrowserInfo{Browser: "Unknown", OS: "Unknown", Device: "desktop"}

	switch {
	case strings.Contains(userAgent, "Edg"):
		info.Browser = "Edge"
	case strings.Contains(userAgent, "OPR"), strings.Contains(userAgent, "Opera"):
		info.Browser = "Opera"
	case strings.Contains(userAgent, "Chrome"):
		info.Browser = "Chrome"
	case strings.Contains(userAgent, "Firefox"):
		info.Browser = "Firefox"
	case strings.Contains(userAgent, "Safari"):
		info.Browser = "Safari"
	}

	switch {
	case strings.Contains(userAgent, "Windows"):
		info.OS = "Windows"
	case strings.Contains(userAgent, "Android"):
		info.OS = "Android"
	case strings.Contains(userAgent, "iPhone"), strings.Contains(userAgent, "iPad"), strings.Contains(userAgent, "iOS"):
		info.OS = "iOS"
	case strings.Contains(userAgent, "Mac"):
		info.OS = "macOS"
	case strings.Contains(userAgent, "Linux"):
		info.OS = "Linux"
	}

	if strings.Contains(userAgent, "iPad") {
		info.Device = "tablet"
	} else if strings.Contains(userAgent, "Mobile") ||
		strings.Contains(userAgent, "Android") ||
		strings.Contains(userAgent, "iPhone") {
		info.Device = "mobile"
	}

	return info
}
