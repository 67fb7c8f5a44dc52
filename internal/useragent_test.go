package internal

import "testing"

func TestParseUserAgent(t *testing.T) {
	cases := []struct {
		name      string
		userAgent string
		browser   string
		os        string
		device    string
	}{
		{
			name:      "chrome on windows",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
			browser:   "Chrome", os: "Windows", device: "desktop",
		},
		{
			// Edge UAs contain "Chrome" too, so the Edg token must win.
			name:      "edge on windows",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36 Edg/126.0.0.0",
			browser:   "Edge", os: "Windows", device: "desktop",
		},
		{
			name:      "safari on iphone",
			userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
			browser:   "Safari", os: "iOS", device: "mobile",
		},
		{
			name:      "ipad is a tablet",
			userAgent: "Mozilla/5.0 (iPad; CPU OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Mobile/15E148 Safari/604.1",
			browser:   "Safari", os: "iOS", device: "tablet",
		},
		{
			name:      "firefox on linux",
			userAgent: "Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
			browser:   "Firefox", os: "Linux", device: "desktop",
		},
		{
			name:      "chrome on android",
			userAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Mobile Safari/537.36",
			browser:   "Chrome", os: "Android", device: "mobile",
		},
		{
			name:      "empty string",
			userAgent: "",
			browser:   "Unknown", os: "Unknown", device: "desktop",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := ParseUserAgent(tc.userAgent)
			if info.Browser != tc.browser {
				t.Errorf("browser: expected %s, got %s", tc.browser, info.Browser)
			}
			if info.OS != tc.os {
				t.Errorf("os: expected %s, got %s", tc.os, info.OS)
			}
			if info.Device != tc.device {
				t.Errorf("device: expected %s, got %s", tc.device, info.Device)
			}
		})
	}
}
