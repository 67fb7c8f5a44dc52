package app

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ServerConfig defines how the presence backend should run.
type ServerConfig struct {
	Addr     string
	LivePath string
}

// AgentConfig defines one simulated visitor: where it reports, where it
// keeps local state, and what browsing pattern it plays back.
type AgentConfig struct {
	ServerURL        string
	StorePath        string
	UserAgent        string
	Referrer         string
	ScreenResolution string
	Language         string
	Pages            []string
	NavigateEvery    time.Duration
}

// DashboardConfig defines the parameters the observer TUI needs.
type DashboardConfig struct {
	ServerURL string
}

// DefaultStorePath returns a per-user data path for the agent's SQLite file.
func DefaultStorePath() string {
	if env := os.Getenv("SITEPULSE_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("SITEPULSE_DATA_DIR"); env != "" {
		return filepath.Join(env, "sitepulse.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "sitepulse", "sitepulse.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "SitePulse", "sitepulse.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "SitePulse", "sitepulse.db")
		}
		return filepath.Join(home, ".local", "share", "sitepulse", "sitepulse.db")
	}
	return filepath.Join(".", ".sitepulse", "sitepulse.db")
}

// NormalizeLivePath guarantees the websocket path starts with '/' and falls
// back to /live when empty.
func NormalizeLivePath(path string) string {
	if path == "" {
		return "/live"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
