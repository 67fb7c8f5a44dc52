package app

import (
	"errors"

	intrnl "sitepulse/internal"
)

// RunDashboard launches the observer TUI with the provided configuration.
func RunDashboard(cfg DashboardConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	return intrnl.RunDashboard(cfg.ServerURL)
}
