package app

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"time"

	"sitepulse/internal/agent"
)

const defaultNavigateEvery = 20 * time.Second

// RunAgent starts one presence agent and plays back its browsing pattern
// until the context is cancelled. With no page list the agent just sits on
// its initial path, heartbeating.
func RunAgent(ctx context.Context, cfg AgentConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if cfg.NavigateEvery == 0 {
		cfg.NavigateEvery = defaultNavigateEvery
	}

	initialPath := "/"
	if len(cfg.Pages) > 0 {
		initialPath = cfg.Pages[0]
	}

	visitor := agent.New(agent.Config{
		ServerURL:        cfg.ServerURL,
		StorePath:        cfg.StorePath,
		UserAgent:        cfg.UserAgent,
		Referrer:         cfg.Referrer,
		ScreenResolution: cfg.ScreenResolution,
		Language:         cfg.Language,
		InitialPath:      initialPath,
	})
	log.Printf("agent %s reporting to %s", visitor.VisitorID(), cfg.ServerURL)
	visitor.Start()
	defer visitor.Close()

	if len(cfg.Pages) < 2 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(cfg.NavigateEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			next := cfg.Pages[rand.Intn(len(cfg.Pages))]
			visitor.Navigate(next)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
