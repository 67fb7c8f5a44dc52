package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sitepulse/internal/app"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

func main() {
	_ = godotenv.Load()

	serverURL := flag.String("server-url", envOrDefault("SITEPULSE_SERVER", "ws://localhost:8080/live"), "server websocket URL")
	storePath := flag.String("store", envOrDefault("SITEPULSE_DB_PATH", ""), "sqlite path for visitor id and offline buffer (defaults to a per-user path)")
	userAgent := flag.String("user-agent", envOrDefault("SITEPULSE_UA", defaultUserAgent), "user agent string to report")
	referrer := flag.String("referrer", envOrDefault("SITEPULSE_REFERRER", ""), "referrer to report (empty means direct)")
	pagesFlag := flag.String("pages", envOrDefault("SITEPULSE_PAGES", "/"), "comma-separated page paths to cycle through")
	navigateEvery := flag.Duration("navigate-every", 20*time.Second, "interval between simulated page changes")
	flag.Parse()

	cfg := app.AgentConfig{
		ServerURL:     *serverURL,
		StorePath:     *storePath,
		UserAgent:     *userAgent,
		Referrer:      *referrer,
		Pages:         splitPages(*pagesFlag),
		NavigateEvery: *navigateEvery,
	}
	if cfg.StorePath == "" {
		cfg.StorePath = app.DefaultStorePath()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunAgent(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "sitepulse-agent: %v\n", err)
		os.Exit(1)
	}
}

func splitPages(raw string) []string {
	var pages []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			pages = append(pages, trimmed)
		}
	}
	return pages
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
