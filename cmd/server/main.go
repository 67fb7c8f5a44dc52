package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"sitepulse/internal/app"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOrDefault("SITEPULSE_ADDR", ":8080"), "server listen address")
	path := flag.String("path", envOrDefault("SITEPULSE_PATH", "/live"), "websocket live path")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, app.ServerConfig{
		Addr:     *addr,
		LivePath: app.NormalizeLivePath(*path),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "sitepulse-server: %v\n", err)
		os.Exit(1)
	}

	log.Printf("SitePulse server listening on %s (ws path %s)", handle.Addr(), app.NormalizeLivePath(*path))
	if err := handle.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "sitepulse-server: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
