package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"sitepulse/internal/app"
)

func main() {
	_ = godotenv.Load()

	serverURL := flag.String("server-url", envOrDefault("SITEPULSE_SERVER", "ws://localhost:8080/live"), "server websocket URL")
	flag.Parse()

	if err := app.RunDashboard(app.DashboardConfig{ServerURL: *serverURL}); err != nil {
		fmt.Fprintf(os.Stderr, "sitepulse-dashboard: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
