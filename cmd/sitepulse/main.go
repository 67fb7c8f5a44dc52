package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sitepulse/internal/app"
)

const (
	modeServer    = "server"
	modeDashboard = "dashboard"
	modeLocal     = "local"
)

func main() {
	_ = godotenv.Load()

	mode, args := parseMode(os.Args[1:])
	flagSet := flag.NewFlagSet("sitepulse", flag.ExitOnError)
	addr := flagSet.String("addr", envOrDefault("SITEPULSE_ADDR", defaultAddrForMode(mode)), "server listen address")
	path := flagSet.String("path", envOrDefault("SITEPULSE_PATH", "/live"), "websocket live path")
	serverURL := flagSet.String("server-url", envOrDefault("SITEPULSE_SERVER", "ws://localhost:8080/live"), "server websocket URL (dashboard mode)")
	quiet := flagSet.Bool("quiet", false, "suppress informational logs")
	flagSet.Parse(args)

	serverCfg := app.ServerConfig{
		Addr:     *addr,
		LivePath: app.NormalizeLivePath(*path),
	}
	dashboardCfg := app.DashboardConfig{
		ServerURL: *serverURL,
	}

	infof := func(format string, args ...interface{}) {
		if *quiet {
			return
		}
		log.Printf(format, args...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeServer:
		err = runServerMode(ctx, serverCfg, infof)
	case modeLocal:
		err = runLocalMode(ctx, serverCfg, dashboardCfg, infof)
	default:
		err = app.RunDashboard(dashboardCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "sitepulse: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, infof func(string, ...interface{})) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	infof("SitePulse server listening on %s (ws path %s)", handle.Addr(), cfg.LivePath)
	return handle.Wait()
}

// runLocalMode starts an in-process server and points the dashboard at it,
// for trying the whole thing on one machine.
func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, dashboardCfg app.DashboardConfig, infof func(string, ...interface{})) error {
	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	infof("Starting local SitePulse server on %s", handle.Addr())
	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	dashboardCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.LivePath)
	infof("Launching dashboard against %s", dashboardCfg.ServerURL)

	if err := app.RunDashboard(dashboardCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func stopServer(handle *app.ServerHandle) {
	_ = handle.Stop(nil)
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeLivePath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeDashboard, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeDashboard, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeDashboard, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return ":8080"
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
