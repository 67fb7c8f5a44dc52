package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	intrnl "sitepulse/internal"
)

// ServerHandle represents a running presence server instance.
type ServerHandle struct {
	addr     string
	server   *http.Server
	presence *intrnl.Server
	done     chan struct{}
	err      error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer wires the handlers, starts the tracker and hub loops, and
// begins serving in the background. Call Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	cfg.LivePath = NormalizeLivePath(cfg.LivePath)

	presence := intrnl.NewServer(intrnl.TrackerConfig{})
	presence.Start()

	mux := http.NewServeMux()
	registerHandlers(mux, cfg.LivePath, presence)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		presence.Stop()
		return nil, fmt.Errorf("listen: %w", err)
	}

	handle := &ServerHandle{
		addr:     listener.Addr().String(),
		server:   httpServer,
		presence: presence,
		done:     make(chan struct{}),
	}

	go func() {
		if ctx == nil {
			return
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	go handle.serve(listener)

	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	h.presence.Stop()
	h.err = err
}

func registerHandlers(mux *http.ServeMux, livePath string, presence *intrnl.Server) {
	mux.HandleFunc(livePath, presence.ServeWS)
	mux.HandleFunc("/api/visitors", presence.HandleVisitors)
	mux.HandleFunc("/api/statistics", presence.HandleStatistics)
	mux.HandleFunc("/api/health", presence.HandleHealth)
	mux.Handle("/metrics", presence.MetricsHandler())
}
