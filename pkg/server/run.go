package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/govox/pkg/version"
)

// Run starts the server and blocks until a shutdown signal arrives.
func (s *Server) Run() error {
	if s.store == nil {
		return fmt.Errorf("server: missing store dependency")
	}
	defer func() { _ = s.store.Close() }()

	// Seed servers and channels from YAML config if provided
	if s.cfg.BootstrapFile != "" {
		if err := LoadBootstrapFromYAML(s.cfg.BootstrapFile, s.store); err != nil {
			slog.Error("failed to load bootstrap config", "err", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	httpSrv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("govox server running",
			"addr", s.cfg.ListenAddr,
			"version", version.String(),
		)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("gateway listener error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = httpSrv.Close()
	}()

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown stops the listeners and drops every client connection. Sessions
// are volatile, so nothing needs flushing; clients re-authenticate and
// refresh on reconnect.
func (s *Server) Shutdown() {
	s.cancel()

	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		_ = c.conn.Close()
	}
}
