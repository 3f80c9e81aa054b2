package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("govox_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("govox_connections_active", "Current active websocket connections.", "gauge",
		m.ActiveConnections.Load())
	write("govox_connections_total", "Lifetime websocket connections accepted.", "counter",
		m.TotalConnections.Load())
	write("govox_disconnects_total", "Total client disconnects.", "counter",
		m.TotalDisconnects.Load())

	write("govox_auth_success_total", "Successful authentication attempts.", "counter",
		m.SuccessfulAuths.Load())
	write("govox_auth_failed_total", "Failed authentication attempts.", "counter",
		m.FailedAuths.Load())

	write("govox_user_connects_total", "User presence connects applied.", "counter",
		m.UserConnects.Load())
	write("govox_user_disconnects_total", "User presence disconnects applied.", "counter",
		m.UserDisconnects.Load())
	write("govox_channel_joins_total", "Channel member set additions.", "counter",
		m.ChannelJoins.Load())
	write("govox_channel_leaves_total", "Channel member set removals.", "counter",
		m.ChannelLeaves.Load())

	write("govox_refresh_reads_total", "Refresh reads served.", "counter",
		m.RefreshReads.Load())

	write("govox_friend_requests_total", "Friend applications filed.", "counter",
		m.FriendRequests.Load())
	write("govox_member_requests_total", "Member applications filed.", "counter",
		m.MemberRequests.Load())
	write("govox_kicks_total", "Members kicked.", "counter",
		m.KickCount.Load())
}
