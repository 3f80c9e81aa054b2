package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime websocket connections accepted
	ActiveConnections atomic.Int64 // current active connections
	FailedAuths       atomic.Int64 // failed authentication attempts
	SuccessfulAuths   atomic.Int64 // successful authentication attempts
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Presence counters
	UserConnects    atomic.Int64 // connectUser cascades applied
	UserDisconnects atomic.Int64 // disconnectUser cascades applied
	ChannelJoins    atomic.Int64 // channel member set additions
	ChannelLeaves   atomic.Int64 // channel member set removals

	// Refresh counters
	RefreshReads atomic.Int64 // refresh reads served

	// Social counters
	FriendRequests atomic.Int64 // friend applications filed
	MemberRequests atomic.Int64 // member applications filed
	KickCount      atomic.Int64 // members kicked
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	SuccessfulAuths   int64 `json:"successful_auths"`
	FailedAuths       int64 `json:"failed_auths"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	UserConnects    int64 `json:"user_connects"`
	UserDisconnects int64 `json:"user_disconnects"`
	ChannelJoins    int64 `json:"channel_joins"`
	ChannelLeaves   int64 `json:"channel_leaves"`

	RefreshReads int64 `json:"refresh_reads"`

	FriendRequests int64 `json:"friend_requests"`
	MemberRequests int64 `json:"member_requests"`
	KickCount      int64 `json:"kick_count"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		UserConnects:      m.UserConnects.Load(),
		UserDisconnects:   m.UserDisconnects.Load(),
		ChannelJoins:      m.ChannelJoins.Load(),
		ChannelLeaves:     m.ChannelLeaves.Load(),
		RefreshReads:      m.RefreshReads.Load(),
		FriendRequests:    m.FriendRequests.Load(),
		MemberRequests:    m.MemberRequests.Load(),
		KickCount:         m.KickCount.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"user_connects", s.UserConnects,
		"channel_joins", s.ChannelJoins,
		"refresh_reads", s.RefreshReads,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
