// Package server hosts the realtime gateway: websocket connections are
// authenticated into sessions, permission-checked, and dispatched to the
// presence engine, refresh gateway, and social service.
package server

import (
	"context"
	"sync"

	"github.com/NicolasHaas/govox/pkg/presence"
	"github.com/NicolasHaas/govox/pkg/refresh"
	"github.com/NicolasHaas/govox/pkg/session"
	"github.com/NicolasHaas/govox/pkg/social"
	"github.com/NicolasHaas/govox/pkg/store"
)

// Config holds server settings.
type Config struct {
	ListenAddr    string // websocket bind address (e.g. ":9700")
	MetricsAddr   string // HTTP bind address for /metrics endpoint (empty = disabled)
	DBPath        string // SQLite database path
	BootstrapFile string // YAML file defining servers and channels to seed on startup
	OpenSignup    bool   // create unknown users at auth time (open server)
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:  ":9700",
		MetricsAddr: ":9702",
		DBPath:      "govox.db",
	}
}

// Dependencies holds external dependencies for the server. The server
// assumes ownership of Store and closes it on shutdown.
type Dependencies struct {
	Store store.DataStore
}

// Server ties the gateway to the core services.
type Server struct {
	cfg      Config
	store    store.DataStore
	sessions *session.Registry
	presence *presence.Engine
	refresh  *refresh.Gateway
	social   *social.Service
	metrics  *Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[*client]bool
}

// New creates a server from config and dependencies.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		store:    deps.Store,
		sessions: session.NewRegistry(),
		presence: presence.New(deps.Store),
		refresh:  refresh.New(deps.Store),
		social:   social.New(deps.Store),
		metrics:  NewMetrics(),
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[*client]bool),
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	s.metrics.ActiveConnections.Add(1)
	s.metrics.TotalConnections.Add(1)
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	s.metrics.ActiveConnections.Add(-1)
	s.metrics.TotalDisconnects.Add(1)
}

// broadcastToServer pushes an event to every authenticated client whose
// user currently points at serverID. Delivery is best effort; clients that
// miss a push reconcile through the refresh operations.
func (s *Server) broadcastToServer(serverID string, msg response) {
	s.mu.RLock()
	snapshot := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		snapshot = append(snapshot, c)
	}
	s.mu.RUnlock()

	// currentServer reads the store, so filter outside the client-set lock.
	for _, c := range snapshot {
		if c.currentServer() == serverID {
			c.send(msg)
		}
	}
}
