package server

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/govox/pkg/model"
	"github.com/NicolasHaas/govox/pkg/store"
)

// ServerYAML describes one server to seed at startup.
type ServerYAML struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Owner       string   `yaml:"owner"` // username, created if absent
	Channels    []string `yaml:"channels,omitempty"`
}

// BootstrapConfig is the top-level YAML bootstrap file.
type BootstrapConfig struct {
	Servers []ServerYAML `yaml:"servers"`
}

// LoadBootstrapFromYAML reads a bootstrap YAML file and seeds servers,
// owners, and channels in the store.
func LoadBootstrapFromYAML(path string, st store.DataStore) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("read bootstrap config: %w", err)
	}
	return ImportBootstrapYAML(data, st)
}

// ImportBootstrapYAML parses bootstrap YAML and creates any missing
// entities. Existing servers and channels are left untouched, so the file
// can be applied on every startup.
func ImportBootstrapYAML(data []byte, st store.DataStore) error {
	var cfg BootstrapConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse bootstrap config: %w", err)
	}

	for _, sy := range cfg.Servers {
		if err := ensureServer(st, sy); err != nil {
			slog.Error("failed to seed server from config", "name", sy.Name, "err", err)
		}
	}

	slog.Info("applied bootstrap config", "servers", len(cfg.Servers))
	return nil
}

func ensureServer(st store.DataStore, sy ServerYAML) error {
	if sy.Owner == "" {
		return fmt.Errorf("server %q: owner is required", sy.Name)
	}

	owner, err := st.GetUserByUsername(sy.Owner)
	if err != nil {
		return err
	}
	if owner == nil {
		owner = &model.User{Username: sy.Owner}
		if err := st.CreateUser(owner); err != nil {
			return err
		}
		slog.Debug("created owner from config", "username", sy.Owner)
	}

	existing, err := st.UserServers(owner.ID)
	if err != nil {
		return err
	}
	var srv *model.Server
	for i := range existing {
		if existing[i].Name == sy.Name && existing[i].OwnerID == owner.ID {
			srv = &existing[i]
			break
		}
	}
	if srv == nil {
		srv = &model.Server{Name: sy.Name, Description: sy.Description, OwnerID: owner.ID}
		if err := st.CreateServer(srv); err != nil {
			return err
		}
		if err := st.UpsertMember(&model.Member{ServerID: srv.ID, UserID: owner.ID, Level: model.LevelServerOwner}); err != nil {
			return err
		}
		slog.Debug("created server from config", "name", sy.Name, "owner", sy.Owner)
	}

	channels, err := st.ServerChannels(srv.ID)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(channels))
	for _, ch := range channels {
		have[ch.Name] = true
	}
	for _, name := range sy.Channels {
		if have[name] {
			continue
		}
		if err := st.CreateChannel(&model.Channel{ServerID: srv.ID, Name: name}); err != nil {
			return err
		}
		slog.Debug("created channel from config", "server", sy.Name, "channel", name)
	}
	return nil
}

// ExportBootstrapYAML renders a user's servers and their channels back to
// the bootstrap YAML shape.
func ExportBootstrapYAML(st store.DataStore, username string) ([]byte, error) {
	owner, err := st.GetUserByUsername(username)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, fmt.Errorf("export: unknown user %q", username)
	}

	servers, err := st.UserServers(owner.ID)
	if err != nil {
		return nil, err
	}

	cfg := BootstrapConfig{}
	for _, srv := range servers {
		if srv.OwnerID != owner.ID {
			continue
		}
		entry := ServerYAML{Name: srv.Name, Description: srv.Description, Owner: username}
		channels, err := st.ServerChannels(srv.ID)
		if err != nil {
			return nil, err
		}
		for _, ch := range channels {
			entry.Channels = append(entry.Channels, ch.Name)
		}
		cfg.Servers = append(cfg.Servers, entry)
	}
	return yaml.Marshal(&cfg)
}
