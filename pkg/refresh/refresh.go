// Package refresh exposes the pull-based resynchronization reads. Every
// operation performs a single authoritative store read and returns the
// current record verbatim. All operations are idempotent and side-effect
// free; a miss yields an absent or empty result, never an error.
package refresh

import (
	"github.com/NicolasHaas/govox/pkg/apperr"
	"github.com/NicolasHaas/govox/pkg/model"
	"github.com/NicolasHaas/govox/pkg/store"
)

// Gateway serves refresh reads from the data store.
type Gateway struct {
	store store.DataStore
}

// New creates a refresh gateway backed by ds.
func New(ds store.DataStore) *Gateway {
	return &Gateway{store: ds}
}

// User returns the current user record, or nil if absent.
func (g *Gateway) User(userID string) (*model.User, error) {
	u, err := g.store.GetUser(userID)
	if err != nil {
		return nil, apperr.Wrap("refreshUser", err)
	}
	return u, nil
}

// Server returns the current server record, or nil if absent.
func (g *Gateway) Server(serverID string) (*model.Server, error) {
	srv, err := g.store.GetServer(serverID)
	if err != nil {
		return nil, apperr.Wrap("refreshServer", err)
	}
	return srv, nil
}

// Channel returns the current channel record, or nil if absent.
func (g *Gateway) Channel(channelID string) (*model.Channel, error) {
	ch, err := g.store.GetChannel(channelID)
	if err != nil {
		return nil, apperr.Wrap("refreshChannel", err)
	}
	return ch, nil
}

// ServerMembers returns a server's member set.
func (g *Gateway) ServerMembers(serverID string) ([]model.Member, error) {
	members, err := g.store.ServerMembers(serverID)
	if err != nil {
		return nil, apperr.Wrap("refreshServerMembers", err)
	}
	return members, nil
}

// ServerChannels returns a server's channels.
func (g *Gateway) ServerChannels(serverID string) ([]model.Channel, error) {
	channels, err := g.store.ServerChannels(serverID)
	if err != nil {
		return nil, apperr.Wrap("refreshServerChannels", err)
	}
	return channels, nil
}

// UserServers returns the servers a user belongs to.
func (g *Gateway) UserServers(userID string) ([]model.Server, error) {
	servers, err := g.store.UserServers(userID)
	if err != nil {
		return nil, apperr.Wrap("refreshUserServers", err)
	}
	return servers, nil
}

// UserFriends returns a user's friendships.
func (g *Gateway) UserFriends(userID string) ([]model.Friendship, error) {
	friends, err := g.store.UserFriends(userID)
	if err != nil {
		return nil, apperr.Wrap("refreshUserFriends", err)
	}
	return friends, nil
}

// UserFriendGroups returns a user's friend groups.
func (g *Gateway) UserFriendGroups(userID string) ([]model.FriendGroup, error) {
	groups, err := g.store.UserFriendGroups(userID)
	if err != nil {
		return nil, apperr.Wrap("refreshUserFriendGroups", err)
	}
	return groups, nil
}

// FriendApplication returns one friend application, or nil if absent.
func (g *Gateway) FriendApplication(senderID, targetID string) (*model.FriendApplication, error) {
	a, err := g.store.FriendApplication(senderID, targetID)
	if err != nil {
		return nil, apperr.Wrap("refreshFriendApplication", err)
	}
	return a, nil
}

// MemberApplication returns one member application, or nil if absent.
func (g *Gateway) MemberApplication(userID, serverID string) (*model.MemberApplication, error) {
	a, err := g.store.MemberApplication(userID, serverID)
	if err != nil {
		return nil, apperr.Wrap("refreshMemberApplication", err)
	}
	return a, nil
}

// ServerMemberApplications returns a server's member applications.
func (g *Gateway) ServerMemberApplications(serverID string) ([]model.MemberApplication, error) {
	apps, err := g.store.ServerMemberApplications(serverID)
	if err != nil {
		return nil, apperr.Wrap("refreshServerMemberApplications", err)
	}
	return apps, nil
}

// UserFriendApplications returns the friend applications targeting a user.
func (g *Gateway) UserFriendApplications(targetID string) ([]model.FriendApplication, error) {
	apps, err := g.store.UserFriendApplications(targetID)
	if err != nil {
		return nil, apperr.Wrap("refreshUserFriendApplications", err)
	}
	return apps, nil
}
