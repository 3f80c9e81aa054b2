package store

import (
	"time"

	"github.com/NicolasHaas/govox/pkg/model"
)

// UserPatch is a partial update for a user record. Nil fields are left
// unchanged; a pointer to the empty string clears the field.
type UserPatch struct {
	DisplayName      *string
	Avatar           *string
	Status           *string
	CurrentServerID  *string
	CurrentChannelID *string
	LastActiveAt     *time.Time
}

// ServerPatch is a partial update for a server record.
type ServerPatch struct {
	Name        *string
	Description *string
	Avatar      *string
	OwnerID     *string
}

// MemberPatch is a partial update for a member record.
type MemberPatch struct {
	Nickname *string
	Level    *model.Level
	Online   *bool
}

// DataStore defines the persistence interface for all govox entities.
// Implementations include the default SQLite store and an in-memory store
// used by tests. Get-style methods return (nil, nil) when the record is
// absent; writes are strongly consistent per key.
type DataStore interface {
	// Close closes the underlying storage connection.
	Close() error

	// ---- Users ----

	// CreateUser persists a new user, assigning an ID if none is set.
	CreateUser(u *model.User) error

	// GetUser retrieves a user by ID. Returns (nil, nil) if not found.
	GetUser(id string) (*model.User, error)

	// GetUserByUsername retrieves a user by username. Returns (nil, nil) if not found.
	GetUserByUsername(username string) (*model.User, error)

	// UpdateUser applies a partial field patch to a user.
	UpdateUser(id string, patch UserPatch) error

	// SearchUsers returns users whose username or display name contains query.
	SearchUsers(query string) ([]model.User, error)

	// ---- Servers ----

	// CreateServer persists a new server, assigning an ID if none is set.
	CreateServer(s *model.Server) error

	// GetServer retrieves a server by ID. Returns (nil, nil) if not found.
	GetServer(id string) (*model.Server, error)

	// UpdateServer applies a partial field patch to a server.
	UpdateServer(id string, patch ServerPatch) error

	// UserServers returns the servers a user is a member of.
	UserServers(userID string) ([]model.Server, error)

	// ---- Channels ----

	// CreateChannel persists a new channel, assigning an ID if none is set.
	CreateChannel(ch *model.Channel) error

	// GetChannel retrieves a channel by ID. Returns (nil, nil) if not found.
	GetChannel(id string) (*model.Channel, error)

	// DeleteChannel removes a channel and its live member set.
	DeleteChannel(id string) error

	// ServerChannels returns all channels belonging to a server.
	ServerChannels(serverID string) ([]model.Channel, error)

	// ChannelMembers returns the user IDs currently in a channel.
	ChannelMembers(channelID string) ([]string, error)

	// AddChannelMember adds a user to a channel's live member set.
	// Adding an already-present user is a no-op.
	AddChannelMember(channelID, userID string) error

	// RemoveChannelMember removes a user from a channel's live member set.
	// Removing an absent user is a no-op.
	RemoveChannelMember(channelID, userID string) error

	// ClearChannelMembers empties a channel's live member set.
	ClearChannelMembers(channelID string) error

	// ---- Members ----

	// UpsertMember creates or replaces a server membership record.
	UpsertMember(m *model.Member) error

	// GetMember retrieves a membership record. Returns (nil, nil) if not found.
	GetMember(serverID, userID string) (*model.Member, error)

	// UpdateMember applies a partial field patch to a membership record.
	UpdateMember(serverID, userID string, patch MemberPatch) error

	// DeleteMember removes a user from a server's member set.
	DeleteMember(serverID, userID string) error

	// ServerMembers returns a server's full member set.
	ServerMembers(serverID string) ([]model.Member, error)

	// ---- Friendships ----

	// CreateFriendship persists a friendship; the pair is stored canonically ordered.
	CreateFriendship(f *model.Friendship) error

	// DeleteFriendship removes the friendship between two users, in either order.
	DeleteFriendship(a, b string) error

	// UserFriends returns all friendships involving a user.
	UserFriends(userID string) ([]model.Friendship, error)

	// ---- Friend groups ----

	// CreateFriendGroup persists a friend group, assigning an ID if none is set.
	CreateFriendGroup(g *model.FriendGroup) error

	// DeleteFriendGroup removes a friend group by ID.
	DeleteFriendGroup(id string) error

	// UserFriendGroups returns a user's friend groups.
	UserFriendGroups(userID string) ([]model.FriendGroup, error)

	// ---- Friend applications ----

	// CreateFriendApplication persists a friend application. At most one
	// application may exist per (sender, target) pair.
	CreateFriendApplication(a *model.FriendApplication) error

	// FriendApplication retrieves an application. Returns (nil, nil) if not found.
	FriendApplication(senderID, targetID string) (*model.FriendApplication, error)

	// UpdateFriendApplicationStatus resolves an application.
	UpdateFriendApplicationStatus(senderID, targetID string, status model.Status) error

	// DeleteFriendApplication removes an application; absent is a no-op.
	DeleteFriendApplication(senderID, targetID string) error

	// UserFriendApplications returns applications targeting a user.
	UserFriendApplications(targetID string) ([]model.FriendApplication, error)

	// ---- Member applications ----

	// CreateMemberApplication persists a member application. At most one
	// application may exist per (user, server) pair.
	CreateMemberApplication(a *model.MemberApplication) error

	// MemberApplication retrieves an application. Returns (nil, nil) if not found.
	MemberApplication(userID, serverID string) (*model.MemberApplication, error)

	// UpdateMemberApplicationStatus resolves an application.
	UpdateMemberApplicationStatus(userID, serverID string, status model.Status) error

	// DeleteMemberApplication removes an application; absent is a no-op.
	DeleteMemberApplication(userID, serverID string) error

	// ServerMemberApplications returns applications for a server.
	ServerMemberApplications(serverID string) ([]model.MemberApplication, error)
}

// Compile-time checks: both implementations satisfy DataStore.
var (
	_ DataStore = (*SQLiteStore)(nil)
	_ DataStore = (*MemoryStore)(nil)
)
