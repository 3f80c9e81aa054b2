package store

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/govox/pkg/model"
)

// MemoryStore is an in-memory DataStore used by tests and ephemeral setups.
// It mirrors the SQLite store's semantics, including second-granularity
// timestamps, so the two are interchangeable behind the interface.
type MemoryStore struct {
	mu sync.RWMutex

	users          map[string]model.User             // userID -> user
	usersByName    map[string]string                 // username -> userID
	servers        map[string]model.Server           // serverID -> server
	channels       map[string]model.Channel          // channelID -> channel
	channelMembers map[string]map[string]bool        // channelID -> userID set
	members        map[string]model.Member           // serverID/userID -> member
	friendships    map[string]model.Friendship       // userA/userB -> friendship
	friendGroups   map[string]model.FriendGroup      // groupID -> group
	friendApps     map[string]model.FriendApplication // senderID/targetID -> application
	memberApps     map[string]model.MemberApplication // userID/serverID -> application

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryStoreWithClock creates a store with a custom clock, for tests.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		users:          make(map[string]model.User),
		usersByName:    make(map[string]string),
		servers:        make(map[string]model.Server),
		channels:       make(map[string]model.Channel),
		channelMembers: make(map[string]map[string]bool),
		members:        make(map[string]model.Member),
		friendships:    make(map[string]model.Friendship),
		friendGroups:   make(map[string]model.FriendGroup),
		friendApps:     make(map[string]model.FriendApplication),
		memberApps:     make(map[string]model.MemberApplication),
		now:            now,
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func pairKey(a, b string) string { return a + "/" + b }

// stamp matches the SQLite store's TEXT datetime precision.
func (s *MemoryStore) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return t.UTC().Truncate(time.Second)
}

// ---- Users ----

func (s *MemoryStore) CreateUser(u *model.User) error {
	if err := model.ValidateUsername(u.Username); err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	if u.ID == "" {
		u.ID = model.NewID()
	}
	u.CreatedAt = s.stamp(u.CreatedAt)
	if !u.LastActiveAt.IsZero() {
		u.LastActiveAt = s.stamp(u.LastActiveAt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.ID]; exists {
		return fmt.Errorf("store: create user: id %q already exists", u.ID)
	}
	if _, exists := s.usersByName[u.Username]; exists {
		return fmt.Errorf("store: create user: username %q already exists", u.Username)
	}
	s.users[u.ID] = *u
	s.usersByName[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *MemoryStore) GetUserByUsername(username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByName[username]
	if !ok {
		return nil, nil
	}
	u := s.users[id]
	return &u, nil
}

func (s *MemoryStore) UpdateUser(id string, patch UserPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	if patch.DisplayName != nil {
		u.DisplayName = *patch.DisplayName
	}
	if patch.Avatar != nil {
		u.Avatar = *patch.Avatar
	}
	if patch.Status != nil {
		u.Status = *patch.Status
	}
	if patch.CurrentServerID != nil {
		u.CurrentServerID = *patch.CurrentServerID
	}
	if patch.CurrentChannelID != nil {
		u.CurrentChannelID = *patch.CurrentChannelID
	}
	if patch.LastActiveAt != nil {
		u.LastActiveAt = s.stamp(*patch.LastActiveAt)
	}
	s.users[id] = u
	return nil
}

func (s *MemoryStore) SearchUsers(query string) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []model.User
	for _, u := range s.users {
		if strings.Contains(u.Username, query) || strings.Contains(u.DisplayName, query) {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// ---- Servers ----

func (s *MemoryStore) CreateServer(srv *model.Server) error {
	if err := srv.Validate(); err != nil {
		return fmt.Errorf("store: create server: %w", err)
	}
	if srv.ID == "" {
		srv.ID = model.NewID()
	}
	srv.CreatedAt = s.stamp(srv.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.servers[srv.ID]; exists {
		return fmt.Errorf("store: create server: id %q already exists", srv.ID)
	}
	s.servers[srv.ID] = *srv
	return nil
}

func (s *MemoryStore) GetServer(id string) (*model.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[id]
	if !ok {
		return nil, nil
	}
	return &srv, nil
}

func (s *MemoryStore) UpdateServer(id string, patch ServerPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	srv, ok := s.servers[id]
	if !ok {
		return nil
	}
	if patch.Name != nil {
		srv.Name = *patch.Name
	}
	if patch.Description != nil {
		srv.Description = *patch.Description
	}
	if patch.Avatar != nil {
		srv.Avatar = *patch.Avatar
	}
	if patch.OwnerID != nil {
		srv.OwnerID = *patch.OwnerID
	}
	s.servers[id] = srv
	return nil
}

func (s *MemoryStore) UserServers(userID string) ([]model.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var servers []model.Server
	for _, m := range s.members {
		if m.UserID != userID {
			continue
		}
		if srv, ok := s.servers[m.ServerID]; ok {
			servers = append(servers, srv)
		}
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })
	return servers, nil
}

// ---- Channels ----

func (s *MemoryStore) CreateChannel(ch *model.Channel) error {
	if err := ch.Validate(); err != nil {
		return fmt.Errorf("store: create channel: %w", err)
	}
	if ch.ID == "" {
		ch.ID = model.NewID()
	}
	ch.CreatedAt = s.stamp(ch.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[ch.ID]; exists {
		return fmt.Errorf("store: create channel: id %q already exists", ch.ID)
	}
	s.channels[ch.ID] = *ch
	return nil
}

func (s *MemoryStore) GetChannel(id string) (*model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

func (s *MemoryStore) DeleteChannel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, id)
	delete(s.channelMembers, id)
	return nil
}

func (s *MemoryStore) ServerChannels(serverID string) ([]model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var channels []model.Channel
	for _, ch := range s.channels {
		if ch.ServerID == serverID {
			channels = append(channels, ch)
		}
	}
	sort.Slice(channels, func(i, j int) bool {
		if !channels[i].CreatedAt.Equal(channels[j].CreatedAt) {
			return channels[i].CreatedAt.Before(channels[j].CreatedAt)
		}
		return channels[i].ID < channels[j].ID
	})
	return channels, nil
}

func (s *MemoryStore) ChannelMembers(channelID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []string
	for id := range s.channelMembers[channelID] {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

func (s *MemoryStore) AddChannelMember(channelID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.channelMembers[channelID]
	if !ok {
		set = make(map[string]bool)
		s.channelMembers[channelID] = set
	}
	set[userID] = true
	return nil
}

func (s *MemoryStore) RemoveChannelMember(channelID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channelMembers[channelID], userID)
	return nil
}

func (s *MemoryStore) ClearChannelMembers(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channelMembers, channelID)
	return nil
}

// ---- Members ----

func (s *MemoryStore) UpsertMember(m *model.Member) error {
	if !m.Level.Valid() {
		return fmt.Errorf("store: upsert member: %w", model.ErrInvalidLevel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(m.ServerID, m.UserID)
	if existing, ok := s.members[key]; ok {
		m.CreatedAt = existing.CreatedAt
	} else {
		m.CreatedAt = s.stamp(m.CreatedAt)
	}
	s.members[key] = *m
	return nil
}

func (s *MemoryStore) GetMember(serverID, userID string) (*model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[pairKey(serverID, userID)]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemoryStore) UpdateMember(serverID, userID string, patch MemberPatch) error {
	if patch.Level != nil && !patch.Level.Valid() {
		return fmt.Errorf("store: update member: %w", model.ErrInvalidLevel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(serverID, userID)
	m, ok := s.members[key]
	if !ok {
		return nil
	}
	if patch.Nickname != nil {
		m.Nickname = *patch.Nickname
	}
	if patch.Level != nil {
		m.Level = *patch.Level
	}
	if patch.Online != nil {
		m.Online = *patch.Online
	}
	s.members[key] = m
	return nil
}

func (s *MemoryStore) DeleteMember(serverID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, pairKey(serverID, userID))
	return nil
}

func (s *MemoryStore) ServerMembers(serverID string) ([]model.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var members []model.Member
	for _, m := range s.members {
		if m.ServerID == serverID {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members, nil
}

// ---- Friendships ----

func (s *MemoryStore) CreateFriendship(f *model.Friendship) error {
	f.UserA, f.UserB = model.NormalizePair(f.UserA, f.UserB)
	f.CreatedAt = s.stamp(f.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(f.UserA, f.UserB)
	if _, exists := s.friendships[key]; exists {
		return fmt.Errorf("store: create friendship: pair (%s, %s) already exists", f.UserA, f.UserB)
	}
	s.friendships[key] = *f
	return nil
}

func (s *MemoryStore) DeleteFriendship(a, b string) error {
	a, b = model.NormalizePair(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.friendships, pairKey(a, b))
	return nil
}

func (s *MemoryStore) UserFriends(userID string) ([]model.Friendship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var friends []model.Friendship
	for _, f := range s.friendships {
		if f.UserA == userID || f.UserB == userID {
			friends = append(friends, f)
		}
	}
	sort.Slice(friends, func(i, j int) bool {
		if !friends[i].CreatedAt.Equal(friends[j].CreatedAt) {
			return friends[i].CreatedAt.Before(friends[j].CreatedAt)
		}
		return pairKey(friends[i].UserA, friends[i].UserB) < pairKey(friends[j].UserA, friends[j].UserB)
	})
	return friends, nil
}

// ---- Friend groups ----

func (s *MemoryStore) CreateFriendGroup(g *model.FriendGroup) error {
	if g.ID == "" {
		g.ID = model.NewID()
	}
	g.CreatedAt = s.stamp(g.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.friendGroups[g.ID]; exists {
		return fmt.Errorf("store: create friend group: id %q already exists", g.ID)
	}
	s.friendGroups[g.ID] = *g
	return nil
}

func (s *MemoryStore) DeleteFriendGroup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.friendGroups, id)
	return nil
}

func (s *MemoryStore) UserFriendGroups(userID string) ([]model.FriendGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var groups []model.FriendGroup
	for _, g := range s.friendGroups {
		if g.UserID == userID {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].CreatedAt.Equal(groups[j].CreatedAt) {
			return groups[i].CreatedAt.Before(groups[j].CreatedAt)
		}
		return groups[i].ID < groups[j].ID
	})
	return groups, nil
}

// ---- Friend applications ----

func (s *MemoryStore) CreateFriendApplication(a *model.FriendApplication) error {
	if a.Status == "" {
		a.Status = model.StatusPending
	}
	a.CreatedAt = s.stamp(a.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(a.SenderID, a.TargetID)
	if _, exists := s.friendApps[key]; exists {
		return fmt.Errorf("store: create friend application: pair (%s, %s) already exists", a.SenderID, a.TargetID)
	}
	s.friendApps[key] = *a
	return nil
}

func (s *MemoryStore) FriendApplication(senderID, targetID string) (*model.FriendApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.friendApps[pairKey(senderID, targetID)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *MemoryStore) UpdateFriendApplicationStatus(senderID, targetID string, status model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(senderID, targetID)
	a, ok := s.friendApps[key]
	if !ok {
		return nil
	}
	a.Status = status
	s.friendApps[key] = a
	return nil
}

func (s *MemoryStore) DeleteFriendApplication(senderID, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.friendApps, pairKey(senderID, targetID))
	return nil
}

func (s *MemoryStore) UserFriendApplications(targetID string) ([]model.FriendApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var apps []model.FriendApplication
	for _, a := range s.friendApps {
		if a.TargetID == targetID {
			apps = append(apps, a)
		}
	}
	sort.Slice(apps, func(i, j int) bool {
		if !apps[i].CreatedAt.Equal(apps[j].CreatedAt) {
			return apps[i].CreatedAt.Before(apps[j].CreatedAt)
		}
		return apps[i].SenderID < apps[j].SenderID
	})
	return apps, nil
}

// ---- Member applications ----

func (s *MemoryStore) CreateMemberApplication(a *model.MemberApplication) error {
	if a.Status == "" {
		a.Status = model.StatusPending
	}
	a.CreatedAt = s.stamp(a.CreatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(a.UserID, a.ServerID)
	if _, exists := s.memberApps[key]; exists {
		return fmt.Errorf("store: create member application: pair (%s, %s) already exists", a.UserID, a.ServerID)
	}
	s.memberApps[key] = *a
	return nil
}

func (s *MemoryStore) MemberApplication(userID, serverID string) (*model.MemberApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.memberApps[pairKey(userID, serverID)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *MemoryStore) UpdateMemberApplicationStatus(userID, serverID string, status model.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(userID, serverID)
	a, ok := s.memberApps[key]
	if !ok {
		return nil
	}
	a.Status = status
	s.memberApps[key] = a
	return nil
}

func (s *MemoryStore) DeleteMemberApplication(userID, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.memberApps, pairKey(userID, serverID))
	return nil
}

func (s *MemoryStore) ServerMemberApplications(serverID string) ([]model.MemberApplication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var apps []model.MemberApplication
	for _, a := range s.memberApps {
		if a.ServerID == serverID {
			apps = append(apps, a)
		}
	}
	sort.Slice(apps, func(i, j int) bool {
		if !apps[i].CreatedAt.Equal(apps[j].CreatedAt) {
			return apps[i].CreatedAt.Before(apps[j].CreatedAt)
		}
		return apps[i].UserID < apps[j].UserID
	})
	return apps, nil
}
