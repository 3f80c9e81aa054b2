package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/govox/pkg/apperr"
	"github.com/NicolasHaas/govox/pkg/model"
	"github.com/NicolasHaas/govox/pkg/store"
)

type fixture struct {
	store   *store.MemoryStore
	engine  *Engine
	user    *model.User
	server  *model.Server
	channel *model.Channel
	clock   *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newFixture builds a store with one user who is a member of one server
// holding one channel. The user starts with no live presence.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s := store.NewMemoryStoreWithClock(clock.Now)

	u := &model.User{Username: "alice"}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	srv := &model.Server{Name: "General", OwnerID: u.ID}
	if err := s.CreateServer(srv); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	if err := s.UpsertMember(&model.Member{ServerID: srv.ID, UserID: u.ID, Level: model.LevelServerOwner}); err != nil {
		t.Fatalf("UpsertMember: %v", err)
	}
	ch := &model.Channel{ServerID: srv.ID, Name: "lobby"}
	if err := s.CreateChannel(ch); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	return &fixture{
		store:   s,
		engine:  NewWithClock(s, clock.Now),
		user:    u,
		server:  srv,
		channel: ch,
		clock:   clock,
	}
}

// placeUser points the user at the fixture server and channel and
// establishes live presence there.
func (f *fixture) placeUser(t *testing.T) {
	t.Helper()
	if _, err := f.engine.MoveToChannel(f.user.ID, f.server.ID, f.channel.ID); err != nil {
		t.Fatalf("MoveToChannel: %v", err)
	}
}

func (f *fixture) mustUser(t *testing.T) *model.User {
	t.Helper()
	u, err := f.store.GetUser(f.user.ID)
	if err != nil || u == nil {
		t.Fatalf("GetUser: %v %v", u, err)
	}
	return u
}

func (f *fixture) channelHas(t *testing.T, userID string) bool {
	t.Helper()
	ids, err := f.store.ChannelMembers(f.channel.ID)
	if err != nil {
		t.Fatalf("ChannelMembers: %v", err)
	}
	for _, id := range ids {
		if id == userID {
			return true
		}
	}
	return false
}

func (f *fixture) memberOnline(t *testing.T, userID string) bool {
	t.Helper()
	m, err := f.store.GetMember(f.server.ID, userID)
	if err != nil || m == nil {
		t.Fatalf("GetMember: %v %v", m, err)
	}
	return m.Online
}

// checkInvariants asserts the channel-implies-server pointer rule and the
// channel-subset-of-server rule for the fixture entities.
func (f *fixture) checkInvariants(t *testing.T) {
	t.Helper()
	u := f.mustUser(t)
	if u.InChannel() {
		if !u.InServer() {
			t.Fatalf("invariant broken: channel pointer %q without server pointer", u.CurrentChannelID)
		}
		ch, err := f.store.GetChannel(u.CurrentChannelID)
		if err != nil || ch == nil {
			t.Fatalf("GetChannel: %v %v", ch, err)
		}
		if ch.ServerID != u.CurrentServerID {
			t.Fatalf("invariant broken: channel parent %q != server pointer %q", ch.ServerID, u.CurrentServerID)
		}
	}

	ids, err := f.store.ChannelMembers(f.channel.ID)
	if err != nil {
		t.Fatalf("ChannelMembers: %v", err)
	}
	for _, id := range ids {
		m, err := f.store.GetMember(f.server.ID, id)
		if err != nil {
			t.Fatalf("GetMember: %v", err)
		}
		if m == nil || !m.Online {
			t.Fatalf("invariant broken: %s in channel set but not live in parent server", id)
		}
	}
}

func TestConnectUserNoLocation(t *testing.T) {
	f := newFixture(t)

	before := f.mustUser(t)
	f.clock.Advance(time.Minute)

	u, err := f.engine.ConnectUser(f.user.ID)
	if err != nil {
		t.Fatalf("ConnectUser: %v", err)
	}
	if u.InServer() || u.InChannel() {
		t.Errorf("fresh user gained location pointers: %q %q", u.CurrentServerID, u.CurrentChannelID)
	}
	if !u.LastActiveAt.After(before.LastActiveAt) {
		t.Errorf("lastActiveAt not stamped: %v", u.LastActiveAt)
	}
	if f.memberOnline(t, f.user.ID) {
		t.Error("server member set touched for a user with no server pointer")
	}
	f.checkInvariants(t)
}

func TestConnectUserUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ConnectUser("ghost")
	ae := apperr.Wrap("test", err)
	if ae == nil || ae.Tag != apperr.TagNotFound {
		t.Fatalf("ConnectUser(ghost): expected NOT_FOUND, got %v", err)
	}
}

func TestConnectUserRestoresLocation(t *testing.T) {
	f := newFixture(t)
	f.placeUser(t)

	// Simulate a network drop: presence torn down, pointers kept.
	if _, err := f.engine.DisconnectUser(f.user.ID); err != nil {
		t.Fatalf("DisconnectUser: %v", err)
	}
	if f.memberOnline(t, f.user.ID) || f.channelHas(t, f.user.ID) {
		t.Fatal("presence not torn down")
	}

	u, err := f.engine.ConnectUser(f.user.ID)
	if err != nil {
		t.Fatalf("ConnectUser: %v", err)
	}
	if u.CurrentServerID != f.server.ID || u.CurrentChannelID != f.channel.ID {
		t.Errorf("pointers = %q/%q, want %s/%s", u.CurrentServerID, u.CurrentChannelID, f.server.ID, f.channel.ID)
	}
	if !f.memberOnline(t, f.user.ID) {
		t.Error("user not live in server after reconnect")
	}
	if !f.channelHas(t, f.user.ID) {
		t.Error("user not in channel set after reconnect")
	}
	f.checkInvariants(t)
}

func TestConnectUserHealsRevokedMembership(t *testing.T) {
	f := newFixture(t)
	f.placeUser(t)
	if _, err := f.engine.DisconnectUser(f.user.ID); err != nil {
		t.Fatalf("DisconnectUser: %v", err)
	}

	// Membership revoked while offline.
	if err := f.store.DeleteMember(f.server.ID, f.user.ID); err != nil {
		t.Fatalf("DeleteMember: %v", err)
	}

	u, err := f.engine.ConnectUser(f.user.ID)
	if err != nil {
		t.Fatalf("ConnectUser: %v", err)
	}
	if u.InServer() || u.InChannel() {
		t.Errorf("stale pointers not cleared: %q/%q", u.CurrentServerID, u.CurrentChannelID)
	}
	if f.channelHas(t, f.user.ID) {
		t.Error("user re-added to channel despite revoked membership")
	}
}

func TestConnectUserHealsDeletedChannel(t *testing.T) {
	f := newFixture(t)
	f.placeUser(t)
	if _, err := f.engine.DisconnectUser(f.user.ID); err != nil {
		t.Fatalf("DisconnectUser: %v", err)
	}
	if err := f.store.DeleteChannel(f.channel.ID); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}

	u, err := f.engine.ConnectUser(f.user.ID)
	if err != nil {
		t.Fatalf("ConnectUser: %v", err)
	}
	if u.CurrentServerID != f.server.ID {
		t.Errorf("server pointer lost: %q", u.CurrentServerID)
	}
	if u.InChannel() {
		t.Errorf("channel pointer not cleared: %q", u.CurrentChannelID)
	}
	if !f.memberOnline(t, f.user.ID) {
		t.Error("user not live in server")
	}
}

// Scenario: connected user disconnects. Live member sets drop the user,
// location pointers survive, lastActiveAt moves forward.
func TestDisconnectUserTeardown(t *testing.T) {
	f := newFixture(t)
	f.placeUser(t)
	before := f.mustUser(t)
	f.clock.Advance(time.Minute)

	u, err := f.engine.DisconnectUser(f.user.ID)
	if err != nil {
		t.Fatalf("DisconnectUser: %v", err)
	}
	if f.channelHas(t, f.user.ID) {
		t.Error("user still in channel member set")
	}
	if f.memberOnline(t, f.user.ID) {
		t.Error("user still live in server member set")
	}
	if u.CurrentServerID != before.CurrentServerID || u.CurrentChannelID != before.CurrentChannelID {
		t.Errorf("pointers changed on disconnect: %q/%q", u.CurrentServerID, u.CurrentChannelID)
	}
	if !u.LastActiveAt.After(before.LastActiveAt) {
		t.Errorf("lastActiveAt = %v, want after %v", u.LastActiveAt, before.LastActiveAt)
	}
	f.checkInvariants(t)
}

func TestDisconnectUserIdempotent(t *testing.T) {
	f := newFixture(t)
	f.placeUser(t)

	first, err := f.engine.DisconnectUser(f.user.ID)
	if err != nil {
		t.Fatalf("DisconnectUser: %v", err)
	}
	second, err := f.engine.DisconnectUser(f.user.ID)
	if err != nil {
		t.Fatalf("DisconnectUser(again): %v", err)
	}
	if first.CurrentServerID != second.CurrentServerID || first.CurrentChannelID != second.CurrentChannelID {
		t.Error("second disconnect changed location pointers")
	}
	if f.channelHas(t, f.user.ID) || f.memberOnline(t, f.user.ID) {
		t.Error("live presence resurrected by second disconnect")
	}
}

func TestConnectUserIdempotent(t *testing.T) {
	f := newFixture(t)
	f.placeUser(t)

	if _, err := f.engine.ConnectUser(f.user.ID); err != nil {
		t.Fatalf("ConnectUser: %v", err)
	}
	if _, err := f.engine.ConnectUser(f.user.ID); err != nil {
		t.Fatalf("ConnectUser(again): %v", err)
	}
	ids, _ := f.store.ChannelMembers(f.channel.ID)
	if len(ids) != 1 {
		t.Errorf("channel member set = %v, want exactly one entry", ids)
	}
	f.checkInvariants(t)
}

// Pull consistency: a refresh-style read right after ConnectUser sees the
// stamped activity time and the pointers the connect established.
func TestReadAfterConnect(t *testing.T) {
	f := newFixture(t)
	f.placeUser(t)
	before := f.mustUser(t)
	f.clock.Advance(time.Minute)

	if _, err := f.engine.ConnectUser(f.user.ID); err != nil {
		t.Fatalf("ConnectUser: %v", err)
	}
	u := f.mustUser(t)
	if u.LastActiveAt.Before(before.LastActiveAt) {
		t.Errorf("lastActiveAt went backwards: %v < %v", u.LastActiveAt, before.LastActiveAt)
	}
	if u.CurrentServerID != f.server.ID || u.CurrentChannelID != f.channel.ID {
		t.Errorf("pointers = %q/%q", u.CurrentServerID, u.CurrentChannelID)
	}
}

func TestConnectServerRequiresMembership(t *testing.T) {
	f := newFixture(t)
	err := f.engine.ConnectServer(f.server.ID, "stranger")
	ae := apperr.Wrap("test", err)
	if ae == nil || ae.Tag != apperr.TagNotFound {
		t.Fatalf("ConnectServer(stranger): expected NOT_FOUND, got %v", err)
	}
}

func TestConnectChannelWithoutServerPresence(t *testing.T) {
	f := newFixture(t)

	// Member exists but is not live in the server. The channel join must
	// not happen, or the subset invariant would break.
	if err := f.engine.ConnectChannel(f.channel.ID, f.server.ID, f.user.ID); err != nil {
		t.Fatalf("ConnectChannel: %v", err)
	}
	if f.channelHas(t, f.user.ID) {
		t.Error("channel set gained a user who is not live in the server")
	}
}

func TestConnectChannelWrongServer(t *testing.T) {
	f := newFixture(t)
	err := f.engine.ConnectChannel(f.channel.ID, "other-server", f.user.ID)
	ae := apperr.Wrap("test", err)
	if ae == nil || ae.Tag != apperr.TagValidation {
		t.Fatalf("expected VALIDATION error, got %v", err)
	}
}

func TestMoveToChannelAcrossServers(t *testing.T) {
	f := newFixture(t)
	f.placeUser(t)

	srv2 := &model.Server{Name: "Second", OwnerID: f.user.ID}
	if err := f.store.CreateServer(srv2); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}
	if err := f.store.UpsertMember(&model.Member{ServerID: srv2.ID, UserID: f.user.ID, Level: model.LevelMember}); err != nil {
		t.Fatalf("UpsertMember: %v", err)
	}
	ch2 := &model.Channel{ServerID: srv2.ID, Name: "general"}
	if err := f.store.CreateChannel(ch2); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	u, err := f.engine.MoveToChannel(f.user.ID, srv2.ID, ch2.ID)
	if err != nil {
		t.Fatalf("MoveToChannel: %v", err)
	}
	if u.CurrentServerID != srv2.ID || u.CurrentChannelID != ch2.ID {
		t.Errorf("pointers = %q/%q, want %s/%s", u.CurrentServerID, u.CurrentChannelID, srv2.ID, ch2.ID)
	}
	if f.channelHas(t, f.user.ID) {
		t.Error("user still in old channel set")
	}
	if f.memberOnline(t, f.user.ID) {
		t.Error("user still live in old server")
	}
	m, _ := f.store.GetMember(srv2.ID, f.user.ID)
	if m == nil || !m.Online {
		t.Error("user not live in new server")
	}
	f.checkInvariants(t)
}

func TestMoveToChannelRejectsForeignChannel(t *testing.T) {
	f := newFixture(t)
	f.placeUser(t)

	srv2 := &model.Server{Name: "Second", OwnerID: f.user.ID}
	if err := f.store.CreateServer(srv2); err != nil {
		t.Fatalf("CreateServer: %v", err)
	}

	_, err := f.engine.MoveToChannel(f.user.ID, srv2.ID, f.channel.ID)
	ae := apperr.Wrap("test", err)
	if ae == nil || ae.Tag != apperr.TagValidation {
		t.Fatalf("expected VALIDATION error, got %v", err)
	}
}

// Scenario: two concurrent joins of the same channel by the same user
// leave exactly one entry in the member set.
func TestConcurrentChannelJoin(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.ConnectServer(f.server.ID, f.user.ID); err != nil {
		t.Fatalf("ConnectServer: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.engine.ConnectChannel(f.channel.ID, f.server.ID, f.user.ID); err != nil {
				t.Errorf("ConnectChannel: %v", err)
			}
		}()
	}
	wg.Wait()

	ids, err := f.store.ChannelMembers(f.channel.ID)
	if err != nil {
		t.Fatalf("ChannelMembers: %v", err)
	}
	if len(ids) != 1 || ids[0] != f.user.ID {
		t.Errorf("channel member set = %v, want exactly [%s]", ids, f.user.ID)
	}
}

// Scenario: a member-set read racing ConnectServer observes either the
// pre- or post-connect state, and the invariants hold either way.
func TestReadRacingConnectServer(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := f.engine.ConnectServer(f.server.ID, f.user.ID); err != nil {
			t.Errorf("ConnectServer: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		members, err := f.store.ServerMembers(f.server.ID)
		if err != nil {
			t.Errorf("ServerMembers: %v", err)
			return
		}
		if len(members) != 1 {
			t.Errorf("ServerMembers = %d entries, want 1", len(members))
		}
	}()
	wg.Wait()

	if !f.memberOnline(t, f.user.ID) {
		t.Error("user not live after the race settled")
	}
	f.checkInvariants(t)
}

// Disconnect racing reconnect must never leave the user out of the server
// set while still in the channel set.
func TestDisconnectRacingReconnect(t *testing.T) {
	f := newFixture(t)
	f.placeUser(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := f.engine.DisconnectUser(f.user.ID); err != nil {
				t.Errorf("DisconnectUser: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := f.engine.ConnectUser(f.user.ID); err != nil {
				t.Errorf("ConnectUser: %v", err)
			}
		}()
	}
	wg.Wait()

	inChannel := f.channelHas(t, f.user.ID)
	online := f.memberOnline(t, f.user.ID)
	if inChannel && !online {
		t.Fatal("user in channel member set but not live in parent server")
	}
	f.checkInvariants(t)
}

// slowReadStore widens the race window between a move's initial read and
// its teardown by delaying every user load.
type slowReadStore struct {
	*store.MemoryStore
}

func (s *slowReadStore) GetUser(id string) (*model.User, error) {
	time.Sleep(2 * time.Millisecond)
	return s.MemoryStore.GetUser(id)
}

// Two concurrent moves of the same user to different channels must
// serialize: the second sees the first's teardown, so the user ends up in
// exactly the channel the pointer names, never both.
func TestConcurrentMovesSerialize(t *testing.T) {
	f := newFixture(t)
	slow := &slowReadStore{MemoryStore: f.store}
	engine := New(slow)

	ch2 := &model.Channel{ServerID: f.server.ID, Name: "gaming"}
	if err := f.store.CreateChannel(ch2); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	var wg sync.WaitGroup
	for _, target := range []string{f.channel.ID, ch2.ID} {
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			if _, err := engine.MoveToChannel(f.user.ID, f.server.ID, channelID); err != nil {
				t.Errorf("MoveToChannel(%s): %v", channelID, err)
			}
		}(target)
	}
	wg.Wait()

	u := f.mustUser(t)
	for _, channelID := range []string{f.channel.ID, ch2.ID} {
		ids, err := f.store.ChannelMembers(channelID)
		if err != nil {
			t.Fatalf("ChannelMembers: %v", err)
		}
		present := len(ids) == 1 && ids[0] == f.user.ID
		if present != (u.CurrentChannelID == channelID) {
			t.Errorf("channel %s: member set %v disagrees with pointer %q", channelID, ids, u.CurrentChannelID)
		}
	}
}

func TestKeyMutexDisjointKeys(t *testing.T) {
	km := newKeyMutex()
	km.Lock("a")
	done := make(chan struct{})
	go func() {
		km.Lock("b") // must not block on "a"
		km.Unlock("b")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on a disjoint key blocked")
	}
	km.Unlock("a")
}
