package refresh

import (
	"sync"
	"testing"

	"github.com/NicolasHaas/govox/pkg/model"
	"github.com/NicolasHaas/govox/pkg/store"
)

func seed(t *testing.T) (*store.MemoryStore, *Gateway, *model.User, *model.Server, *model.Channel) {
	t.Helper()
	s := store.NewMemoryStore()

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
	return s, New(s), u, srv, ch
}

func TestSingleEntityReads(t *testing.T) {
	_, g, u, srv, ch := seed(t)

	gotU, err := g.User(u.ID)
	if err != nil || gotU == nil || gotU.Username != "alice" {
		t.Fatalf("User = %+v, %v", gotU, err)
	}
	gotS, err := g.Server(srv.ID)
	if err != nil || gotS == nil || gotS.Name != "General" {
		t.Fatalf("Server = %+v, %v", gotS, err)
	}
	gotC, err := g.Channel(ch.ID)
	if err != nil || gotC == nil || gotC.Name != "lobby" {
		t.Fatalf("Channel = %+v, %v", gotC, err)
	}
}

func TestMissesAreAbsentNotErrors(t *testing.T) {
	_, g, _, _, _ := seed(t)

	if u, err := g.User("nope"); err != nil || u != nil {
		t.Errorf("User(miss) = %+v, %v", u, err)
	}
	if srv, err := g.Server("nope"); err != nil || srv != nil {
		t.Errorf("Server(miss) = %+v, %v", srv, err)
	}
	if ch, err := g.Channel("nope"); err != nil || ch != nil {
		t.Errorf("Channel(miss) = %+v, %v", ch, err)
	}
	if a, err := g.FriendApplication("x", "y"); err != nil || a != nil {
		t.Errorf("FriendApplication(miss) = %+v, %v", a, err)
	}
	if a, err := g.MemberApplication("x", "y"); err != nil || a != nil {
		t.Errorf("MemberApplication(miss) = %+v, %v", a, err)
	}
	if members, err := g.ServerMembers("nope"); err != nil || len(members) != 0 {
		t.Errorf("ServerMembers(miss) = %+v, %v", members, err)
	}
	if friends, err := g.UserFriends("nope"); err != nil || len(friends) != 0 {
		t.Errorf("UserFriends(miss) = %+v, %v", friends, err)
	}
}

func TestListReads(t *testing.T) {
	s, g, u, srv, ch := seed(t)

	members, err := g.ServerMembers(srv.ID)
	if err != nil || len(members) != 1 || members[0].UserID != u.ID {
		t.Fatalf("ServerMembers = %+v, %v", members, err)
	}
	channels, err := g.ServerChannels(srv.ID)
	if err != nil || len(channels) != 1 || channels[0].ID != ch.ID {
		t.Fatalf("ServerChannels = %+v, %v", channels, err)
	}
	servers, err := g.UserServers(u.ID)
	if err != nil || len(servers) != 1 || servers[0].ID != srv.ID {
		t.Fatalf("UserServers = %+v, %v", servers, err)
	}

	if err := s.CreateFriendship(&model.Friendship{UserA: u.ID, UserB: "u2"}); err != nil {
		t.Fatalf("CreateFriendship: %v", err)
	}
	friends, err := g.UserFriends(u.ID)
	if err != nil || len(friends) != 1 {
		t.Fatalf("UserFriends = %+v, %v", friends, err)
	}

	if err := s.CreateFriendGroup(&model.FriendGroup{UserID: u.ID, Name: "work"}); err != nil {
		t.Fatalf("CreateFriendGroup: %v", err)
	}
	groups, err := g.UserFriendGroups(u.ID)
	if err != nil || len(groups) != 1 || groups[0].Name != "work" {
		t.Fatalf("UserFriendGroups = %+v, %v", groups, err)
	}

	if err := s.CreateFriendApplication(&model.FriendApplication{SenderID: "u2", TargetID: u.ID}); err != nil {
		t.Fatalf("CreateFriendApplication: %v", err)
	}
	fapps, err := g.UserFriendApplications(u.ID)
	if err != nil || len(fapps) != 1 {
		t.Fatalf("UserFriendApplications = %+v, %v", fapps, err)
	}
	fa, err := g.FriendApplication("u2", u.ID)
	if err != nil || fa == nil || fa.Status != model.StatusPending {
		t.Fatalf("FriendApplication = %+v, %v", fa, err)
	}

	if err := s.CreateMemberApplication(&model.MemberApplication{UserID: "u3", ServerID: srv.ID}); err != nil {
		t.Fatalf("CreateMemberApplication: %v", err)
	}
	mapps, err := g.ServerMemberApplications(srv.ID)
	if err != nil || len(mapps) != 1 {
		t.Fatalf("ServerMemberApplications = %+v, %v", mapps, err)
	}
	ma, err := g.MemberApplication("u3", srv.ID)
	if err != nil || ma == nil {
		t.Fatalf("MemberApplication = %+v, %v", ma, err)
	}
}

// Repeated and concurrent reads return the same view and mutate nothing.
func TestReadsAreIdempotent(t *testing.T) {
	_, g, u, _, _ := seed(t)

	first, err := g.User(u.ID)
	if err != nil {
		t.Fatalf("User: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := g.User(u.ID)
			if err != nil {
				t.Errorf("User: %v", err)
				return
			}
			if got.Username != first.Username || got.LastActiveAt != first.LastActiveAt {
				t.Errorf("view drifted: %+v", got)
			}
		}()
	}
	wg.Wait()
}
