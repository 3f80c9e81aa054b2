// Package social manages the relationship lifecycle: friend applications,
// friendships and friend groups, and server member applications.
package social

import (
	"log/slog"

	"github.com/NicolasHaas/govox/pkg/apperr"
	"github.com/NicolasHaas/govox/pkg/model"
	"github.com/NicolasHaas/govox/pkg/permission"
	"github.com/NicolasHaas/govox/pkg/store"
)

// Service wires relationship operations to the data store.
type Service struct {
	store store.DataStore
}

// New creates a social service backed by ds.
func New(ds store.DataStore) *Service {
	return &Service{store: ds}
}

// SendFriendApplication files a friend request from sender to target. If a
// pending application already exists in the opposite direction, the two
// requests are treated as mutual and the friendship is created immediately;
// in that case the returned application is nil.
func (s *Service) SendFriendApplication(senderID, targetID, message string) (*model.FriendApplication, error) {
	const op = "sendFriendApplication"
	if senderID == targetID {
		return nil, apperr.Validation(op, "cannot befriend yourself")
	}
	target, err := s.store.GetUser(targetID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if target == nil {
		return nil, apperr.NotFound(op, "user not found")
	}

	friends, err := s.store.UserFriends(senderID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	for _, f := range friends {
		if f.Other(senderID) == targetID {
			return nil, apperr.Validation(op, "already friends")
		}
	}

	existing, err := s.store.FriendApplication(senderID, targetID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if existing != nil && existing.Status == model.StatusPending {
		return nil, apperr.Validation(op, "application already pending")
	}

	reverse, err := s.store.FriendApplication(targetID, senderID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if reverse != nil && reverse.Status == model.StatusPending {
		// Both sides asked. Accept the earlier request instead of
		// leaving two dangling applications.
		if err := s.acceptFriend(op, targetID, senderID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if existing != nil {
		// A resolved application is superseded by a fresh one.
		if err := s.store.DeleteFriendApplication(senderID, targetID); err != nil {
			return nil, apperr.Wrap(op, err)
		}
	}
	app := &model.FriendApplication{SenderID: senderID, TargetID: targetID, Message: message}
	if err := s.store.CreateFriendApplication(app); err != nil {
		return nil, apperr.Wrap(op, err)
	}
	slog.Debug("friend application filed", "sender", senderID, "target", targetID)
	return app, nil
}

// AcceptFriendApplication resolves a pending application and creates the
// friendship. Only the target may accept.
func (s *Service) AcceptFriendApplication(senderID, targetID string) error {
	return s.acceptFriend("acceptFriendApplication", senderID, targetID)
}

func (s *Service) acceptFriend(op, senderID, targetID string) error {
	app, err := s.store.FriendApplication(senderID, targetID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if app == nil || app.Status != model.StatusPending {
		return apperr.NotFound(op, "no pending application")
	}
	if err := s.store.CreateFriendship(&model.Friendship{UserA: senderID, UserB: targetID}); err != nil {
		return apperr.Wrap(op, err)
	}
	if err := s.store.DeleteFriendApplication(senderID, targetID); err != nil {
		return apperr.Wrap(op, err)
	}
	slog.Debug("friendship created", "a", senderID, "b", targetID)
	return nil
}

// RejectFriendApplication marks a pending application rejected. The record
// is kept so the sender can see the outcome.
func (s *Service) RejectFriendApplication(senderID, targetID string) error {
	const op = "rejectFriendApplication"
	app, err := s.store.FriendApplication(senderID, targetID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if app == nil || app.Status != model.StatusPending {
		return apperr.NotFound(op, "no pending application")
	}
	if err := s.store.UpdateFriendApplicationStatus(senderID, targetID, model.StatusRejected); err != nil {
		return apperr.Wrap(op, err)
	}
	return nil
}

// CancelFriendApplication withdraws the sender's own pending application.
func (s *Service) CancelFriendApplication(senderID, targetID string) error {
	const op = "cancelFriendApplication"
	if err := s.store.DeleteFriendApplication(senderID, targetID); err != nil {
		return apperr.Wrap(op, err)
	}
	return nil
}

// RemoveFriend ends a friendship. Either side may remove it; removing a
// friendship that does not exist is a no-op.
func (s *Service) RemoveFriend(a, b string) error {
	if err := s.store.DeleteFriendship(a, b); err != nil {
		return apperr.Wrap("removeFriend", err)
	}
	return nil
}

// CreateFriendGroup creates a named grouping for a user's friends.
func (s *Service) CreateFriendGroup(userID, name string) (*model.FriendGroup, error) {
	const op = "createFriendGroup"
	if name == "" {
		return nil, apperr.Validation(op, "group name must not be empty")
	}
	g := &model.FriendGroup{UserID: userID, Name: name}
	if err := s.store.CreateFriendGroup(g); err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return g, nil
}

// DeleteFriendGroup removes a friend group owned by userID.
func (s *Service) DeleteFriendGroup(userID, groupID string) error {
	const op = "deleteFriendGroup"
	groups, err := s.store.UserFriendGroups(userID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	for _, g := range groups {
		if g.ID == groupID {
			if err := s.store.DeleteFriendGroup(groupID); err != nil {
				return apperr.Wrap(op, err)
			}
			return nil
		}
	}
	return apperr.NotFound(op, "friend group not found")
}

// SendMemberApplication files a request to join a server.
func (s *Service) SendMemberApplication(userID, serverID, message string) (*model.MemberApplication, error) {
	const op = "sendMemberApplication"
	srv, err := s.store.GetServer(serverID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if srv == nil {
		return nil, apperr.NotFound(op, "server not found")
	}
	m, err := s.store.GetMember(serverID, userID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if m != nil {
		return nil, apperr.Validation(op, "already a member")
	}
	existing, err := s.store.MemberApplication(userID, serverID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if existing != nil && existing.Status == model.StatusPending {
		return nil, apperr.Validation(op, "application already pending")
	}
	if existing != nil {
		if err := s.store.DeleteMemberApplication(userID, serverID); err != nil {
			return nil, apperr.Wrap(op, err)
		}
	}
	app := &model.MemberApplication{UserID: userID, ServerID: serverID, Message: message}
	if err := s.store.CreateMemberApplication(app); err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return app, nil
}

// AcceptMemberApplication admits an applicant as a plain member. The actor
// must hold server-admin level or above in the target server.
func (s *Service) AcceptMemberApplication(actorLevel model.Level, userID, serverID string) error {
	const op = "acceptMemberApplication"
	if !permission.IsServerAdmin(actorLevel, true) {
		return apperr.Validation(op, permission.Require(actorLevel, model.LevelServerAdmin))
	}
	app, err := s.store.MemberApplication(userID, serverID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if app == nil || app.Status != model.StatusPending {
		return apperr.NotFound(op, "no pending application")
	}
	if err := s.store.UpsertMember(&model.Member{ServerID: serverID, UserID: userID, Level: model.LevelMember}); err != nil {
		return apperr.Wrap(op, err)
	}
	if err := s.store.DeleteMemberApplication(userID, serverID); err != nil {
		return apperr.Wrap(op, err)
	}
	slog.Info("member admitted", "user", userID, "server", serverID)
	return nil
}

// RejectMemberApplication marks a pending application rejected.
func (s *Service) RejectMemberApplication(actorLevel model.Level, userID, serverID string) error {
	const op = "rejectMemberApplication"
	if !permission.IsServerAdmin(actorLevel, true) {
		return apperr.Validation(op, permission.Require(actorLevel, model.LevelServerAdmin))
	}
	app, err := s.store.MemberApplication(userID, serverID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if app == nil || app.Status != model.StatusPending {
		return apperr.NotFound(op, "no pending application")
	}
	if err := s.store.UpdateMemberApplicationStatus(userID, serverID, model.StatusRejected); err != nil {
		return apperr.Wrap(op, err)
	}
	return nil
}

// KickMember removes a user from a server's member set. The target must not
// currently hold a channel in that server; callers disconnect the channel
// first. Location pointers into the server are cleared so a later reconnect
// does not resurrect presence there.
func (s *Service) KickMember(actorLevel model.Level, serverID, targetID string) error {
	const op = "kickMember"
	if !permission.IsServerAdmin(actorLevel, true) {
		return apperr.Validation(op, permission.Require(actorLevel, model.LevelServerAdmin))
	}
	srv, err := s.store.GetServer(serverID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if srv == nil {
		return apperr.NotFound(op, "server not found")
	}
	if srv.OwnerID == targetID {
		return apperr.Validation(op, "cannot kick the server owner")
	}
	m, err := s.store.GetMember(serverID, targetID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if m == nil {
		return apperr.NotFound(op, "not a member of this server")
	}

	u, err := s.store.GetUser(targetID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if u != nil && u.CurrentServerID == serverID && u.InChannel() {
		return apperr.Validation(op, "user still holds a channel in this server")
	}

	if err := s.store.DeleteMember(serverID, targetID); err != nil {
		return apperr.Wrap(op, err)
	}
	if u != nil && u.CurrentServerID == serverID {
		empty := ""
		if err := s.store.UpdateUser(targetID, store.UserPatch{CurrentServerID: &empty, CurrentChannelID: &empty}); err != nil {
			return apperr.Wrap(op, err)
		}
	}
	slog.Info("member kicked", "user", targetID, "server", serverID)
	return nil
}

// SetMemberLevel changes a member's permission level. The actor must hold
// server-admin level or above and cannot grant a level at or above their own.
func (s *Service) SetMemberLevel(actorLevel model.Level, serverID, targetID string, level model.Level) error {
	const op = "setMemberLevel"
	if !permission.IsServerAdmin(actorLevel, true) {
		return apperr.Validation(op, permission.Require(actorLevel, model.LevelServerAdmin))
	}
	if !level.Valid() {
		return apperr.Validation(op, "permission level out of range")
	}
	if level >= actorLevel {
		return apperr.Validation(op, "cannot grant a level at or above your own")
	}
	m, err := s.store.GetMember(serverID, targetID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if m == nil {
		return apperr.NotFound(op, "not a member of this server")
	}
	if err := s.store.UpdateMember(serverID, targetID, store.MemberPatch{Level: &level}); err != nil {
		return apperr.Wrap(op, err)
	}
	return nil
}
