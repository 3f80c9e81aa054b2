// Package presence is the state machine that tracks where users are live:
// which server they are connected to and which channel they are in.
//
// Mutations cascade in a fixed order: server before channel on connect,
// channel before server on disconnect. Each cascade step is committed as its
// own durable write under a per-key lock, so a reader never observes a user
// in a channel whose parent server does not also list them.
package presence

import (
	"log/slog"
	"time"

	"github.com/NicolasHaas/govox/pkg/apperr"
	"github.com/NicolasHaas/govox/pkg/model"
	"github.com/NicolasHaas/govox/pkg/store"
)

// Engine coordinates live presence transitions against the data store.
type Engine struct {
	store store.DataStore
	locks *keyMutex
	now   func() time.Time
}

// New creates a presence engine backed by ds.
func New(ds store.DataStore) *Engine {
	return NewWithClock(ds, func() time.Time { return time.Now().UTC() })
}

// NewWithClock creates an engine with a custom clock, for tests.
func NewWithClock(ds store.DataStore, now func() time.Time) *Engine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store: ds,
		locks: newKeyMutex(),
		now:   now,
	}
}

func userKey(id string) string    { return "user:" + id }
func serverKey(id string) string  { return "server:" + id }
func channelKey(id string) string { return "channel:" + id }

// ConnectUser re-establishes a user's live presence after (re)connection.
// If the user has a current server it marks them live there, and then, only
// after the server step succeeds, re-joins their current channel. Location
// pointers that no longer resolve are cleared rather than failing the
// connect. Stamps lastActiveAt and returns the refreshed user.
func (e *Engine) ConnectUser(userID string) (*model.User, error) {
	e.locks.Lock(userKey(userID))
	defer e.locks.Unlock(userKey(userID))

	u, err := e.store.GetUser(userID)
	if err != nil {
		return nil, apperr.Wrap("connectUser", err)
	}
	if u == nil {
		return nil, apperr.NotFound("connectUser", "user not found")
	}

	patch := store.UserPatch{}
	now := e.now()
	patch.LastActiveAt = &now

	if u.InServer() {
		m, err := e.store.GetMember(u.CurrentServerID, userID)
		if err != nil {
			return nil, apperr.Wrap("connectUser", err)
		}
		if m == nil {
			// Membership was revoked while the user was offline.
			// Heal the stale pointers instead of resurrecting it.
			empty := ""
			patch.CurrentServerID = &empty
			patch.CurrentChannelID = &empty
			slog.Debug("cleared stale location pointers", "user", userID, "server", u.CurrentServerID)
		} else {
			if err := e.connectServerStep(u.CurrentServerID, userID); err != nil {
				return nil, err
			}
			if u.InChannel() {
				ch, err := e.store.GetChannel(u.CurrentChannelID)
				if err != nil {
					return nil, apperr.Wrap("connectUser", err)
				}
				if ch == nil || ch.ServerID != u.CurrentServerID {
					empty := ""
					patch.CurrentChannelID = &empty
				} else if err := e.connectChannelStep(u.CurrentChannelID, userID); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := e.store.UpdateUser(userID, patch); err != nil {
		return nil, apperr.Wrap("connectUser", err)
	}
	u, err = e.store.GetUser(userID)
	if err != nil {
		return nil, apperr.Wrap("connectUser", err)
	}
	slog.Debug("user connected", "user", userID, "server", u.CurrentServerID, "channel", u.CurrentChannelID)
	return u, nil
}

// DisconnectUser tears down a user's live presence: channel first, then
// server. Location pointers are left in place so a later ConnectUser can
// restore the user to where they were. Stamps lastActiveAt with the
// disconnect time.
func (e *Engine) DisconnectUser(userID string) (*model.User, error) {
	e.locks.Lock(userKey(userID))
	defer e.locks.Unlock(userKey(userID))

	u, err := e.store.GetUser(userID)
	if err != nil {
		return nil, apperr.Wrap("disconnectUser", err)
	}
	if u == nil {
		return nil, apperr.NotFound("disconnectUser", "user not found")
	}

	if u.InChannel() {
		if err := e.disconnectChannelStep(u.CurrentChannelID, userID); err != nil {
			return nil, err
		}
	}
	if u.InServer() {
		if err := e.disconnectServerStep(u.CurrentServerID, userID); err != nil {
			return nil, err
		}
	}

	now := e.now()
	if err := e.store.UpdateUser(userID, store.UserPatch{LastActiveAt: &now}); err != nil {
		return nil, apperr.Wrap("disconnectUser", err)
	}
	u, err = e.store.GetUser(userID)
	if err != nil {
		return nil, apperr.Wrap("disconnectUser", err)
	}
	slog.Debug("user disconnected", "user", userID)
	return u, nil
}

// ConnectServer marks a user live in a server's member set. It does not
// touch the channel level.
func (e *Engine) ConnectServer(serverID, userID string) error {
	m, err := e.store.GetMember(serverID, userID)
	if err != nil {
		return apperr.Wrap("connectServer", err)
	}
	if m == nil {
		return apperr.NotFound("connectServer", "not a member of this server")
	}
	return e.connectServerStep(serverID, userID)
}

func (e *Engine) connectServerStep(serverID, userID string) error {
	e.locks.Lock(serverKey(serverID))
	defer e.locks.Unlock(serverKey(serverID))

	online := true
	if err := e.store.UpdateMember(serverID, userID, store.MemberPatch{Online: &online}); err != nil {
		return apperr.Wrap("connectServer", err)
	}
	return nil
}

// DisconnectServer marks a user offline in a server's member set. It does
// not touch the channel level; callers disconnect the channel first.
func (e *Engine) DisconnectServer(serverID, userID string) error {
	return e.disconnectServerStep(serverID, userID)
}

func (e *Engine) disconnectServerStep(serverID, userID string) error {
	e.locks.Lock(serverKey(serverID))
	defer e.locks.Unlock(serverKey(serverID))

	online := false
	if err := e.store.UpdateMember(serverID, userID, store.MemberPatch{Online: &online}); err != nil {
		return apperr.Wrap("disconnectServer", err)
	}
	return nil
}

// ConnectChannel adds a user to a channel's live member set. The caller
// must already hold server-level presence; if not, this is a defensive
// no-op rather than a membership-invariant violation. Adding a user who
// is already in the set is a no-op, so concurrent joins cannot duplicate.
func (e *Engine) ConnectChannel(channelID, serverID, userID string) error {
	ch, err := e.store.GetChannel(channelID)
	if err != nil {
		return apperr.Wrap("connectChannel", err)
	}
	if ch == nil {
		return apperr.NotFound("connectChannel", "channel not found")
	}
	if ch.ServerID != serverID {
		return apperr.Validation("connectChannel", "channel does not belong to this server")
	}

	m, err := e.store.GetMember(serverID, userID)
	if err != nil {
		return apperr.Wrap("connectChannel", err)
	}
	if m == nil || !m.Online {
		// Server-level precondition not held. A channel write here would
		// break the subset invariant, so skip it.
		slog.Debug("channel join skipped, user not live in server", "user", userID, "server", serverID, "channel", channelID)
		return nil
	}
	return e.connectChannelStep(channelID, userID)
}

func (e *Engine) connectChannelStep(channelID, userID string) error {
	e.locks.Lock(channelKey(channelID))
	defer e.locks.Unlock(channelKey(channelID))

	if err := e.store.AddChannelMember(channelID, userID); err != nil {
		return apperr.Wrap("connectChannel", err)
	}
	return nil
}

// DisconnectChannel removes a user from a channel's live member set.
// Removing an absent user is a no-op.
func (e *Engine) DisconnectChannel(channelID, serverID, userID string) error {
	return e.disconnectChannelStep(channelID, userID)
}

func (e *Engine) disconnectChannelStep(channelID, userID string) error {
	e.locks.Lock(channelKey(channelID))
	defer e.locks.Unlock(channelKey(channelID))

	if err := e.store.RemoveChannelMember(channelID, userID); err != nil {
		return apperr.Wrap("disconnectChannel", err)
	}
	return nil
}

// UpdateUser applies a field patch to a user under the user's key lock and
// returns the patch that was applied. Higher-level moves are composed from
// disconnect-from-old, UpdateUser to repoint, connect-to-new.
func (e *Engine) UpdateUser(userID string, patch store.UserPatch) (store.UserPatch, error) {
	e.locks.Lock(userKey(userID))
	defer e.locks.Unlock(userKey(userID))

	u, err := e.store.GetUser(userID)
	if err != nil {
		return store.UserPatch{}, apperr.Wrap("updateUser", err)
	}
	if u == nil {
		return store.UserPatch{}, apperr.NotFound("updateUser", "user not found")
	}
	if err := e.store.UpdateUser(userID, patch); err != nil {
		return store.UserPatch{}, apperr.Wrap("updateUser", err)
	}
	return patch, nil
}

// MoveToChannel relocates a user to a channel, composing the disconnect,
// repoint, and connect cascade. The whole composition runs under the
// user's key lock so concurrent moves for the same user serialize and
// each sees the other's committed teardown. The target channel must
// belong to a server the user is a member of. Passing an empty channelID
// leaves the user in the server lobby with no channel.
func (e *Engine) MoveToChannel(userID, serverID, channelID string) (*model.User, error) {
	const op = "moveToChannel"

	e.locks.Lock(userKey(userID))
	defer e.locks.Unlock(userKey(userID))

	u, err := e.store.GetUser(userID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if u == nil {
		return nil, apperr.NotFound(op, "user not found")
	}

	m, err := e.store.GetMember(serverID, userID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if m == nil {
		return nil, apperr.NotFound(op, "not a member of this server")
	}
	if channelID != "" {
		ch, err := e.store.GetChannel(channelID)
		if err != nil {
			return nil, apperr.Wrap(op, err)
		}
		if ch == nil {
			return nil, apperr.NotFound(op, "channel not found")
		}
		if ch.ServerID != serverID {
			return nil, apperr.Validation(op, "channel does not belong to this server")
		}
	}

	// Teardown at the old location, channel before server.
	if u.InChannel() {
		if err := e.disconnectChannelStep(u.CurrentChannelID, userID); err != nil {
			return nil, err
		}
	}
	if u.InServer() && u.CurrentServerID != serverID {
		if err := e.disconnectServerStep(u.CurrentServerID, userID); err != nil {
			return nil, err
		}
	}

	// Repoint, then build up at the new location, server before channel.
	// The user lock is already held here, so write the pointer patch
	// directly instead of going through UpdateUser.
	if err := e.store.UpdateUser(userID, store.UserPatch{
		CurrentServerID:  &serverID,
		CurrentChannelID: &channelID,
	}); err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if err := e.connectServerStep(serverID, userID); err != nil {
		return nil, err
	}
	if channelID != "" {
		if err := e.connectChannelStep(channelID, userID); err != nil {
			return nil, err
		}
	}

	u, err = e.store.GetUser(userID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return u, nil
}
