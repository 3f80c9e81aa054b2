package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/govox/pkg/apperr"
	"github.com/NicolasHaas/govox/pkg/crypto"
	"github.com/NicolasHaas/govox/pkg/model"
	"github.com/NicolasHaas/govox/pkg/permission"
	"github.com/NicolasHaas/govox/pkg/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin checks belong to a fronting proxy in this deployment.
	CheckOrigin: func(*http.Request) bool { return true },
}

// client is one websocket connection. userID is empty until auth succeeds.
type client struct {
	srv  *Server
	conn *websocket.Conn
	out  chan response

	mu        sync.RWMutex
	userID    string
	sessionID string
}

// handleWS upgrades an HTTP request and runs the connection lifecycle.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := &client{srv: s, conn: conn, out: make(chan response, sendQueueSize)}
	s.addClient(c)
	slog.Debug("client connected", "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump()
}

func (c *client) identity() (userID, sessionID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.sessionID
}

func (c *client) currentServer() string {
	userID, _ := c.identity()
	if userID == "" {
		return ""
	}
	u, err := c.srv.store.GetUser(userID)
	if err != nil || u == nil {
		return ""
	}
	return u.CurrentServerID
}

// send queues a frame for delivery. A slow client drops frames rather than
// stalling the server; the refresh path reconciles what was missed.
func (c *client) send(msg response) {
	select {
	case c.out <- msg:
	default:
		slog.Warn("send queue full, dropping frame", "op", msg.Op)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("client read error", "err", err)
			}
			return
		}
		c.send(c.dispatch(req))
	}
}

// teardown runs once when the read loop exits: destroy the session, tear
// down live presence, and drop the client from the broadcast set.
func (c *client) teardown() {
	userID, sessionID := c.identity()
	if sessionID != "" {
		c.srv.sessions.Destroy(sessionID)
	}
	if userID != "" {
		if _, err := c.srv.presence.DisconnectUser(userID); err != nil {
			slog.Error("disconnect on close failed", "user", userID, "err", err)
		} else {
			c.srv.metrics.UserDisconnects.Add(1)
		}
	}
	c.srv.removeClient(c)
	close(c.out)
	_ = c.conn.Close()
}

// dispatch routes one request frame. Every path returns a uniform reply.
func (c *client) dispatch(req request) response {
	if req.Op == "auth" {
		return c.handleAuth(req)
	}

	userID, sessionID := c.identity()
	if userID == "" {
		return errResponse(req, apperr.SessionInvalid(req.Op))
	}
	// Sessions are revocable out-of-band, so re-check on every frame.
	if _, err := c.srv.sessions.Resolve(sessionID); err != nil {
		return errResponse(req, err)
	}

	switch req.Op {
	case "connect":
		u, err := c.srv.presence.ConnectUser(userID)
		if err != nil {
			return errResponse(req, err)
		}
		c.srv.metrics.UserConnects.Add(1)
		return okResponse(req, u)

	case "disconnect":
		u, err := c.srv.presence.DisconnectUser(userID)
		if err != nil {
			return errResponse(req, err)
		}
		c.srv.metrics.UserDisconnects.Add(1)
		return okResponse(req, u)

	case "connectServer":
		var p serverPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload"))
		}
		if err := c.srv.presence.ConnectServer(p.ServerID, userID); err != nil {
			return errResponse(req, err)
		}
		// Repoint so the disconnect cascade can unwind this join later.
		if err := c.repointServer(req.Op, userID, p.ServerID); err != nil {
			return errResponse(req, err)
		}
		c.srv.broadcastToServer(p.ServerID, event("memberOnline", map[string]string{"serverId": p.ServerID, "userId": userID}))
		return okResponse(req, nil)

	case "disconnectServer":
		var p serverPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload"))
		}
		if err := c.srv.presence.DisconnectServer(p.ServerID, userID); err != nil {
			return errResponse(req, err)
		}
		if err := c.clearPointers(req.Op, userID, p.ServerID, ""); err != nil {
			return errResponse(req, err)
		}
		c.srv.broadcastToServer(p.ServerID, event("memberOffline", map[string]string{"serverId": p.ServerID, "userId": userID}))
		return okResponse(req, nil)

	case "connectChannel":
		return c.handleConnectChannel(req, userID)

	case "disconnectChannel":
		var p channelPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload"))
		}
		if err := c.srv.presence.DisconnectChannel(p.ChannelID, p.ServerID, userID); err != nil {
			return errResponse(req, err)
		}
		if err := c.clearPointers(req.Op, userID, "", p.ChannelID); err != nil {
			return errResponse(req, err)
		}
		c.srv.metrics.ChannelLeaves.Add(1)
		c.srv.broadcastToServer(p.ServerID, event("channelLeft", map[string]string{"channelId": p.ChannelID, "userId": userID}))
		return okResponse(req, nil)

	case "moveToChannel":
		var p movePayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload"))
		}
		u, err := c.srv.presence.MoveToChannel(userID, p.ServerID, p.ChannelID)
		if err != nil {
			return errResponse(req, err)
		}
		c.srv.metrics.ChannelJoins.Add(1)
		c.srv.broadcastToServer(p.ServerID, event("memberMoved", u))
		return okResponse(req, u)

	case "updateUser":
		var p updateUserPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload"))
		}
		patch, err := c.srv.presence.UpdateUser(userID, store.UserPatch{
			DisplayName: p.DisplayName,
			Avatar:      p.Avatar,
			Status:      p.Status,
		})
		if err != nil {
			return errResponse(req, err)
		}
		return okResponse(req, patch)

	case "createChannel":
		return c.handleCreateChannel(req, userID)

	case "deleteChannel":
		return c.handleDeleteChannel(req, userID)

	case "searchUsers":
		var p refreshPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload"))
		}
		users, err := c.srv.store.SearchUsers(p.UserID)
		if err != nil {
			return errResponse(req, err)
		}
		return okResponse(req, users)
	}

	if resp, handled := c.dispatchRefresh(req, userID); handled {
		return resp
	}
	if resp, handled := c.dispatchSocial(req, userID); handled {
		return resp
	}
	return errResponse(req, apperr.Validation(req.Op, "unknown operation"))
}

func (c *client) handleAuth(req request) response {
	var p authPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errResponse(req, apperr.Validation(req.Op, "malformed payload"))
	}

	u, err := c.srv.store.GetUserByUsername(p.Username)
	if err != nil {
		c.srv.metrics.FailedAuths.Add(1)
		return errResponse(req, err)
	}
	if u == nil {
		if !c.srv.cfg.OpenSignup {
			c.srv.metrics.FailedAuths.Add(1)
			return errResponse(req, apperr.TokenInvalid(req.Op))
		}
		u = &model.User{Username: p.Username}
		if err := c.srv.store.CreateUser(u); err != nil {
			c.srv.metrics.FailedAuths.Add(1)
			return errResponse(req, err)
		}
		slog.Info("registered new user", "username", p.Username)
	}

	sess := c.srv.sessions.Create(u.ID)
	c.mu.Lock()
	c.userID = u.ID
	c.sessionID = sess.ID
	c.mu.Unlock()

	view, err := c.srv.presence.ConnectUser(u.ID)
	if err != nil {
		return errResponse(req, err)
	}
	c.srv.metrics.SuccessfulAuths.Add(1)
	c.srv.metrics.UserConnects.Add(1)
	slog.Info("client authenticated", "user", u.ID, "username", u.Username)
	return okResponse(req, map[string]any{"sessionId": sess.ID, "user": view})
}

func (c *client) handleConnectChannel(req request, userID string) response {
	var p channelPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errResponse(req, apperr.Validation(req.Op, "malformed payload"))
	}

	m, err := c.srv.store.GetMember(p.ServerID, userID)
	if err != nil {
		return errResponse(req, err)
	}
	if m == nil || !permission.IsMember(m.Level, true) {
		return errResponse(req, apperr.Validation(req.Op, "not a member of this server"))
	}
	if !m.Online {
		return errResponse(req, apperr.Validation(req.Op, "not connected to this server"))
	}

	ch, err := c.srv.store.GetChannel(p.ChannelID)
	if err != nil {
		return errResponse(req, err)
	}
	if ch == nil {
		return errResponse(req, apperr.NotFound(req.Op, "channel not found"))
	}
	if ch.Password != "" {
		ok, err := crypto.VerifyPassword(p.Password, ch.Password)
		if err != nil || !ok {
			return errResponse(req, apperr.Validation(req.Op, "wrong channel password"))
		}
	}

	if err := c.srv.presence.ConnectChannel(p.ChannelID, p.ServerID, userID); err != nil {
		return errResponse(req, err)
	}
	// Record the join in the location pointers so a dropped connection's
	// disconnect cascade removes the live channel entry again.
	if _, err := c.srv.presence.UpdateUser(userID, store.UserPatch{
		CurrentServerID:  &p.ServerID,
		CurrentChannelID: &p.ChannelID,
	}); err != nil {
		return errResponse(req, err)
	}
	c.srv.metrics.ChannelJoins.Add(1)
	c.srv.broadcastToServer(p.ServerID, event("channelJoined", map[string]string{"channelId": p.ChannelID, "userId": userID}))
	return okResponse(req, nil)
}

func (c *client) handleCreateChannel(req request, userID string) response {
	var p createChannelPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errResponse(req, apperr.Validation(req.Op, "malformed payload"))
	}

	m, err := c.srv.store.GetMember(p.ServerID, userID)
	if err != nil {
		return errResponse(req, err)
	}
	if m == nil || !permission.IsChannelAdmin(m.Level, true) {
		return errResponse(req, apperr.Validation(req.Op, permission.Require(memberLevel(m), model.LevelChannelAdmin)))
	}

	ch := &model.Channel{ServerID: p.ServerID, Name: p.Name}
	if p.Password != "" {
		hash, err := crypto.HashPassword(p.Password)
		if err != nil {
			return errResponse(req, err)
		}
		ch.Password = hash
	}
	if err := c.srv.store.CreateChannel(ch); err != nil {
		return errResponse(req, err)
	}
	c.srv.broadcastToServer(p.ServerID, event("channelCreated", ch))
	return okResponse(req, ch)
}

func (c *client) handleDeleteChannel(req request, userID string) response {
	var p channelPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errResponse(req, apperr.Validation(req.Op, "malformed payload"))
	}

	m, err := c.srv.store.GetMember(p.ServerID, userID)
	if err != nil {
		return errResponse(req, err)
	}
	if m == nil || !permission.IsChannelAdmin(m.Level, true) {
		return errResponse(req, apperr.Validation(req.Op, permission.Require(memberLevel(m), model.LevelChannelAdmin)))
	}

	ch, err := c.srv.store.GetChannel(p.ChannelID)
	if err != nil {
		return errResponse(req, err)
	}
	if ch == nil || ch.ServerID != p.ServerID {
		return errResponse(req, apperr.NotFound(req.Op, "channel not found"))
	}
	if err := c.srv.store.DeleteChannel(p.ChannelID); err != nil {
		return errResponse(req, err)
	}
	c.srv.broadcastToServer(p.ServerID, event("channelDeleted", map[string]string{"channelId": p.ChannelID}))
	return okResponse(req, nil)
}

func memberLevel(m *model.Member) model.Level {
	if m == nil {
		return model.MinLevel
	}
	return m.Level
}

// repointServer records a server join in the user's location pointers so the
// socket-close disconnect cascade can unwind it. Joining a different server
// also clears the channel pointer, which cannot outlive its parent.
func (c *client) repointServer(op, userID, serverID string) error {
	u, err := c.srv.store.GetUser(userID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if u == nil {
		return apperr.NotFound(op, "user not found")
	}
	if u.CurrentServerID == serverID {
		return nil
	}
	empty := ""
	_, err = c.srv.presence.UpdateUser(userID, store.UserPatch{
		CurrentServerID:  &serverID,
		CurrentChannelID: &empty,
	})
	return err
}

// clearPointers drops location pointers that a granular disconnect just
// invalidated. Only pointers that still name the departed server or channel
// are cleared, so a racing move to elsewhere is left alone.
func (c *client) clearPointers(op, userID, serverID, channelID string) error {
	u, err := c.srv.store.GetUser(userID)
	if err != nil {
		return apperr.Wrap(op, err)
	}
	if u == nil {
		return apperr.NotFound(op, "user not found")
	}
	empty := ""
	patch := store.UserPatch{}
	if serverID != "" && u.CurrentServerID == serverID {
		patch.CurrentServerID = &empty
		patch.CurrentChannelID = &empty
	}
	if channelID != "" && u.CurrentChannelID == channelID {
		patch.CurrentChannelID = &empty
	}
	if patch.CurrentServerID == nil && patch.CurrentChannelID == nil {
		return nil
	}
	_, err = c.srv.presence.UpdateUser(userID, patch)
	return err
}

// dispatchRefresh serves the pull-based resynchronization reads.
func (c *client) dispatchRefresh(req request, userID string) (response, bool) {
	var p refreshPayload
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload")), true
		}
	}
	// Identifier-less refreshes default to the caller.
	if p.UserID == "" {
		p.UserID = userID
	}
	if p.TargetID == "" {
		p.TargetID = userID
	}

	var (
		data any
		err  error
	)
	switch req.Op {
	case "refreshUser":
		data, err = c.srv.refresh.User(p.UserID)
	case "refreshServer":
		data, err = c.srv.refresh.Server(p.ServerID)
	case "refreshChannel":
		data, err = c.srv.refresh.Channel(p.ChannelID)
	case "refreshServerMembers":
		data, err = c.srv.refresh.ServerMembers(p.ServerID)
	case "refreshServerChannels":
		data, err = c.srv.refresh.ServerChannels(p.ServerID)
	case "refreshUserServers":
		data, err = c.srv.refresh.UserServers(p.UserID)
	case "refreshUserFriends":
		data, err = c.srv.refresh.UserFriends(p.UserID)
	case "refreshUserFriendGroups":
		data, err = c.srv.refresh.UserFriendGroups(p.UserID)
	case "refreshFriendApplication":
		data, err = c.srv.refresh.FriendApplication(p.SenderID, p.TargetID)
	case "refreshMemberApplication":
		data, err = c.srv.refresh.MemberApplication(p.UserID, p.ServerID)
	case "refreshServerMemberApplications":
		data, err = c.srv.refresh.ServerMemberApplications(p.ServerID)
	case "refreshUserFriendApplications":
		data, err = c.srv.refresh.UserFriendApplications(p.TargetID)
	default:
		return response{}, false
	}
	if err != nil {
		return errResponse(req, err), true
	}
	c.srv.metrics.RefreshReads.Add(1)
	return okResponse(req, data), true
}

// dispatchSocial serves the relationship lifecycle operations.
func (c *client) dispatchSocial(req request, userID string) (response, bool) {
	switch req.Op {
	case "sendFriendApplication":
		var p friendPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload")), true
		}
		app, err := c.srv.social.SendFriendApplication(userID, p.TargetID, p.Message)
		if err != nil {
			return errResponse(req, err), true
		}
		c.srv.metrics.FriendRequests.Add(1)
		return okResponse(req, app), true

	case "acceptFriendApplication":
		var p friendPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload")), true
		}
		if err := c.srv.social.AcceptFriendApplication(p.SenderID, userID); err != nil {
			return errResponse(req, err), true
		}
		return okResponse(req, nil), true

	case "rejectFriendApplication":
		var p friendPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload")), true
		}
		if err := c.srv.social.RejectFriendApplication(p.SenderID, userID); err != nil {
			return errResponse(req, err), true
		}
		return okResponse(req, nil), true

	case "cancelFriendApplication":
		var p friendPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload")), true
		}
		if err := c.srv.social.CancelFriendApplication(userID, p.TargetID); err != nil {
			return errResponse(req, err), true
		}
		return okResponse(req, nil), true

	case "removeFriend":
		var p friendPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload")), true
		}
		if err := c.srv.social.RemoveFriend(userID, p.UserID); err != nil {
			return errResponse(req, err), true
		}
		return okResponse(req, nil), true

	case "createFriendGroup":
		var p friendPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload")), true
		}
		g, err := c.srv.social.CreateFriendGroup(userID, p.Name)
		if err != nil {
			return errResponse(req, err), true
		}
		return okResponse(req, g), true

	case "deleteFriendGroup":
		var p friendPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload")), true
		}
		if err := c.srv.social.DeleteFriendGroup(userID, p.GroupID); err != nil {
			return errResponse(req, err), true
		}
		return okResponse(req, nil), true

	case "sendMemberApplication":
		var p memberPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return errResponse(req, apperr.Validation(req.Op, "malformed payload")), true
		}
		app, err := c.srv.social.SendMemberApplication(userID, p.ServerID, p.Message)
		if err != nil {
			return errResponse(req, err), true
		}
		c.srv.metrics.MemberRequests.Add(1)
		return okResponse(req, app), true

	case "acceptMemberApplication", "rejectMemberApplication", "kickMember", "setMemberLevel":
		return c.dispatchMemberAdmin(req, userID), true
	}
	return response{}, false
}

// dispatchMemberAdmin handles the member operations gated on the actor's
// level in the target server.
func (c *client) dispatchMemberAdmin(req request, userID string) response {
	var p memberPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return errResponse(req, apperr.Validation(req.Op, "malformed payload"))
	}

	actor, err := c.srv.store.GetMember(p.ServerID, userID)
	if err != nil {
		return errResponse(req, err)
	}
	actorLevel := memberLevel(actor)

	switch req.Op {
	case "acceptMemberApplication":
		if err := c.srv.social.AcceptMemberApplication(actorLevel, p.UserID, p.ServerID); err != nil {
			return errResponse(req, err)
		}
		c.srv.broadcastToServer(p.ServerID, event("memberJoined", map[string]string{"serverId": p.ServerID, "userId": p.UserID}))
		return okResponse(req, nil)

	case "rejectMemberApplication":
		if err := c.srv.social.RejectMemberApplication(actorLevel, p.UserID, p.ServerID); err != nil {
			return errResponse(req, err)
		}
		return okResponse(req, nil)

	case "kickMember":
		if err := c.srv.social.KickMember(actorLevel, p.ServerID, p.UserID); err != nil {
			return errResponse(req, err)
		}
		c.srv.metrics.KickCount.Add(1)
		c.srv.broadcastToServer(p.ServerID, event("memberKicked", map[string]string{"serverId": p.ServerID, "userId": p.UserID}))
		return okResponse(req, nil)

	case "setMemberLevel":
		if err := c.srv.social.SetMemberLevel(actorLevel, p.ServerID, p.UserID, model.Level(p.Level)); err != nil {
			return errResponse(req, err)
		}
		c.srv.broadcastToServer(p.ServerID, event("memberLevelChanged", map[string]any{"serverId": p.ServerID, "userId": p.UserID, "level": p.Level}))
		return okResponse(req, nil)
	}
	return errResponse(req, apperr.Validation(req.Op, "unknown operation"))
}
