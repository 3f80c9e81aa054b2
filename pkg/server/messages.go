package server

import (
	"encoding/json"

	"github.com/NicolasHaas/govox/pkg/apperr"
)

// request is the client-to-server wire frame. Payload shape depends on Op.
type request struct {
	ID      string          `json:"id,omitempty"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// response is the server-to-client wire frame. Pushed events carry no ID.
type response struct {
	ID    string     `json:"id,omitempty"`
	Op    string     `json:"op"`
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *wireError `json:"error,omitempty"`
}

// wireError is the boundary translation of the structured error contract.
type wireError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Part    string `json:"part"`
	Tag     string `json:"tag"`
	Status  int    `json:"status"`
}

// okResponse builds a success reply to a request.
func okResponse(req request, data any) response {
	return response{ID: req.ID, Op: req.Op, OK: true, Data: data}
}

// errResponse translates any failure into the uniform wire error. Untyped
// errors become SERVER_ERROR with a 500 status so the client-visible
// contract holds no matter which layer failed.
func errResponse(req request, err error) response {
	ae := apperr.Wrap(req.Op, err)
	return response{
		ID: req.ID,
		Op: req.Op,
		OK: false,
		Error: &wireError{
			Name:    ae.Name,
			Message: ae.Message,
			Part:    ae.Part,
			Tag:     ae.Tag,
			Status:  ae.Status,
		},
	}
}

// event builds a pushed notification frame.
func event(op string, data any) response {
	return response{Op: op, OK: true, Data: data}
}

// Payload shapes.

type authPayload struct {
	Username string `json:"username"`
}

type serverPayload struct {
	ServerID string `json:"serverId"`
}

type channelPayload struct {
	ChannelID string `json:"channelId"`
	ServerID  string `json:"serverId"`
	Password  string `json:"password,omitempty"`
}

type movePayload struct {
	ServerID  string `json:"serverId"`
	ChannelID string `json:"channelId"`
}

type updateUserPayload struct {
	DisplayName *string `json:"displayName,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
	Status      *string `json:"status,omitempty"`
}

type createChannelPayload struct {
	ServerID string `json:"serverId"`
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

type refreshPayload struct {
	UserID    string `json:"userId,omitempty"`
	ServerID  string `json:"serverId,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
	TargetID  string `json:"targetId,omitempty"`
}

type friendPayload struct {
	SenderID string `json:"senderId,omitempty"`
	TargetID string `json:"targetId,omitempty"`
	UserID   string `json:"userId,omitempty"`
	GroupID  string `json:"groupId,omitempty"`
	Name     string `json:"name,omitempty"`
	Message  string `json:"message,omitempty"`
}

type memberPayload struct {
	ServerID string `json:"serverId"`
	UserID   string `json:"userId,omitempty"`
	Level    int    `json:"level,omitempty"`
	Message  string `json:"message,omitempty"`
}
