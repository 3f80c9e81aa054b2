package model

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a friend or member application.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

var ErrInvalidStatus = errors.New("invalid application status")

// ParseStatus converts a string to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusAccepted, StatusRejected:
		return Status(s), nil
	default:
		return "", ErrInvalidStatus
	}
}

// FriendApplication is a pending friend request from sender to target.
// At most one pending application exists per (sender, target) pair.
type FriendApplication struct {
	SenderID  string    `json:"sender_id"`
	TargetID  string    `json:"target_id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// MemberApplication is a request from a user to join a server.
// At most one pending application exists per (user, server) pair.
type MemberApplication struct {
	UserID    string    `json:"user_id"`
	ServerID  string    `json:"server_id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
