package model

import (
	"errors"
	"fmt"
	"time"
)

const MaxUsernameLength = 32

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")
var ErrInvalidLevel = errors.New("invalid permission level: must be 0-8")

// User represents a registered user.
//
// CurrentServerID/CurrentChannelID are the user's last known location;
// empty string means unset. CurrentChannelID is only ever set while
// CurrentServerID names the channel's parent server.
type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	DisplayName      string    `json:"display_name"`
	Avatar           string    `json:"avatar"`
	Status           string    `json:"status"` // free-form status line
	CurrentServerID  string    `json:"current_server_id"`
	CurrentChannelID string    `json:"current_channel_id"`
	LastActiveAt     time.Time `json:"last_active_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// InChannel returns true if the user has a current channel.
func (u *User) InChannel() bool {
	return u.CurrentChannelID != ""
}

// InServer returns true if the user has a current server.
func (u *User) InServer() bool {
	return u.CurrentServerID != ""
}

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric,
// underscore, or hyphen characters. Returns nil on success or a descriptive error.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}
