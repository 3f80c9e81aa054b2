package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxChannelNameLength = 64

var ErrChannelNameEmpty = errors.New("channel name must not be empty")
var ErrChannelNameTooLong = errors.New("channel name too long")
var ErrChannelServerEmpty = errors.New("channel must belong to a server")

// Channel represents a channel inside a server.
//
// ServerID is immutable after creation. A channel's live member set is
// always a subset of its parent server's member set.
type Channel struct {
	ID        string    `json:"id"`
	ServerID  string    `json:"server_id"`
	Name      string    `json:"name"`
	Password  string    `json:"-"` // optional join gate, empty = open
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks channel fields before persisting.
func (ch *Channel) Validate() error {
	if strings.TrimSpace(ch.Name) == "" {
		return ErrChannelNameEmpty
	}
	if utf8.RuneCountInString(ch.Name) > MaxChannelNameLength {
		return ErrChannelNameTooLong
	}
	if ch.ServerID == "" {
		return ErrChannelServerEmpty
	}
	return nil
}
