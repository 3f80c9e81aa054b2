package model

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxServerNameLength = 64
	MaxServerDescLength = 256
)

var ErrServerNameEmpty = errors.New("server name must not be empty")
var ErrServerNameTooLong = errors.New("server name too long")
var ErrServerDescTooLong = errors.New("server description too long")
var ErrServerOwnerEmpty = errors.New("server owner must be set")

// Server represents a community server (guild) that users join and
// occupy channels within.
type Server struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Avatar      string    `json:"avatar"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks server fields before persisting.
func (s *Server) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrServerNameEmpty
	}
	if utf8.RuneCountInString(s.Name) > MaxServerNameLength {
		return ErrServerNameTooLong
	}
	if utf8.RuneCountInString(s.Description) > MaxServerDescLength {
		return ErrServerDescTooLong
	}
	if s.OwnerID == "" {
		return ErrServerOwnerEmpty
	}
	return nil
}
