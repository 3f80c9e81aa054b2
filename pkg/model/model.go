// Package model defines the core domain types for govox.
package model

import "github.com/google/uuid"

// Level represents a user's permission level within a server, 0-8.
type Level int

const (
	MinLevel Level = 0
	MaxLevel Level = 8

	LevelGuest        Level = 1 // can see public channels, not a member
	LevelMember       Level = 2 // ordinary server member
	LevelChannelMod   Level = 3 // can moderate channel chat
	LevelChannelAdmin Level = 4 // can manage channel settings
	LevelServerAdmin  Level = 5 // can manage members and applications
	LevelServerOwner  Level = 6 // owns the server
	LevelStaff        Level = 7 // platform staff
	LevelSuperAdmin   Level = 8 // platform operator, exact level only
)

func (l Level) String() string {
	switch l {
	case 0:
		return "none"
	case LevelGuest:
		return "guest"
	case LevelMember:
		return "member"
	case LevelChannelMod:
		return "channel-mod"
	case LevelChannelAdmin:
		return "channel-admin"
	case LevelServerAdmin:
		return "server-admin"
	case LevelServerOwner:
		return "server-owner"
	case LevelStaff:
		return "staff"
	case LevelSuperAdmin:
		return "super-admin"
	default:
		return "unknown"
	}
}

// Valid returns true if the level is inside the recognised 0-8 domain.
func (l Level) Valid() bool {
	return l >= MinLevel && l <= MaxLevel
}

// NewID returns a fresh globally unique entity identifier.
func NewID() string {
	return uuid.NewString()
}
