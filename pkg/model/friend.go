package model

import "time"

// Friendship links two users. The pair is stored canonically ordered
// (UserA < UserB) so each friendship exists exactly once.
type Friendship struct {
	UserA     string    `json:"user_a"`
	UserB     string    `json:"user_b"`
	GroupID   string    `json:"group_id"` // optional grouping, empty = ungrouped
	CreatedAt time.Time `json:"created_at"`
}

// Other returns the friend of userID in this friendship, or empty string
// if userID is not part of the pair.
func (f *Friendship) Other(userID string) string {
	switch userID {
	case f.UserA:
		return f.UserB
	case f.UserB:
		return f.UserA
	default:
		return ""
	}
}

// NormalizePair orders two user IDs canonically for friendship storage.
func NormalizePair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// FriendGroup is a user-defined bucket for organising friends.
type FriendGroup struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
