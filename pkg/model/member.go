package model

import "time"

// Member is one entry of a server's member set: a user plus their
// permission level inside that server. Online marks live presence, flipped
// by the presence engine on connect/disconnect.
type Member struct {
	ServerID  string    `json:"server_id"`
	UserID    string    `json:"user_id"`
	Nickname  string    `json:"nickname"`
	Level     Level     `json:"level"`
	Online    bool      `json:"online"`
	CreatedAt time.Time `json:"created_at"`
}
