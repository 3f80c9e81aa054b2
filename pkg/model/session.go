package model

import "time"

// Session represents an active client session (in-memory only).
// Sessions never survive a process restart; a restart implicitly
// invalidates every session.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
}
