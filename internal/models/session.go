package models

import "time"

// Session is the authenticated context the reconciler borrows its bearer
// token from. Issuing and refreshing tokens happens outside this system.
type Session struct {
	Token    string    `json:"token"`
	Username string    `json:"username"`
	SavedAt  time.Time `json:"saved_at"`
}
