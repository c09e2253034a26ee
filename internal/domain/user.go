package domain

import "time"

// User is an account that may vote on or moderate tags.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	IsModerator bool      `json:"is_moderator"`
	CreatedAt   time.Time `json:"created_at"`
}

// Caller is the identity the request layer resolves for an operation.
// A nil *Caller is anonymous.
type Caller struct {
	UserID      string
	IsModerator bool
}

// CallerFor builds a Caller from a stored user.
func CallerFor(u *User) *Caller {
	if u == nil {
		return nil
	}
	return &Caller{UserID: u.ID, IsModerator: u.IsModerator}
}
