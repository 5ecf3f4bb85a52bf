package domain

import "time"

// EntryTokenPurpose is the purpose claim carried by entry tokens
const EntryTokenPurpose = "entry"

// EntryToken is a signed credential proving occupancy of an entry slot
type EntryToken struct {
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EntryGrant is returned by a successful validation
type EntryGrant struct {
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Holder is the server-side record of who holds a capacity slot
type Holder struct {
	UserID   string
	EventID  string
	IssuedAt time.Time
}
