package domain

import "time"

// CurrentTokenID is the fixed identity of the single token row a deployment
// owns. There is exactly one Podio connection per portal deployment, so the
// singleton is enforced structurally by the primary key rather than by
// sorting on updated_at.
const CurrentTokenID int16 = 1

// TokenRecord is the durable OAuth token set for the Podio connection.
type TokenRecord struct {
	ID           int16
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// Remaining reports how long the access token stays valid from now.
func (t TokenRecord) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// Expired reports whether the access token lifetime has fully elapsed.
func (t TokenRecord) Expired(now time.Time) bool {
	return t.Remaining(now) <= 0
}

// PortalUser is the denormalized identity fetched from Podio after login.
// It is cached client side for display only and never treated as
// authoritative.
type PortalUser struct {
	UserID   int64  `json:"user_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}
