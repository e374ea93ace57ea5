package oauth

import "time"

// State captures the anti-CSRF nonce persisted between the authorization
// redirect and its callback. A state is consumed at most once.
type State struct {
	State       string    `json:"state"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the state validity window has elapsed.
func (s State) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// TokenResponse models the response from the Podio token endpoint for all
// three grant types.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int64
	Raw          map[string]any
}
