package models

import "time"

// SessionState is the Session Manager state.
type SessionState string

const (
	StateUnauthenticated SessionState = "unauthenticated"
	StateGuest           SessionState = "guest"
	StateAuthenticated   SessionState = "authenticated"
)

// Session is a snapshot of the active session.
type Session struct {
	State     SessionState `json:"state"`
	UserID    string       `json:"user_id,omitempty"`
	Username  string       `json:"username,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

// Active reports whether an account is selected.
func (s Session) Active() bool {
	return s.State != StateUnauthenticated && s.UserID != ""
}

// TokenClaims holds the claims read from an identity token.
type TokenClaims struct {
	Subject   string
	ExpiresAt time.Time
}

// LoginResult is returned by the identity service on sign-in.
type LoginResult struct {
	Message string `json:"message"`
	IDToken string `json:"idToken"`
}

// SignUpResult is returned by the identity service on sign-up.
type SignUpResult struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// SessionEvent is emitted on every state transition.
type SessionEvent struct {
	From   SessionState `json:"from"`
	To     SessionState `json:"to"`
	UserID string       `json:"user_id,omitempty"`
	Reason string       `json:"reason,omitempty"`
	At     time.Time    `json:"at"`
}

// KeyValue is a device-level setting such as the last-guest pointer.
type KeyValue struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Device-level keys.
const (
	KeyLastGuestID      = "last_guest_user_id"
	KeySessionToken     = "session_token"
	KeySessionExpiresAt = "session_expires_at"
)
