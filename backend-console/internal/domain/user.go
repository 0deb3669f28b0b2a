package domain

import "time"

// User is an account in the auth tables
type User struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	FullName       string     `json:"full_name"`
	EmailConfirmed bool       `json:"email_confirmed"`
	IsActive       bool       `json:"is_active"`
	LastSignInAt   *time.Time `json:"last_sign_in_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Session is a refresh-token backed sign-in
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	RefreshToken string    `json:"-"`
	UserAgent    string    `json:"user_agent"`
	IP           string    `json:"ip"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession is what sign-in and refresh hand back to the client
type AuthSession struct {
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ExpiresWithin reports whether the access token expires within d of now
func (s *AuthSession) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !s.ExpiresAt.After(now.Add(d))
}

// PasswordReset is a pending reset request; only the token hash is stored
type PasswordReset struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
