package dto

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/Ebrudra/desk-access-hub/backend-console/internal/domain"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// SignInRequest represents a password sign-in
type SignInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Normalize trims and lowercases the email
func (r *SignInRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
}

// SignUpRequest represents account registration
type SignUpRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

// Normalize trims and lowercases the email
func (r *SignUpRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
	r.FullName = strings.TrimSpace(r.FullName)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail validates the email format
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return domain.ErrInvalidEmail
	}
	return nil
}

// ValidatePassword requires 8 to 72 characters with a letter and a digit.
// 72 is the bcrypt input limit.
func ValidatePassword(password string) error {
	if len(password) < 8 || len(password) > 72 {
		return domain.ErrWeakPassword
	}
	var hasLetter, hasDigit bool
	for _, c := range password {
		switch {
		case unicode.IsLetter(c):
			hasLetter = true
		case unicode.IsDigit(c):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return domain.ErrWeakPassword
	}
	return nil
}

// RefreshRequest represents a token refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// PasswordResetRequest starts a password reset
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required"`
	// RedirectTo is where the emailed link points; the token is appended as ?token=
	RedirectTo string `json:"redirect_to"`
}

// Normalize trims and lowercases the email
func (r *PasswordResetRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
}

// CompletePasswordResetRequest finishes a password reset
type CompletePasswordResetRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse is returned by sign-in, sign-up and refresh. Redirect tells
// the client where to navigate next.
type AuthResponse struct {
	Session  *domain.AuthSession `json:"session,omitempty"`
	User     *UserResponse       `json:"user,omitempty"`
	Redirect string              `json:"redirect"`
	Message  string              `json:"message,omitempty"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FullName       string `json:"full_name"`
	EmailConfirmed bool   `json:"email_confirmed"`
	CreatedAt      string `json:"created_at"`
}

// NewUserResponse converts a user for output
func NewUserResponse(u *domain.User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{
		ID:             u.ID,
		Email:          u.Email,
		FullName:       u.FullName,
		EmailConfirmed: u.EmailConfirmed,
		CreatedAt:      u.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
