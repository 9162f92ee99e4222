package models

import "time"

// User is the identity returned by the upstream user service.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// AuthResponse is the body of /user/login and POST /user.
type AuthResponse struct {
	AccessToken string `json:"access_token"`
	User        User   `json:"user"`
}

// LoginBody is the login form.
type LoginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CreateUserBody is the registration form.
type CreateUserBody struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Session binds a gateway token to the upstream identity. The raw gateway
// token is shown once at login; only its bcrypt hash is stored.
type Session struct {
	ID          string    `json:"id"`
	TokenHash   string    `json:"token_hash"`
	TokenPrefix string    `json:"token_prefix"`
	AccessToken string    `json:"access_token"`
	User        User      `json:"user"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
