package auth

import (
	"errors"
)

var ErrInvalidToken = errors.New("invalid token")

// Identity is the authenticated user behind a session token
type Identity struct {
	UserID   string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Validator is an interface that defines the Validate method.
type Validator interface {
	Validate(token string) (*Identity, error)
}

// AllowAllAuth accepts any non-empty token. The token itself becomes the user id.
type AllowAllAuth struct{}

func (a *AllowAllAuth) Validate(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: token, Username: token}, nil
}
