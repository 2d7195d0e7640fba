package user

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a user or token row does not exist.
var ErrNotFound = errors.New("not found")

// User is a gateway account. Upstream credentials live on the same row.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Credentials authorize calls to the upstream retrieval API on a user's behalf.
type Credentials struct {
	APIKey         string `json:"-"`
	OrganizationID string `json:"organization_id"`
	ProjectID      string `json:"project_id"`
}

// Complete reports whether every field needed for an upstream call is set.
func (c *Credentials) Complete() bool {
	return c != nil && c.APIKey != "" && c.OrganizationID != "" && c.ProjectID != ""
}

// CreateUserInput holds the fields required to create a new user.
type CreateUserInput struct {
	Email       string
	Credentials Credentials
}

// AccessToken is a stored bearer credential. Only the hash is persisted.
type AccessToken struct {
	TokenHash string    `json:"-"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
