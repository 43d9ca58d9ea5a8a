package users

import (
	"errors"
	"time"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrDuplicateUsername = errors.New("username already exists")
)

// Kind separates the two account classes: accounts created through the
// admin-invoked registration (and the admins themselves), and self-service
// app accounts. Both share one username space.
type Kind string

const (
	KindAdminCapable Kind = "admin_capable"
	KindStandard     Kind = "standard"
)

type Account struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Kind         Kind      `json:"kind"`
	IsAdmin      bool      `json:"is_admin"`
	SessionKey   string    `json:"-"` // base64, empty when no key is bound
	CreatedAt    time.Time `json:"created_at"`
}
