package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// UserRecord is a row of the authoritative user store. The sync subsystem
// only ever reads it.
type UserRecord struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Username      *string    `json:"username,omitempty" db:"username"`
	Email         string     `json:"email" db:"email"`
	DisplayName   string     `json:"display_name" db:"display_name"`
	Role          Role       `json:"role" db:"role"`
	EmailVerified bool       `json:"email_verified" db:"email_verified"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// SyncEligible reports whether the user should exist in the VPN server.
func (u *UserRecord) SyncEligible() bool {
	return u.Username != nil && *u.Username != "" && u.EmailVerified && u.DeletedAt == nil
}

// Name returns the username or "" when the record has none.
func (u *UserRecord) Name() string {
	if u.Username == nil {
		return ""
	}
	return *u.Username
}

func (u *UserRecord) IsAdmin() bool {
	return u.Role == RoleAdmin
}
