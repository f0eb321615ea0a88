package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrSyncInProgress is returned when a pass is requested while another
	// one is running. The request is dropped, not queued.
	ErrSyncInProgress = errors.New("sync already running")

	// ErrSelfRemoval guards against an operator deleting their own VPN account.
	ErrSelfRemoval = errors.New("refusing to remove the caller's own account")

	ErrUserNotFound = errors.New("user not found")
)

// ValidationError reports bad caller input. It is never a pass failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// ConflictError describes a tunnel IP still bound to a previous user.
// The device resolver handles it by eviction and never returns it.
type ConflictError struct {
	TunnelIP    string
	StaleUserID uuid.UUID
	NewUserID   uuid.UUID
	StaleID     uuid.UUID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("tunnel ip %s reassigned from user %s to user %s", e.TunnelIP, e.StaleUserID, e.NewUserID)
}
