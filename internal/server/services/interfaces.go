package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
)

// UserStore is the read side of the authoritative user table.
type UserStore interface {
	ListAll(ctx context.Context) ([]models.UserRecord, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.UserRecord, error)
	GetByUsername(ctx context.Context, username string) (*models.UserRecord, error)
}

// DeviceStore persists (user, tunnel IP) bindings.
type DeviceStore interface {
	GetActiveByTunnelIP(ctx context.Context, tunnelIP string, exceptUserID uuid.UUID) (*models.DeviceRecord, error)
	GetByUserAndTunnelIP(ctx context.Context, userID uuid.UUID, tunnelIP string) (*models.DeviceRecord, error)
	Create(ctx context.Context, device *models.DeviceRecord) error
	Touch(ctx context.Context, device *models.DeviceRecord) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// AccountGateway manages accounts on the VPN server.
type AccountGateway interface {
	ListAccounts(ctx context.Context) (map[string]map[string]string, error)
	CreateAccount(ctx context.Context, username, tempPassword string) error
	SetProperty(ctx context.Context, username, key, value string) error
	DeleteAccount(ctx context.Context, username string) error
	// PurgeAccount deletes an account already seen in ListAccounts.
	PurgeAccount(ctx context.Context, username string) error
}

// ConnectionSource reports the clients currently connected to the VPN server.
type ConnectionSource interface {
	ListLiveConnections(ctx context.Context) ([]models.LiveConnection, error)
}
