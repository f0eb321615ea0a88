package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceRecord tracks a (user, tunnel IP) binding observed on the VPN server.
// Tunnel IPs are recycled by the server, so uniqueness is on the pair.
type DeviceRecord struct {
	ID     uuid.UUID `json:"id" db:"id"`
	UserID uuid.UUID `json:"user_id" db:"user_id"`

	// VPN-assigned address, e.g. 172.27.228.2
	TunnelIP string `json:"tunnel_ip" db:"tunnel_ip"`
	RealIP   string `json:"real_ip,omitempty" db:"real_ip"`

	ConnectedSince *time.Time `json:"connected_since,omitempty" db:"connected_since"`
	LastSeenAt     time.Time  `json:"last_seen_at" db:"last_seen_at"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// LiveConnection is a client currently connected to the VPN server. Never persisted.
type LiveConnection struct {
	Username       string     `json:"username"`
	TunnelIP       string     `json:"tunnel_ip"`
	RealIP         string     `json:"real_ip"`
	ConnectedSince *time.Time `json:"connected_since,omitempty"`
}
