package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/kamikazebr/ovpn-sync/internal/log"
	"github.com/kamikazebr/ovpn-sync/internal/server/metrics"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
	"github.com/rs/zerolog"
)

// DeviceConflictService keeps device records consistent with the live
// connection list when the VPN server hands a tunnel IP to a different user.
// It keeps at most one active record per tunnel IP.
type DeviceConflictService struct {
	users   UserStore
	devices DeviceStore
	source  ConnectionSource
	logger  zerolog.Logger
}

func NewDeviceConflictService(users UserStore, devices DeviceStore, source ConnectionSource) *DeviceConflictService {
	return &DeviceConflictService{
		users:   users,
		devices: devices,
		source:  source,
		logger:  log.WithComponent("device-conflict"),
	}
}

// ResolveLive fetches the live connection list and processes it.
func (s *DeviceConflictService) ResolveLive(ctx context.Context) (*models.ResolveSummary, error) {
	conns, err := s.source.ListLiveConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list live connections: %w", err)
	}
	return s.Process(ctx, conns), nil
}

// Process applies each observed connection. A connection that cannot be
// processed is logged and skipped; the rest still run.
func (s *DeviceConflictService) Process(ctx context.Context, conns []models.LiveConnection) *models.ResolveSummary {
	summary := &models.ResolveSummary{
		Reassignments: []models.Reassignment{},
		Skipped:       []models.SyncIssue{},
	}

	for _, conn := range conns {
		summary.Processed++
		if err := s.processConnection(ctx, conn, summary); err != nil {
			s.logger.Warn().Err(err).
				Str("username", conn.Username).
				Str("tunnel_ip", conn.TunnelIP).
				Msg("Skipping live connection")
			summary.Skipped = append(summary.Skipped, models.SyncIssue{
				Username: conn.Username,
				Error:    err.Error(),
			})
		}
	}

	return summary
}

var errUnknownUser = errors.New("username does not resolve to a live user")

func (s *DeviceConflictService) processConnection(ctx context.Context, conn models.LiveConnection, summary *models.ResolveSummary) error {
	user, err := s.users.GetByUsername(ctx, conn.Username)
	if err != nil {
		return fmt.Errorf("failed to resolve user: %w", err)
	}
	if user == nil {
		return errUnknownUser
	}

	// Evict before upsert so the IP never has two active holders
	conflict, err := s.detectConflict(ctx, conn, user)
	if err != nil {
		return err
	}
	if conflict != nil {
		if err := s.devices.Delete(ctx, conflict.StaleID); err != nil {
			return fmt.Errorf("failed to evict stale device: %w", err)
		}
		metrics.TunnelIPReassignmentsTotal.Inc()
		s.logger.Warn().
			Str("tunnel_ip", conflict.TunnelIP).
			Str("old_user_id", conflict.StaleUserID.String()).
			Str("new_user_id", conflict.NewUserID.String()).
			Str("username", conn.Username).
			Msg("Tunnel IP reassigned, stale device record removed")
		summary.Reassignments = append(summary.Reassignments, models.Reassignment{
			TunnelIP:  conflict.TunnelIP,
			OldUserID: conflict.StaleUserID,
			NewUserID: conflict.NewUserID,
			Username:  conn.Username,
		})
	}

	existing, err := s.devices.GetByUserAndTunnelIP(ctx, user.ID, conn.TunnelIP)
	if err != nil {
		return fmt.Errorf("failed to look up device: %w", err)
	}

	if existing != nil {
		existing.RealIP = conn.RealIP
		existing.ConnectedSince = conn.ConnectedSince
		if err := s.devices.Touch(ctx, existing); err != nil {
			return fmt.Errorf("failed to refresh device: %w", err)
		}
		summary.Refreshed++
		return nil
	}

	device := &models.DeviceRecord{
		UserID:         user.ID,
		TunnelIP:       conn.TunnelIP,
		RealIP:         conn.RealIP,
		ConnectedSince: conn.ConnectedSince,
	}
	if err := s.devices.Create(ctx, device); err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	summary.Created++
	s.logger.Debug().Str("username", conn.Username).Str("tunnel_ip", conn.TunnelIP).Msg("Tracking new device")
	return nil
}

// detectConflict returns a ConflictError when another user still holds the
// tunnel IP as active.
func (s *DeviceConflictService) detectConflict(ctx context.Context, conn models.LiveConnection, user *models.UserRecord) (*ConflictError, error) {
	stale, err := s.devices.GetActiveByTunnelIP(ctx, conn.TunnelIP, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check tunnel ip holder: %w", err)
	}
	if stale == nil {
		return nil, nil
	}
	return &ConflictError{
		TunnelIP:    conn.TunnelIP,
		StaleUserID: stale.UserID,
		NewUserID:   user.ID,
		StaleID:     stale.ID,
	}, nil
}
