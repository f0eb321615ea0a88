package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
)

type DeviceRepository struct {
	db *DB
}

func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// GetActiveByTunnelIP returns the active record holding ip for a user other
// than exceptUserID, if any.
func (r *DeviceRepository) GetActiveByTunnelIP(ctx context.Context, tunnelIP string, exceptUserID uuid.UUID) (*models.DeviceRecord, error) {
	var device models.DeviceRecord
	query := `
		SELECT * FROM device_records
		WHERE tunnel_ip = $1 AND user_id <> $2 AND is_active = true
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &device, query, tunnelIP, exceptUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

func (r *DeviceRepository) GetByUserAndTunnelIP(ctx context.Context, userID uuid.UUID, tunnelIP string) (*models.DeviceRecord, error) {
	var device models.DeviceRecord
	query := `SELECT * FROM device_records WHERE user_id = $1 AND tunnel_ip = $2`
	err := r.db.GetContext(ctx, &device, query, userID, tunnelIP)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &device, nil
}

// Create inserts an active record. Fails on the (user_id, tunnel_ip) unique
// constraint if the pair already exists.
func (r *DeviceRepository) Create(ctx context.Context, device *models.DeviceRecord) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	query := `
		INSERT INTO device_records (id, user_id, tunnel_ip, real_ip, connected_since, last_seen_at, is_active)
		VALUES ($1, $2, $3, $4, $5, NOW(), true)
		RETURNING last_seen_at, created_at, is_active
	`
	return r.db.QueryRowContext(ctx, query,
		device.ID, device.UserID, device.TunnelIP, device.RealIP, device.ConnectedSince,
	).Scan(&device.LastSeenAt, &device.CreatedAt, &device.IsActive)
}

// Touch refreshes last_seen_at and connection details, reactivating the
// record if it had been retired.
func (r *DeviceRepository) Touch(ctx context.Context, device *models.DeviceRecord) error {
	query := `
		UPDATE device_records
		SET last_seen_at = NOW(), is_active = true, real_ip = $1, connected_since = $2
		WHERE id = $3
		RETURNING last_seen_at, is_active
	`
	return r.db.QueryRowContext(ctx, query,
		device.RealIP, device.ConnectedSince, device.ID,
	).Scan(&device.LastSeenAt, &device.IsActive)
}

func (r *DeviceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM device_records WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *DeviceRepository) ListActive(ctx context.Context) ([]models.DeviceRecord, error) {
	var devices []models.DeviceRecord
	query := `SELECT * FROM device_records WHERE is_active = true ORDER BY tunnel_ip`
	err := r.db.SelectContext(ctx, &devices, query)
	return devices, err
}

func (r *DeviceRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]models.DeviceRecord, error) {
	var devices []models.DeviceRecord
	query := `SELECT * FROM device_records WHERE user_id = $1 ORDER BY last_seen_at DESC`
	err := r.db.SelectContext(ctx, &devices, query, userID)
	return devices, err
}
