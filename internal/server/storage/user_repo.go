package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
)

// UserRepository reads the authoritative user table. The sync subsystem
// never writes users back.
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, email, display_name, role, email_verified, deleted_at, created_at`

// ListAll returns every user, soft-deleted ones included, so that the
// reconciler can classify them.
func (r *UserRepository) ListAll(ctx context.Context) ([]models.UserRecord, error) {
	var users []models.UserRecord
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at ASC`
	err := r.db.SelectContext(ctx, &users, query)
	return users, err
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UserRecord, error) {
	var user models.UserRecord
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	err := r.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByUsername resolves a live (not soft-deleted) user by VPN username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.UserRecord, error) {
	var user models.UserRecord
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1 AND deleted_at IS NULL`
	err := r.db.GetContext(ctx, &user, query, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
