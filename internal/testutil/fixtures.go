package testutil

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
)

// CreateTestUser inserts a verified, live user with the given username
func (tdb *TestDB) CreateTestUser(ctx context.Context, username string) *models.UserRecord {
	tdb.t.Helper()

	name := username
	user := &models.UserRecord{
		ID:            uuid.New(),
		Username:      &name,
		Email:         GenerateTestEmail(),
		DisplayName:   "Test " + username,
		Role:          models.RoleUser,
		EmailVerified: true,
	}

	_, err := tdb.DB.ExecContext(ctx, `
		INSERT INTO users (id, username, email, display_name, role, email_verified)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Username, user.Email, user.DisplayName, user.Role, user.EmailVerified)
	if err != nil {
		tdb.t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// DeleteTestUser removes a test user and its device records
func (tdb *TestDB) DeleteTestUser(ctx context.Context, userID uuid.UUID) {
	tdb.t.Helper()
	_, _ = tdb.DB.ExecContext(ctx, "DELETE FROM device_records WHERE user_id = $1", userID)
	_, _ = tdb.DB.ExecContext(ctx, "DELETE FROM users WHERE id = $1", userID)
}

// GenerateTestUsername generates a unique VPN username
func GenerateTestUsername() string {
	return "test-" + uuid.New().String()[:8]
}

// GenerateTestEmail generates a unique test email
func GenerateTestEmail() string {
	return fmt.Sprintf("test-%s@example.com", uuid.New().String()[:8])
}

// GenerateTestTunnelIP generates a tunnel IP in the Access Server default pool
func GenerateTestTunnelIP(index int) string {
	return fmt.Sprintf("172.27.%d.%d", 224+(index/250)%8, 2+index%250)
}
