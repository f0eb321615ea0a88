package services

import (
	"context"
	"testing"

	"github.com/kamikazebr/ovpn-sync/internal/testutil"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceConflictService_ReassignWithPostgres(t *testing.T) {
	tdb := testutil.GetTestDB(t)
	if tdb == nil {
		return
	}
	defer tdb.Close()

	ctx := context.Background()
	repos := tdb.Repositories()

	bob := tdb.CreateTestUser(ctx, testutil.GenerateTestUsername())
	defer tdb.DeleteTestUser(ctx, bob.ID)
	dave := tdb.CreateTestUser(ctx, testutil.GenerateTestUsername())
	defer tdb.DeleteTestUser(ctx, dave.ID)

	ip := testutil.GenerateTestTunnelIP(42)
	require.NoError(t, repos.Devices.Create(ctx, &models.DeviceRecord{UserID: bob.ID, TunnelIP: ip}))

	svc := NewDeviceConflictService(repos.Users, repos.Devices, newFakeGateway())
	summary := svc.Process(ctx, []models.LiveConnection{{Username: dave.Name(), TunnelIP: ip}})

	require.Empty(t, summary.Skipped)
	require.Len(t, summary.Reassignments, 1)
	assert.Equal(t, bob.ID, summary.Reassignments[0].OldUserID)

	bobDevices, err := repos.Devices.ListByUserID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, bobDevices)

	holder, err := repos.Devices.GetActiveByTunnelIP(ctx, ip, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, dave.ID, holder.UserID)

	// Reconnect of the same user refreshes instead of inserting
	summary = svc.Process(ctx, []models.LiveConnection{{Username: dave.Name(), TunnelIP: ip}})
	assert.Equal(t, 1, summary.Refreshed)
	assert.Equal(t, 0, summary.Created)
}
