package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kamikazebr/ovpn-sync/internal/server/events"
	"github.com/kamikazebr/ovpn-sync/internal/server/openvpn"
	"github.com/kamikazebr/ovpn-sync/internal/server/services"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
	"github.com/kamikazebr/ovpn-sync/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAccounts struct {
	drift     *models.DriftReport
	driftErr  error
	removeErr error
	removed   []string
	actors    []string
	names     map[uuid.UUID]string
}

func (s *stubAccounts) Drift(ctx context.Context) (*models.DriftReport, error) {
	return s.drift, s.driftErr
}

func (s *stubAccounts) RemoveAccount(ctx context.Context, username, actor string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	s.removed = append(s.removed, username)
	s.actors = append(s.actors, actor)
	return nil
}

func (s *stubAccounts) ActorName(ctx context.Context, userID uuid.UUID) (string, error) {
	name, ok := s.names[userID]
	if !ok {
		return "", services.ErrUserNotFound
	}
	return name, nil
}

type stubScheduler struct {
	mu       sync.Mutex
	running  bool
	interval int
	runs     []services.RunOptions
	rec      *models.PassRecord
	runErr   error
	ctxErrs  []error
	resets   int
}

func (s *stubScheduler) RunNow(ctx context.Context, opts services.RunOptions) (*models.PassRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, opts)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	if s.runErr != nil {
		return &models.PassRecord{Outcome: models.OutcomeFailed}, s.runErr
	}
	return s.rec, nil
}

func (s *stubScheduler) Status() *models.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &models.SchedulerStatus{Running: s.running, IntervalMinutes: s.interval}
}

func (s *stubScheduler) Start() { s.mu.Lock(); s.running = true; s.mu.Unlock() }
func (s *stubScheduler) Stop()  { s.mu.Lock(); s.running = false; s.mu.Unlock() }

func (s *stubScheduler) ResetStats() { s.mu.Lock(); s.resets++; s.mu.Unlock() }

func (s *stubScheduler) UpdateInterval(minutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = minutes
	return nil
}

type stubPublisher struct {
	events []*events.Event
}

func (p *stubPublisher) Publish(event *events.Event) {
	p.events = append(p.events, event)
}

type apiFixture struct {
	accounts  *stubAccounts
	scheduler *stubScheduler
	publisher *stubPublisher
	router    http.Handler
	token     string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		accounts: &stubAccounts{drift: &models.DriftReport{InSync: true}},
		scheduler: &stubScheduler{
			interval: 15,
			rec: &models.PassRecord{
				Outcome: models.OutcomeSuccess,
				Summary: &models.SyncSummary{Created: []string{"alice"}},
			},
		},
		publisher: &stubPublisher{},
	}

	handler := NewSyncHandler(f.accounts, f.scheduler, f.publisher)
	r := chi.NewRouter()
	r.Route("/api/admin/vpn", func(r chi.Router) {
		r.Use(AuthMiddleware(testSecret))
		r.Use(AdminMiddleware)
		handler.Routes(r)
	})
	f.router = r

	token, _, err := utils.GenerateJWT(uuid.New(), "ops@example.com", "ops", "admin", testSecret, time.Hour)
	require.NoError(t, err)
	f.token = token
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestSyncHandler_TriggerSync(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/vpn/sync", models.TriggerSyncRequest{DryRun: true, DeleteOrphaned: true})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.TriggerSyncResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"alice"}, resp.Summary.Created)
	assert.Contains(t, resp.Message, "dry run")

	require.Len(t, f.scheduler.runs, 1)
	assert.True(t, f.scheduler.runs[0].DryRun)
	assert.True(t, f.scheduler.runs[0].DeleteOrphaned)
	assert.Equal(t, models.TriggerManual, f.scheduler.runs[0].Trigger)
}

func TestSyncHandler_TriggerSyncOutlivesClient(t *testing.T) {
	f := newAPIFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/vpn/sync", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+f.token)
	f.router.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, f.scheduler.ctxErrs, 1)
	assert.NoError(t, f.scheduler.ctxErrs[0], "pass context must not follow the request")
}

func TestSyncHandler_TriggerSyncEmptyBody(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/vpn/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncHandler_TriggerSyncErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"in progress", services.ErrSyncInProgress, http.StatusConflict},
		{"gateway", &openvpn.GatewayError{Op: "UserPropGet", Err: errors.New("timed out")}, http.StatusBadGateway},
		{"store", errors.New("failed to load users"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.scheduler.runErr = tt.err
			rec := f.do(t, http.MethodPost, "/api/admin/vpn/sync", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSyncHandler_GetSyncStatus(t *testing.T) {
	f := newAPIFixture(t)
	f.accounts.driftErr = errors.New("sacli unreachable")

	rec := f.do(t, http.MethodGet, "/api/admin/vpn/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.SyncStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Nil(t, resp.Drift)
	assert.Equal(t, "sacli unreachable", resp.DriftError)
	require.NotNil(t, resp.Scheduler)
	assert.Equal(t, 15, resp.Scheduler.IntervalMinutes)
}

func TestSyncHandler_ControlScheduler(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/vpn/sync/scheduler", models.SchedulerControlRequest{Action: "start"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.scheduler.running)

	rec = f.do(t, http.MethodPost, "/api/admin/vpn/sync/scheduler", models.SchedulerControlRequest{Action: "stop"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.scheduler.running)

	rec = f.do(t, http.MethodPost, "/api/admin/vpn/sync/scheduler", models.SchedulerControlRequest{Action: "pause"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncHandler_SetSyncInterval(t *testing.T) {
	f := newAPIFixture(t)

	for _, bad := range []int{0, 61} {
		rec := f.do(t, http.MethodPut, "/api/admin/vpn/sync/interval", models.SyncIntervalRequest{Minutes: bad})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "minutes %d", bad)
	}
	assert.Equal(t, 15, f.scheduler.interval)

	rec := f.do(t, http.MethodPut, "/api/admin/vpn/sync/interval", models.SyncIntervalRequest{Minutes: 30})
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.SchedulerStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, 30, status.IntervalMinutes)
}

func TestSyncHandler_RemoveAccount(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodDelete, "/api/admin/vpn/accounts/carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"carol"}, f.accounts.removed)
	assert.Equal(t, []string{"ops"}, f.accounts.actors)

	f.accounts.removeErr = services.ErrSelfRemoval
	rec = f.do(t, http.MethodDelete, "/api/admin/vpn/accounts/ops", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	f.accounts.removeErr = &services.ValidationError{Field: "username", Message: "bad"}
	rec = f.do(t, http.MethodDelete, "/api/admin/vpn/accounts/bad%20name", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncHandler_RemoveAccountResolvesActorByID(t *testing.T) {
	f := newAPIFixture(t)
	opsID := uuid.New()
	f.accounts.names = map[uuid.UUID]string{opsID: "ops"}

	token, _, err := utils.GenerateJWT(opsID, "ops@example.com", "", "admin", testSecret, time.Hour)
	require.NoError(t, err)
	f.token = token

	rec := f.do(t, http.MethodDelete, "/api/admin/vpn/accounts/carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ops"}, f.accounts.actors)

	// Unknown caller is refused before anything is deleted
	token, _, err = utils.GenerateJWT(uuid.New(), "ghost@example.com", "", "admin", testSecret, time.Hour)
	require.NoError(t, err)
	f.token = token

	rec = f.do(t, http.MethodDelete, "/api/admin/vpn/accounts/carol", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, f.accounts.removed, 1)
}

func TestSyncHandler_ResetStats(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/vpn/sync/stats/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.scheduler.resets)
}

func TestSyncHandler_UserChanged(t *testing.T) {
	f := newAPIFixture(t)
	userID := uuid.New()

	rec := f.do(t, http.MethodPost, "/api/admin/vpn/users/"+userID.String()+"/sync", map[string]string{"event": "user.verified"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, events.EventUserVerified, f.publisher.events[0].Type)
	got, err := f.publisher.events[0].UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	rec = f.do(t, http.MethodPost, "/api/admin/vpn/users/not-a-uuid/sync", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/admin/vpn/users/"+userID.String()+"/sync", map[string]string{"event": "node.joined"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncHandler_RequiresAdmin(t *testing.T) {
	f := newAPIFixture(t)
	token, _, err := utils.GenerateJWT(uuid.New(), "user@example.com", "user", "user", testSecret, time.Hour)
	require.NoError(t, err)
	f.token = token

	rec := f.do(t, http.MethodPost, "/api/admin/vpn/sync", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.scheduler.runs)
}
