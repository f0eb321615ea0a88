package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kamikazebr/ovpn-sync/internal/log"
	"github.com/kamikazebr/ovpn-sync/internal/server/events"
	"github.com/kamikazebr/ovpn-sync/internal/server/services"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
	"github.com/rs/zerolog"
)

// AccountManager is the reconciler surface used by the admin API.
type AccountManager interface {
	Drift(ctx context.Context) (*models.DriftReport, error)
	RemoveAccount(ctx context.Context, username, actor string) error
	ActorName(ctx context.Context, userID uuid.UUID) (string, error)
}

// Scheduler is the scheduler surface used by the admin API.
type Scheduler interface {
	RunNow(ctx context.Context, opts services.RunOptions) (*models.PassRecord, error)
	Status() *models.SchedulerStatus
	Start()
	Stop()
	UpdateInterval(minutes int) error
	ResetStats()
}

// EventPublisher delivers user-management events.
type EventPublisher interface {
	Publish(event *events.Event)
}

type SyncHandler struct {
	accounts  AccountManager
	scheduler Scheduler
	publisher EventPublisher
	validate  *validator.Validate
	logger    zerolog.Logger
}

func NewSyncHandler(accounts AccountManager, scheduler Scheduler, publisher EventPublisher) *SyncHandler {
	return &SyncHandler{
		accounts:  accounts,
		scheduler: scheduler,
		publisher: publisher,
		validate:  validator.New(),
		logger:    log.WithComponent("api"),
	}
}

// Routes mounts the VPN admin routes. Callers apply auth middleware.
func (h *SyncHandler) Routes(r chi.Router) {
	r.Post("/sync", h.TriggerSync)
	r.Get("/sync/status", h.GetSyncStatus)
	r.Post("/sync/scheduler", h.ControlScheduler)
	r.Put("/sync/interval", h.SetSyncInterval)
	r.Post("/sync/stats/reset", h.ResetStats)
	r.Delete("/accounts/{username}", h.RemoveAccount)
	r.Post("/users/{user_id}/sync", h.UserChanged)
}

// TriggerSync runs a pass immediately and returns its summary, including
// any temporary passwords issued.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req models.TriggerSyncRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// A started pass runs to the end even if the client goes away, so no
	// account is left half-created.
	rec, err := h.scheduler.RunNow(context.WithoutCancel(r.Context()), services.RunOptions{
		DryRun:         req.DryRun,
		DeleteOrphaned: req.DeleteOrphaned,
		Trigger:        models.TriggerManual,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	message := "sync completed"
	if rec.Outcome == models.OutcomePartial {
		message = "sync completed with errors"
	}
	if req.DryRun {
		message += " (dry run)"
	}

	respondJSON(w, http.StatusOK, models.TriggerSyncResponse{
		Message: message,
		Summary: rec.Summary,
	})
}

// GetSyncStatus reports drift and scheduler state. A drift failure does not
// fail the request.
func (h *SyncHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := models.SyncStatusResponse{Scheduler: h.scheduler.Status()}

	drift, err := h.accounts.Drift(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to compute drift")
		resp.DriftError = err.Error()
	} else {
		resp.Drift = drift
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *SyncHandler) ControlScheduler(w http.ResponseWriter, r *http.Request) {
	var req models.SchedulerControlRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "action must be start or stop")
		return
	}

	switch req.Action {
	case "start":
		h.scheduler.Start()
	case "stop":
		h.scheduler.Stop()
	}

	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *SyncHandler) SetSyncInterval(w http.ResponseWriter, r *http.Request) {
	var req models.SyncIntervalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "minutes must be between 1 and 60")
		return
	}

	if err := h.scheduler.UpdateInterval(req.Minutes); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

// ResetStats zeroes the scheduler counters. History is kept.
func (h *SyncHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.scheduler.ResetStats()
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *SyncHandler) RemoveAccount(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	actor, err := h.callerName(r)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Cannot identify caller for account removal")
		respondErrorJSON(w, http.StatusForbidden, "cannot identify the caller")
		return
	}

	if err := h.accounts.RemoveAccount(r.Context(), username, actor); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, models.RemoveAccountResponse{
		Message:  "vpn account removed",
		Username: username,
	})
}

// callerName returns the username of the authenticated operator, looking it
// up by user id when the token carries no username.
func (h *SyncHandler) callerName(r *http.Request) (string, error) {
	claims := GetUserClaims(r)
	if claims == nil {
		return "", errors.New("no claims in request")
	}
	if claims.Username != "" {
		return claims.Username, nil
	}
	if claims.UserID == uuid.Nil {
		return "", errors.New("token carries neither username nor user id")
	}
	name, err := h.accounts.ActorName(r.Context(), claims.UserID)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", errors.New("caller has no username")
	}
	return name, nil
}

// UserChanged lets the user-management side announce a change to one user.
// The pass runs asynchronously through the event listener.
func (h *SyncHandler) UserChanged(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "user_id"))
	if err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		Event string `json:"event" validate:"omitempty,oneof=user.verified user.updated user.deleted"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondErrorJSON(w, http.StatusBadRequest, "event must be user.verified, user.updated or user.deleted")
		return
	}

	eventType := events.EventUserUpdated
	if req.Event != "" {
		eventType = events.EventType(req.Event)
	}
	if h.publisher == nil {
		respondServiceError(w, errors.New("event publishing is not configured"))
		return
	}
	h.publisher.Publish(events.NewUserEvent(eventType, userID))

	respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "sync queued",
		"user_id": userID.String(),
	})
}
