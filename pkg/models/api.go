package models

// Sync API types
type TriggerSyncRequest struct {
	DryRun         bool `json:"dry_run"`
	DeleteOrphaned bool `json:"delete_orphaned"`
}

type TriggerSyncResponse struct {
	Message string       `json:"message"`
	Summary *SyncSummary `json:"summary"`
}

type SchedulerControlRequest struct {
	Action string `json:"action" validate:"required,oneof=start stop"`
}

type SyncIntervalRequest struct {
	Minutes int `json:"minutes" validate:"required,min=1,max=60"`
}

type SyncStatusResponse struct {
	Drift      *DriftReport     `json:"drift,omitempty"`
	DriftError string           `json:"drift_error,omitempty"`
	Scheduler  *SchedulerStatus `json:"scheduler"`
}

type RemoveAccountResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

// Error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
