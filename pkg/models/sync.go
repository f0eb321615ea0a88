package models

import (
	"time"

	"github.com/google/uuid"
)

type SyncTrigger string

const (
	TriggerScheduled SyncTrigger = "scheduled"
	TriggerManual    SyncTrigger = "manual"
	TriggerEvent     SyncTrigger = "event"
)

type PassOutcome string

const (
	OutcomeSuccess PassOutcome = "success"
	OutcomePartial PassOutcome = "partial"
	OutcomeFailed  PassOutcome = "failed"
	OutcomeSkipped PassOutcome = "skipped"
)

// SyncIssue is a per-user entry in the errors or skipped list of a pass.
type SyncIssue struct {
	Username string `json:"username"`
	UserID   string `json:"user_id,omitempty"`
	Error    string `json:"error,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// IssuedCredential is a temporary password generated for a new account.
// It is returned once to the caller and never stored.
type IssuedCredential struct {
	Username     string `json:"username"`
	TempPassword string `json:"temp_password"`
}

// SyncSummary is the outcome of one user reconciliation.
type SyncSummary struct {
	DryRun         bool               `json:"dry_run"`
	DeleteOrphaned bool               `json:"delete_orphaned"`
	Created        []string           `json:"created"`
	Updated        []string           `json:"updated"`
	Deleted        []string           `json:"deleted"`
	Errors         []SyncIssue        `json:"errors"`
	Skipped        []SyncIssue        `json:"skipped"`
	Credentials    []IssuedCredential `json:"credentials,omitempty"`
	Devices        *ResolveSummary    `json:"devices,omitempty"`
}

func NewSyncSummary(dryRun, deleteOrphaned bool) *SyncSummary {
	return &SyncSummary{
		DryRun:         dryRun,
		DeleteOrphaned: deleteOrphaned,
		Created:        []string{},
		Updated:        []string{},
		Deleted:        []string{},
		Errors:         []SyncIssue{},
		Skipped:        []SyncIssue{},
	}
}

// HasErrors reports whether any per-user operation failed.
func (s *SyncSummary) HasErrors() bool {
	return len(s.Errors) > 0
}

// Reassignment records a tunnel IP that moved from one user to another.
type Reassignment struct {
	TunnelIP  string    `json:"tunnel_ip"`
	OldUserID uuid.UUID `json:"old_user_id"`
	NewUserID uuid.UUID `json:"new_user_id"`
	Username  string    `json:"username"`
}

// ResolveSummary is the outcome of one device conflict resolution pass.
type ResolveSummary struct {
	Processed     int            `json:"processed"`
	Created       int            `json:"created"`
	Refreshed     int            `json:"refreshed"`
	Reassignments []Reassignment `json:"reassignments"`
	Skipped       []SyncIssue    `json:"skipped"`
}

// DriftReport compares local eligibility against the remote account set.
type DriftReport struct {
	LocalTotal    int      `json:"local_total"`
	LocalEligible int      `json:"local_eligible"`
	RemoteTotal   int      `json:"remote_total"`
	MissingRemote []string `json:"missing_remote"`
	Orphaned      []string `json:"orphaned"`
	InSync        bool     `json:"in_sync"`
}

// PassRecord is one entry of the scheduler's run history.
type PassRecord struct {
	StartedAt time.Time    `json:"started_at"`
	Duration  string       `json:"duration"`
	Trigger   SyncTrigger  `json:"trigger"`
	Outcome   PassOutcome  `json:"outcome"`
	Summary   *SyncSummary `json:"summary,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// SyncStats aggregates pass outcomes since start or the last reset.
type SyncStats struct {
	TotalPasses      int       `json:"total_passes"`
	SuccessfulPasses int       `json:"successful_passes"`
	FailedPasses     int       `json:"failed_passes"`
	PartialPasses    int       `json:"partial_passes"`
	SkippedPasses    int       `json:"skipped_passes"`
	Created          int       `json:"created"`
	Updated          int       `json:"updated"`
	Deleted          int       `json:"deleted"`
	Errors           int       `json:"errors"`
	Since            time.Time `json:"since"`
}

// SchedulerStatus is a snapshot of the sync scheduler.
type SchedulerStatus struct {
	Running         bool         `json:"running"`
	IntervalMinutes int          `json:"interval_minutes"`
	InFlight        bool         `json:"in_flight"`
	LastRun         *PassRecord  `json:"last_run,omitempty"`
	NextRun         *time.Time   `json:"next_run,omitempty"`
	History         []PassRecord `json:"history"`
	Stats           SyncStats    `json:"stats"`
}
