package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kamikazebr/ovpn-sync/internal/log"
	"github.com/kamikazebr/ovpn-sync/internal/server/metrics"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
	"github.com/rs/zerolog"
)

const (
	MinIntervalMinutes = 1
	MaxIntervalMinutes = 60
	historySize        = 10
)

// UserSyncer is the reconciler as seen by the scheduler.
type UserSyncer interface {
	Sync(ctx context.Context, opts SyncOptions) (*models.SyncSummary, error)
	SyncUser(ctx context.Context, userID uuid.UUID, opts SyncOptions) (*models.SyncSummary, error)
}

// DeviceResolver is the device conflict resolver as seen by the scheduler.
type DeviceResolver interface {
	ResolveLive(ctx context.Context) (*models.ResolveSummary, error)
}

// RunOptions describes one requested pass. UserID scopes the pass to a
// single user and skips device resolution.
type RunOptions struct {
	DryRun         bool
	DeleteOrphaned bool
	UserID         *uuid.UUID
	Trigger        models.SyncTrigger
}

// SyncScheduler runs reconciliation passes on an interval and on demand,
// never more than one at a time.
type SyncScheduler struct {
	users   UserSyncer
	devices DeviceResolver

	// Orphan deletion policy for timer-driven passes
	deleteOrphaned bool

	mu       sync.Mutex
	running  bool
	interval int
	// unit scales interval; a minute outside tests
	unit     time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
	nextRun  *time.Time
	history  []models.PassRecord
	lastPass *models.PassRecord
	stats    models.SyncStats

	inFlight atomic.Bool
	now      func() time.Time
	logger   zerolog.Logger
}

func NewSyncScheduler(users UserSyncer, devices DeviceResolver, intervalMinutes int, deleteOrphaned bool) (*SyncScheduler, error) {
	if err := validateInterval(intervalMinutes); err != nil {
		return nil, err
	}
	s := &SyncScheduler{
		users:          users,
		devices:        devices,
		deleteOrphaned: deleteOrphaned,
		interval:       intervalMinutes,
		unit:           time.Minute,
		history:        make([]models.PassRecord, 0, historySize),
		now:            time.Now,
		logger:         log.WithComponent("sync-scheduler"),
	}
	s.stats.Since = s.now()
	return s, nil
}

func validateInterval(minutes int) error {
	if minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		return &ValidationError{
			Field:   "interval",
			Message: fmt.Sprintf("must be between %d and %d minutes, got %d", MinIntervalMinutes, MaxIntervalMinutes, minutes),
		}
	}
	return nil
}

// Start begins timer-driven passes. No-op when already running.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.startTickerLocked()
	metrics.SchedulerRunning.Set(1)
	s.logger.Info().Int("interval_minutes", s.interval).Msg("Sync scheduler started")
}

// Stop prevents future timer-driven passes. A pass already in flight is
// left to finish. No-op when already stopped.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.stopTickerLocked()
	s.running = false
	s.nextRun = nil
	metrics.SchedulerRunning.Set(0)
	s.logger.Info().Msg("Sync scheduler stopped")
}

// UpdateInterval changes the pass period, restarting the timer when running.
func (s *SyncScheduler) UpdateInterval(minutes int) error {
	if err := validateInterval(minutes); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = minutes
	if s.running {
		s.stopTickerLocked()
		s.startTickerLocked()
	}
	s.logger.Info().Int("interval_minutes", minutes).Bool("running", s.running).Msg("Sync interval updated")
	return nil
}

func (s *SyncScheduler) period() time.Duration {
	return time.Duration(s.interval) * s.unit
}

func (s *SyncScheduler) startTickerLocked() {
	s.ticker = time.NewTicker(s.period())
	s.stopCh = make(chan struct{})
	next := s.now().Add(s.period())
	s.nextRun = &next
	go s.loop(s.ticker, s.stopCh)
}

func (s *SyncScheduler) stopTickerLocked() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

func (s *SyncScheduler) loop(ticker *time.Ticker, stopCh chan struct{}) {
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.stopCh == stopCh {
				next := s.now().Add(s.period())
				s.nextRun = &next
			}
			deleteOrphaned := s.deleteOrphaned
			s.mu.Unlock()

			_, err := s.RunNow(context.Background(), RunOptions{
				DeleteOrphaned: deleteOrphaned,
				Trigger:        models.TriggerScheduled,
			})
			if err != nil && !errors.Is(err, ErrSyncInProgress) {
				s.logger.Error().Err(err).Msg("Scheduled sync pass failed")
			}
		case <-stopCh:
			return
		}
	}
}

// RunNow executes one pass immediately. When another pass is in flight it
// returns at once with a skipped record and ErrSyncInProgress. The returned
// error is non-nil only when the pass could not run.
func (s *SyncScheduler) RunNow(ctx context.Context, opts RunOptions) (*models.PassRecord, error) {
	if opts.Trigger == "" {
		opts.Trigger = models.TriggerManual
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		record := models.PassRecord{
			StartedAt: s.now(),
			Duration:  "0s",
			Trigger:   opts.Trigger,
			Outcome:   models.OutcomeSkipped,
			Error:     ErrSyncInProgress.Error(),
		}
		s.record(record)
		s.logger.Info().Str("trigger", string(opts.Trigger)).Msg("Sync pass skipped, another pass is running")
		return &record, ErrSyncInProgress
	}
	defer s.inFlight.Store(false)

	return s.execute(ctx, opts)
}

func (s *SyncScheduler) execute(ctx context.Context, opts RunOptions) (*models.PassRecord, error) {
	started := s.now()
	timer := metrics.NewTimer()
	logger := s.logger.With().Str("trigger", string(opts.Trigger)).Logger()
	logger.Info().Bool("dry_run", opts.DryRun).Bool("delete_orphaned", opts.DeleteOrphaned).Msg("Sync pass started")

	summary, err := s.runPass(ctx, opts)

	record := models.PassRecord{
		StartedAt: started,
		Duration:  timer.Elapsed().Round(time.Millisecond).String(),
		Trigger:   opts.Trigger,
	}
	switch {
	case err != nil:
		record.Outcome = models.OutcomeFailed
		record.Error = err.Error()
	case summary.HasErrors():
		record.Outcome = models.OutcomePartial
	default:
		record.Outcome = models.OutcomeSuccess
	}
	if summary != nil {
		record.Summary = redact(summary)
	}

	timer.ObserveDuration(metrics.SyncPassDuration)
	s.record(record)

	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.Str("outcome", string(record.Outcome)).Str("duration", record.Duration).Msg("Sync pass finished")

	if err != nil {
		return &record, err
	}

	// Caller gets the full summary, temp passwords included, exactly once
	result := record
	result.Summary = summary
	return &result, nil
}

// runPass calls the reconciler and then the device resolver, turning a panic
// into a failed pass.
func (s *SyncScheduler) runPass(ctx context.Context, opts RunOptions) (summary *models.SyncSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			summary = nil
			err = fmt.Errorf("sync pass panicked: %v", r)
		}
	}()

	syncOpts := SyncOptions{DryRun: opts.DryRun, DeleteOrphaned: opts.DeleteOrphaned}
	if opts.UserID != nil {
		return s.users.SyncUser(ctx, *opts.UserID, syncOpts)
	}

	summary, err = s.users.Sync(ctx, syncOpts)
	if err != nil {
		return nil, err
	}

	if s.devices != nil && !opts.DryRun {
		devices, derr := s.devices.ResolveLive(ctx)
		if derr != nil {
			summary.Errors = append(summary.Errors, models.SyncIssue{
				Reason: "device resolution",
				Error:  derr.Error(),
			})
		} else {
			summary.Devices = devices
		}
	}

	return summary, nil
}

// record updates statistics and, for passes that actually ran, the bounded
// history and the last-pass record. Skipped triggers are only counted.
func (s *SyncScheduler) record(rec models.PassRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metrics.SyncPassesTotal.WithLabelValues(string(rec.Trigger), string(rec.Outcome)).Inc()

	if rec.Outcome == models.OutcomeSkipped {
		s.stats.SkippedPasses++
		return
	}

	s.history = append(s.history, rec)
	if len(s.history) > historySize {
		s.history = append(s.history[:0:0], s.history[len(s.history)-historySize:]...)
	}
	last := rec
	s.lastPass = &last

	switch rec.Outcome {
	case models.OutcomeSuccess:
		s.stats.SuccessfulPasses++
	case models.OutcomePartial:
		s.stats.FailedPasses++
		s.stats.PartialPasses++
	case models.OutcomeFailed:
		s.stats.FailedPasses++
	}
	s.stats.TotalPasses++

	if rec.Summary == nil {
		return
	}
	s.stats.Errors += len(rec.Summary.Errors)
	metrics.SyncOperationsTotal.WithLabelValues("error").Add(float64(len(rec.Summary.Errors)))
	if rec.Summary.DryRun {
		return
	}
	s.stats.Created += len(rec.Summary.Created)
	s.stats.Updated += len(rec.Summary.Updated)
	s.stats.Deleted += len(rec.Summary.Deleted)
	metrics.SyncOperationsTotal.WithLabelValues("created").Add(float64(len(rec.Summary.Created)))
	metrics.SyncOperationsTotal.WithLabelValues("updated").Add(float64(len(rec.Summary.Updated)))
	metrics.SyncOperationsTotal.WithLabelValues("deleted").Add(float64(len(rec.Summary.Deleted)))
}

// Status returns a snapshot of scheduler state.
func (s *SyncScheduler) Status() *models.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := &models.SchedulerStatus{
		Running:         s.running,
		IntervalMinutes: s.interval,
		InFlight:        s.inFlight.Load(),
		History:         append([]models.PassRecord(nil), s.history...),
		Stats:           s.stats,
	}
	if s.nextRun != nil {
		next := *s.nextRun
		status.NextRun = &next
	}
	if s.lastPass != nil {
		last := *s.lastPass
		status.LastRun = &last
	}
	return status
}

// ResetStats zeroes the aggregate counters. History is kept.
func (s *SyncScheduler) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = models.SyncStats{Since: s.now()}
}

// redact copies a summary without the one-time credentials so it can be kept
// in history.
func redact(summary *models.SyncSummary) *models.SyncSummary {
	c := *summary
	c.Credentials = nil
	return &c
}
