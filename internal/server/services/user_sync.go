package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kamikazebr/ovpn-sync/internal/log"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
	"github.com/kamikazebr/ovpn-sync/pkg/utils"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSyncConcurrency = 4
	tempPasswordLength     = 16
)

// SyncOptions controls a reconciliation.
type SyncOptions struct {
	DryRun         bool
	DeleteOrphaned bool
}

// UserSyncService converges VPN accounts toward the sync-eligible users of
// the authoritative store.
type UserSyncService struct {
	users       UserStore
	gateway     AccountGateway
	concurrency int
	logger      zerolog.Logger
}

func NewUserSyncService(users UserStore, gateway AccountGateway, concurrency int) *UserSyncService {
	if concurrency < 1 {
		concurrency = DefaultSyncConcurrency
	}
	return &UserSyncService{
		users:       users,
		gateway:     gateway,
		concurrency: concurrency,
		logger:      log.WithComponent("user-sync"),
	}
}

// passState collects per-user results from concurrent workers.
type passState struct {
	mu      sync.Mutex
	summary *models.SyncSummary
}

func (p *passState) add(fn func(s *models.SyncSummary)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.summary)
}

func (p *passState) fail(u *models.UserRecord, username string, err error) {
	issue := models.SyncIssue{Username: username, Error: err.Error()}
	if u != nil {
		issue.UserID = u.ID.String()
	}
	p.add(func(s *models.SyncSummary) { s.Errors = append(s.Errors, issue) })
}

// Sync runs one full reconciliation pass. It returns an error only when the
// pass cannot start: the user store or the remote account list is unreadable.
func (s *UserSyncService) Sync(ctx context.Context, opts SyncOptions) (*models.SyncSummary, error) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	remote, err := s.gateway.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vpn accounts: %w", err)
	}

	state := &passState{summary: models.NewSyncSummary(opts.DryRun, opts.DeleteOrphaned)}

	// Classification is computed once here and reused by both phases
	eligible := make(map[string]*models.UserRecord)
	for i := range users {
		u := &users[i]
		if u.SyncEligible() {
			eligible[u.Name()] = u
			continue
		}
		state.summary.Skipped = append(state.summary.Skipped, models.SyncIssue{
			Username: u.Name(),
			UserID:   u.ID.String(),
			Reason:   ineligibleReason(u),
		})
	}

	// Phase 1: creates and updates
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, name := range sortedKeys(eligible) {
		u := eligible[name]
		props, exists := remote[name]
		g.Go(func() error {
			if exists {
				s.updateAccount(gctx, u, props, opts, state)
			} else {
				s.createAccount(gctx, u, opts, state)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Phase 2: orphans, only after every create/update has finished
	if opts.DeleteOrphaned {
		g, gctx = errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, name := range sortedKeys(remote) {
			if _, ok := eligible[name]; ok {
				continue
			}
			name := name
			g.Go(func() error {
				s.deleteAccount(gctx, name, opts, state)
				return nil
			})
		}
		_ = g.Wait()
	}

	summary := state.summary
	sortSummary(summary)

	s.logger.Info().
		Bool("dry_run", opts.DryRun).
		Bool("delete_orphaned", opts.DeleteOrphaned).
		Int("created", len(summary.Created)).
		Int("updated", len(summary.Updated)).
		Int("deleted", len(summary.Deleted)).
		Int("errors", len(summary.Errors)).
		Int("skipped", len(summary.Skipped)).
		Msg("User sync finished")

	return summary, nil
}

// SyncUser reconciles a single user. Used for event-triggered syncs.
func (s *UserSyncService) SyncUser(ctx context.Context, userID uuid.UUID, opts SyncOptions) (*models.SyncSummary, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	state := &passState{summary: models.NewSyncSummary(opts.DryRun, opts.DeleteOrphaned)}

	if user.Username == nil || *user.Username == "" {
		state.summary.Skipped = append(state.summary.Skipped, models.SyncIssue{
			UserID: user.ID.String(),
			Reason: ineligibleReason(user),
		})
		return state.summary, nil
	}

	remote, err := s.gateway.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vpn accounts: %w", err)
	}
	props, exists := remote[user.Name()]

	switch {
	case user.SyncEligible() && exists:
		s.updateAccount(ctx, user, props, opts, state)
	case user.SyncEligible():
		s.createAccount(ctx, user, opts, state)
	case exists && opts.DeleteOrphaned:
		s.deleteAccount(ctx, user.Name(), opts, state)
	default:
		state.summary.Skipped = append(state.summary.Skipped, models.SyncIssue{
			Username: user.Name(),
			UserID:   user.ID.String(),
			Reason:   ineligibleReason(user),
		})
	}

	s.logger.Info().
		Str("username", user.Name()).
		Bool("dry_run", opts.DryRun).
		Int("errors", len(state.summary.Errors)).
		Msg("Single user sync finished")

	return state.summary, nil
}

func (s *UserSyncService) createAccount(ctx context.Context, u *models.UserRecord, opts SyncOptions, state *passState) {
	name := u.Name()
	if opts.DryRun {
		state.add(func(sum *models.SyncSummary) { sum.Created = append(sum.Created, name) })
		return
	}

	password, err := utils.GenerateTempPassword(tempPasswordLength)
	if err != nil {
		state.fail(u, name, fmt.Errorf("failed to generate password: %w", err))
		return
	}

	if err := s.gateway.CreateAccount(ctx, name, password); err != nil {
		s.logger.Warn().Err(err).Str("username", name).Msg("Failed to create vpn account")
		state.fail(u, name, err)
		return
	}

	// The account exists from here on, so the operator must get the password
	// even if a property write below fails.
	state.add(func(sum *models.SyncSummary) {
		sum.Created = append(sum.Created, name)
		sum.Credentials = append(sum.Credentials, models.IssuedCredential{Username: name, TempPassword: password})
	})
	s.logger.Info().Str("username", name).Msg("Created vpn account")

	desired := models.DesiredProperties(u)
	for _, key := range sortedKeys(desired) {
		if err := s.gateway.SetProperty(ctx, name, key, desired[key]); err != nil {
			s.logger.Warn().Err(err).Str("username", name).Str("property", key).Msg("Failed to set property on new account")
			state.fail(u, name, err)
			return
		}
	}
}

func (s *UserSyncService) updateAccount(ctx context.Context, u *models.UserRecord, remote map[string]string, opts SyncOptions, state *passState) {
	name := u.Name()
	desired := models.DesiredProperties(u)

	var changed []string
	for _, key := range sortedKeys(desired) {
		if current, ok := remote[key]; ok && current == desired[key] {
			continue
		}
		changed = append(changed, key)
	}
	if len(changed) == 0 {
		return
	}

	if !opts.DryRun {
		for _, key := range changed {
			if err := s.gateway.SetProperty(ctx, name, key, desired[key]); err != nil {
				s.logger.Warn().Err(err).Str("username", name).Str("property", key).Msg("Failed to update vpn account")
				state.fail(u, name, err)
				return
			}
		}
		s.logger.Debug().Str("username", name).Strs("properties", changed).Msg("Updated vpn account")
	}

	state.add(func(sum *models.SyncSummary) { sum.Updated = append(sum.Updated, name) })
}

func (s *UserSyncService) deleteAccount(ctx context.Context, username string, opts SyncOptions, state *passState) {
	if !opts.DryRun {
		// Orphans come from the pass's own account listing
		if err := s.gateway.PurgeAccount(ctx, username); err != nil {
			s.logger.Warn().Err(err).Str("username", username).Msg("Failed to delete orphaned vpn account")
			state.fail(nil, username, err)
			return
		}
		s.logger.Info().Str("username", username).Msg("Deleted orphaned vpn account")
	}
	state.add(func(sum *models.SyncSummary) { sum.Deleted = append(sum.Deleted, username) })
}

// Drift compares local eligibility with the remote account set without
// changing anything.
func (s *UserSyncService) Drift(ctx context.Context) (*models.DriftReport, error) {
	users, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	remote, err := s.gateway.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vpn accounts: %w", err)
	}

	report := &models.DriftReport{
		LocalTotal:    len(users),
		RemoteTotal:   len(remote),
		MissingRemote: []string{},
		Orphaned:      []string{},
	}

	eligible := make(map[string]bool)
	for i := range users {
		if users[i].SyncEligible() {
			eligible[users[i].Name()] = true
		}
	}
	report.LocalEligible = len(eligible)

	for _, name := range sortedKeys(eligible) {
		if _, ok := remote[name]; !ok {
			report.MissingRemote = append(report.MissingRemote, name)
		}
	}
	for _, name := range sortedKeys(remote) {
		if !eligible[name] {
			report.Orphaned = append(report.Orphaned, name)
		}
	}
	report.InSync = len(report.MissingRemote) == 0 && len(report.Orphaned) == 0

	return report, nil
}

// RemoveAccount deletes one VPN account outside a pass. actor is the
// username of the operator making the request; the admin API always
// resolves one, the local CLI may leave it empty.
func (s *UserSyncService) RemoveAccount(ctx context.Context, username, actor string) error {
	if !utils.IsValidUsername(username) {
		return &ValidationError{Field: "username", Message: "must be 1-64 characters of letters, digits, '.', '_', '@' or '-'"}
	}
	if actor != "" && strings.EqualFold(username, actor) {
		return ErrSelfRemoval
	}

	if err := s.gateway.DeleteAccount(ctx, username); err != nil {
		return fmt.Errorf("failed to remove vpn account: %w", err)
	}

	s.logger.Info().Str("username", username).Str("actor", actor).Msg("Removed vpn account")
	return nil
}

// ActorName returns the username of the user with the given id.
func (s *UserSyncService) ActorName(ctx context.Context, userID uuid.UUID) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return user.Name(), nil
}

func ineligibleReason(u *models.UserRecord) string {
	switch {
	case u.Username == nil || *u.Username == "":
		return "no username"
	case u.DeletedAt != nil:
		return "soft-deleted"
	case !u.EmailVerified:
		return "email not verified"
	default:
		return "not eligible"
	}
}

func sortSummary(s *models.SyncSummary) {
	sort.Strings(s.Created)
	sort.Strings(s.Updated)
	sort.Strings(s.Deleted)
	sort.Slice(s.Errors, func(i, j int) bool { return s.Errors[i].Username < s.Errors[j].Username })
	sort.Slice(s.Credentials, func(i, j int) bool { return s.Credentials[i].Username < s.Credentials[j].Username })
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
