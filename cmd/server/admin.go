package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kamikazebr/ovpn-sync/internal/server/config"
	"github.com/kamikazebr/ovpn-sync/internal/server/openvpn"
	"github.com/kamikazebr/ovpn-sync/internal/server/services"
	"github.com/kamikazebr/ovpn-sync/internal/server/storage"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
	"github.com/spf13/cobra"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative commands",
	Long:  "One-shot sync, drift and account commands against the database and the Access Server",
}

// syncCmd runs its own scheduler, so it does not share the in-flight guard
// of a running server. Stop the server scheduler or use POST /sync instead.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass now",
	Long: "Run one sync pass in this process. The pass is not coordinated with a running " +
		"ovpn-sync server; stop its scheduler first or trigger the pass through the admin API.",
	RunE: runSyncCommand,
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Compare database users with Access Server accounts",
	RunE:  runDriftCommand,
}

var listAccountsCmd = &cobra.Command{
	Use:   "list-accounts",
	Short: "List Access Server accounts",
	RunE:  runListAccountsCommand,
}

var listConnectionsCmd = &cobra.Command{
	Use:   "list-connections",
	Short: "List clients currently connected to the VPN",
	RunE:  runListConnectionsCommand,
}

var listDevicesCmd = &cobra.Command{
	Use:   "list-devices",
	Short: "List tracked device records",
	RunE:  runListDevicesCommand,
}

var removeAccountCmd = &cobra.Command{
	Use:   "remove-account",
	Short: "Delete one Access Server account",
	RunE:  runRemoveAccountCommand,
}

var resolveDevicesCmd = &cobra.Command{
	Use:   "resolve-devices",
	Short: "Reconcile device records with live connections",
	RunE:  runResolveDevicesCommand,
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "Report changes without applying them")
	syncCmd.Flags().Bool("delete-orphaned", false, "Delete accounts with no eligible user")

	listDevicesCmd.Flags().String("username", "", "Only show devices of this user")

	removeAccountCmd.Flags().String("username", "", "Account to delete (required)")
	removeAccountCmd.Flags().String("actor", "", "Username of the operator running the command")
	removeAccountCmd.MarkFlagRequired("username")

	adminCmd.AddCommand(
		syncCmd,
		driftCmd,
		listAccountsCmd,
		listConnectionsCmd,
		listDevicesCmd,
		removeAccountCmd,
		resolveDevicesCmd,
	)
}

// adminEnv holds what admin commands need. db is nil for gateway-only commands.
type adminEnv struct {
	cfg     *config.Config
	db      *storage.DB
	gateway *openvpn.Gateway
}

func newAdminEnv(withDB bool) (*adminEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	gateway, err := newGateway(cfg.OpenVPN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sacli gateway: %w", err)
	}

	env := &adminEnv{cfg: cfg, gateway: gateway}
	if withDB {
		env.db, err = storage.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
	}
	return env, nil
}

func (e *adminEnv) Close() {
	if e.db != nil {
		e.db.Close()
	}
}

func (e *adminEnv) userSync() *services.UserSyncService {
	return services.NewUserSyncService(storage.NewUserRepository(e.db), e.gateway, e.cfg.Sync.Concurrency)
}

func (e *adminEnv) deviceConflicts() *services.DeviceConflictService {
	return services.NewDeviceConflictService(storage.NewUserRepository(e.db), storage.NewDeviceRepository(e.db), e.gateway)
}

func runSyncCommand(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	deleteOrphaned, _ := cmd.Flags().GetBool("delete-orphaned")

	env, err := newAdminEnv(true)
	if err != nil {
		return err
	}
	defer env.Close()

	scheduler, err := services.NewSyncScheduler(env.userSync(), env.deviceConflicts(), env.cfg.Sync.IntervalMinutes, deleteOrphaned)
	if err != nil {
		return err
	}

	rec, err := scheduler.RunNow(cmd.Context(), services.RunOptions{
		DryRun:         dryRun,
		DeleteOrphaned: deleteOrphaned,
		Trigger:        models.TriggerManual,
	})
	if err != nil {
		return err
	}

	printSummary(rec)
	return nil
}

func printSummary(rec *models.PassRecord) {
	s := rec.Summary
	title := "Sync pass"
	if s.DryRun {
		title += " (dry run)"
	}
	fmt.Printf("%s: %s in %s\n", title, rec.Outcome, rec.Duration)
	fmt.Println(strings.Repeat("=", 80))
	printNames("Created", s.Created)
	printNames("Updated", s.Updated)
	printNames("Deleted", s.Deleted)

	if len(s.Skipped) > 0 {
		fmt.Printf("Skipped (%d):\n", len(s.Skipped))
		for _, issue := range s.Skipped {
			fmt.Printf("  %-36s %s\n", issueName(issue), issue.Reason)
		}
	}
	if len(s.Errors) > 0 {
		fmt.Printf("Errors (%d):\n", len(s.Errors))
		for _, issue := range s.Errors {
			fmt.Printf("  %-36s %s\n", issueName(issue), issue.Error)
		}
	}
	if s.Devices != nil {
		fmt.Printf("Devices: %d processed, %d created, %d refreshed, %d reassigned\n",
			s.Devices.Processed, s.Devices.Created, s.Devices.Refreshed, len(s.Devices.Reassignments))
	}

	if len(s.Credentials) > 0 {
		fmt.Println(strings.Repeat("=", 80))
		fmt.Println("Temporary passwords (shown once):")
		fmt.Printf("%-36s %-20s\n", "Username", "Password")
		for _, c := range s.Credentials {
			fmt.Printf("%-36s %-20s\n", c.Username, c.TempPassword)
		}
	}
	fmt.Println(strings.Repeat("=", 80))
}

func printNames(label string, names []string) {
	if len(names) == 0 {
		fmt.Printf("%s: none\n", label)
		return
	}
	fmt.Printf("%s (%d): %s\n", label, len(names), strings.Join(names, ", "))
}

func issueName(issue models.SyncIssue) string {
	if issue.Username != "" {
		return issue.Username
	}
	if issue.UserID != "" {
		return issue.UserID
	}
	return "-"
}

func runDriftCommand(cmd *cobra.Command, args []string) error {
	env, err := newAdminEnv(true)
	if err != nil {
		return err
	}
	defer env.Close()

	report, err := env.userSync().Drift(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Local users:      %d (%d eligible)\n", report.LocalTotal, report.LocalEligible)
	fmt.Printf("Remote accounts:  %d\n", report.RemoteTotal)
	if report.InSync {
		fmt.Println("In sync.")
		return nil
	}
	printNames("Missing on server", report.MissingRemote)
	printNames("Orphaned on server", report.Orphaned)
	return nil
}

func runListAccountsCommand(cmd *cobra.Command, args []string) error {
	env, err := newAdminEnv(false)
	if err != nil {
		return err
	}
	defer env.Close()

	accounts, err := env.gateway.ListAccounts(cmd.Context())
	if err != nil {
		return err
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts on the Access Server.")
		return nil
	}

	names := make([]string, 0, len(accounts))
	for name := range accounts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("Accounts (%d):\n", len(accounts))
	fmt.Println(strings.Repeat("=", 90))
	fmt.Printf("%-24s %-36s %-20s %-8s\n", "Username", "Email", "Display Name", "Admin")
	fmt.Println(strings.Repeat("=", 90))
	for _, name := range names {
		props := accounts[name]
		fmt.Printf("%-24s %-36s %-20s %-8s\n",
			name,
			props[models.PropEmail],
			props[models.PropDisplayName],
			props[models.PropSuperuser],
		)
	}
	fmt.Println(strings.Repeat("=", 90))
	return nil
}

func runListConnectionsCommand(cmd *cobra.Command, args []string) error {
	env, err := newAdminEnv(false)
	if err != nil {
		return err
	}
	defer env.Close()

	conns, err := env.gateway.ListLiveConnections(cmd.Context())
	if err != nil {
		return err
	}

	if len(conns) == 0 {
		fmt.Println("No clients connected.")
		return nil
	}

	fmt.Printf("Connections (%d):\n", len(conns))
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-24s %-16s %-20s %-16s\n", "Username", "Tunnel IP", "Real IP", "Connected")
	fmt.Println(strings.Repeat("=", 80))
	for _, c := range conns {
		fmt.Printf("%-24s %-16s %-20s %-16s\n", c.Username, c.TunnelIP, c.RealIP, since(c.ConnectedSince))
	}
	fmt.Println(strings.Repeat("=", 80))
	return nil
}

func runListDevicesCommand(cmd *cobra.Command, args []string) error {
	username, _ := cmd.Flags().GetString("username")

	env, err := newAdminEnv(true)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	deviceRepo := storage.NewDeviceRepository(env.db)

	var devices []models.DeviceRecord
	if username != "" {
		user, err := storage.NewUserRepository(env.db).GetByUsername(ctx, username)
		if err != nil {
			return err
		}
		if user == nil {
			return fmt.Errorf("user not found: %s", username)
		}
		devices, err = deviceRepo.ListByUserID(ctx, user.ID)
		if err != nil {
			return err
		}
	} else {
		devices, err = deviceRepo.ListActive(ctx)
		if err != nil {
			return err
		}
	}

	if len(devices) == 0 {
		fmt.Println("No device records.")
		return nil
	}

	fmt.Printf("Devices (%d):\n", len(devices))
	fmt.Println(strings.Repeat("=", 100))
	fmt.Printf("%-36s %-36s %-16s %-8s\n", "User ID", "Device ID", "Tunnel IP", "Active")
	fmt.Println(strings.Repeat("=", 100))
	for _, d := range devices {
		active := "Yes"
		if !d.IsActive {
			active = "No"
		}
		fmt.Printf("%-36s %-36s %-16s %-8s\n", d.UserID, d.ID, d.TunnelIP, active)
	}
	fmt.Println(strings.Repeat("=", 100))
	return nil
}

func runRemoveAccountCommand(cmd *cobra.Command, args []string) error {
	username, _ := cmd.Flags().GetString("username")
	actor, _ := cmd.Flags().GetString("actor")

	env, err := newAdminEnv(true)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.userSync().RemoveAccount(cmd.Context(), username, actor); err != nil {
		return err
	}

	fmt.Printf("Removed account %s\n", username)
	return nil
}

func runResolveDevicesCommand(cmd *cobra.Command, args []string) error {
	env, err := newAdminEnv(true)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
	defer cancel()

	summary, err := env.deviceConflicts().ResolveLive(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Processed %d connections: %d created, %d refreshed\n", summary.Processed, summary.Created, summary.Refreshed)
	for _, r := range summary.Reassignments {
		fmt.Printf("  %-16s %s -> %s (%s)\n", r.TunnelIP, r.OldUserID, r.NewUserID, r.Username)
	}
	for _, s := range summary.Skipped {
		fmt.Printf("  skipped %-24s %s\n", s.Username, s.Error)
	}
	return nil
}

func since(t *time.Time) string {
	if t == nil {
		return "-"
	}
	d := time.Since(*t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs ago", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%.0fm ago", d.Minutes())
	default:
		return fmt.Sprintf("%.1fh ago", d.Hours())
	}
}
