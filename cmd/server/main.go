package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kamikazebr/ovpn-sync/internal/log"
	"github.com/kamikazebr/ovpn-sync/internal/server/api"
	"github.com/kamikazebr/ovpn-sync/internal/server/config"
	"github.com/kamikazebr/ovpn-sync/internal/server/events"
	"github.com/kamikazebr/ovpn-sync/internal/server/metrics"
	"github.com/kamikazebr/ovpn-sync/internal/server/openvpn"
	"github.com/kamikazebr/ovpn-sync/internal/server/services"
	"github.com/kamikazebr/ovpn-sync/internal/server/setup"
	"github.com/kamikazebr/ovpn-sync/internal/server/storage"
	"github.com/kamikazebr/ovpn-sync/pkg/version"
	"github.com/spf13/cobra"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var rootCmd = &cobra.Command{
	Use:   "ovpn-sync",
	Short: "OpenVPN Access Server user and device sync",
	Long:  "Keeps OpenVPN Access Server accounts and device records in step with the user database",
	// Default to serve command if no subcommand provided
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync service",
	Long:  "Start the sync scheduler, event listener and admin HTTP API",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get().String("ovpn-sync"))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, adminCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads .env and the environment and initializes logging.
func loadConfig() (*config.Config, error) {
	hadEnvFile := config.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	if !hadEnvFile {
		log.Logger.Debug().Msg(".env file not found, using environment variables")
	}
	return cfg, nil
}

// newGateway builds the sacli gateway over the configured transport.
func newGateway(cfg config.OpenVPNConfig) (*openvpn.Gateway, error) {
	var runner openvpn.Runner
	switch cfg.Transport {
	case config.TransportSSH:
		sshRunner, err := openvpn.NewSSHRunner(cfg.SSHAddr, cfg.SSHUser, cfg.SSHKeyPath, cfg.SSHKnownHosts, cfg.SacliPath)
		if err != nil {
			return nil, err
		}
		runner = sshRunner
	default:
		runner = openvpn.NewDockerRunner(cfg.Container, cfg.SacliPath)
	}
	return openvpn.NewGateway(runner, cfg.Timeout), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.WithComponent("server")
	logger.Info().Str("version", version.Get().String("ovpn-sync")).Msg("Starting ovpn-sync")

	db, err := storage.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info().Msg("Database connected")

	if err := runEmbeddedMigrations(db.DB.DB); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	userRepo := storage.NewUserRepository(db)
	deviceRepo := storage.NewDeviceRepository(db)

	gateway, err := newGateway(cfg.OpenVPN)
	if err != nil {
		return fmt.Errorf("failed to initialize sacli gateway: %w", err)
	}
	logger.Info().Str("transport", cfg.OpenVPN.Transport).Dur("timeout", cfg.OpenVPN.Timeout).Msg("sacli gateway ready")

	if cfg.OpenVPN.Transport == config.TransportDocker {
		preflight := setup.NewPreflight(cfg.OpenVPN.Container, cfg.OpenVPN.SacliPath)
		if err := preflight.CheckDocker(cmd.Context()); err != nil {
			// Passes fail per call until the server comes up
			logger.Warn().Err(err).Msg("Access Server preflight failed, continuing")
		}
	}

	userSync := services.NewUserSyncService(userRepo, gateway, cfg.Sync.Concurrency)
	deviceConflicts := services.NewDeviceConflictService(userRepo, deviceRepo, gateway)
	scheduler, err := services.NewSyncScheduler(userSync, deviceConflicts, cfg.Sync.IntervalMinutes, cfg.Sync.DeleteOrphaned)
	if err != nil {
		return err
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := services.NewUserSyncListener(broker, scheduler)
	listener.Start(ctx)
	defer listener.Stop()

	if cfg.Sync.AutoStart {
		scheduler.Start()
	}
	defer scheduler.Stop()

	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET is not set, admin API will reject every request")
	}

	syncHandler := api.NewSyncHandler(userSync, scheduler, broker)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.CORSMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/admin/vpn", func(r chi.Router) {
		r.Use(api.AuthMiddleware(cfg.JWTSecret))
		r.Use(api.AdminMiddleware)
		syncHandler.Routes(r)
	})

	// Sync passes can take a while with many users
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr()).Msg("Admin API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info().Msg("Server stopped")
	return nil
}

func runEmbeddedMigrations(db *sql.DB) error {
	logger := log.WithComponent("migrations")

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".sql" {
			migrations = append(migrations, entry.Name())
		}
	}
	sort.Strings(migrations)

	for _, migration := range migrations {
		content, err := migrationsFS.ReadFile(filepath.Join("migrations", migration))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", migration, err)
		}

		// Migrations are written with IF NOT EXISTS so re-running is safe
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration, err)
		}
		logger.Debug().Str("migration", migration).Msg("Applied migration")
	}

	logger.Info().Int("count", len(migrations)).Msg("Migrations complete")
	return nil
}
