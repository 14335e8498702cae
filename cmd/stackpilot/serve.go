package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/internal/api"
	"github.com/stackpilot/stackpilot/internal/api/handlers"
	"github.com/stackpilot/stackpilot/internal/auth"
	"github.com/stackpilot/stackpilot/internal/backup"
	"github.com/stackpilot/stackpilot/internal/database"
	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/metrics"
	"github.com/stackpilot/stackpilot/internal/runner"
	"github.com/stackpilot/stackpilot/internal/stack"
	"github.com/stackpilot/stackpilot/internal/systemd"
	"github.com/stackpilot/stackpilot/internal/websocket"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the management API with the in-process backup scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Close()

	if cfg.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret (or STACKPILOT_JWT_SECRET) is required for serve mode")
	}
	// The scheduler and API both run backups; refuse to start without
	// working database credentials.
	if err := cfg.RequireStackCredentials(); err != nil {
		return err
	}

	tokenDuration, err := time.ParseDuration(cfg.API.TokenDuration)
	if err != nil {
		tokenDuration = time.Hour
	}
	jwtManager, err := auth.NewJWTManager(cfg.API.JWTSecret, tokenDuration)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	// Surface container unit flaps to connected clients. Hosts without a
	// system bus just lose this stream.
	units := make([]string, 0, 3)
	for _, svc := range stack.Services(cfg) {
		units = append(units, svc.Unit())
	}
	go func() {
		if err := systemd.Watch(ctx, units, func(ev systemd.UnitEvent) {
			hub.Broadcast("stack", ev.Unit, ev.OldState+" -> "+ev.NewState)
		}); err != nil {
			logging.L().Warn("unit watcher unavailable", "error", err)
		}
	}()

	execRunner := runner.NewExecRunner()
	store := backup.NewStore(db)

	manager := backup.NewManager(cfg, execRunner, store)
	manager.Progress = func(step, detail string) {
		hub.Broadcast("backup", step, detail)
	}

	restorer := backup.NewRestorer(cfg, execRunner, store)

	scheduler := backup.NewScheduler(manager, cfg.Backup.Schedule)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	collector := metrics.NewCollector(cfg, db)
	collector.Start()
	defer collector.Stop()

	h := handlers.New(cfg, execRunner, jwtManager)
	h.Store = store
	h.Manager = manager
	h.Restorer = restorer
	h.Scheduler = scheduler
	h.Hub = hub
	h.Collector = collector

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:      api.NewRouter(h),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.L().Info("api listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	return nil
}
