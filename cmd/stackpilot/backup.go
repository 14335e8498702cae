package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/internal/backup"
	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/database"
	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/runner"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create and manage stack backups",
	}
	cmd.AddCommand(
		newBackupRunCmd(),
		newBackupListCmd(),
		newBackupInstallCronCmd(),
		newBackupRemoveCronCmd(),
	)
	return cmd
}

// openStore opens the run ledger; a missing or broken database degrades
// to ledgerless operation instead of blocking the backup.
func openStore(cfg *config.Config) (*backup.Store, func()) {
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		logging.L().Warn("run ledger unavailable", "error", err)
		return nil, func() {}
	}
	if err := db.Migrate(); err != nil {
		logging.L().Warn("run ledger migration failed", "error", err)
		db.Close()
		return nil, func() {}
	}
	return backup.NewStore(db), func() { db.Close() }
}

func newBackupRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Create a backup now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireStackCredentials(); err != nil {
				return err
			}

			store, closeStore := openStore(cfg)
			defer closeStore()

			m := backup.NewManager(cfg, runner.NewExecRunner(), store)
			rec, err := m.Run(cmd.Context(), "cli")
			if err != nil {
				return err
			}
			fmt.Printf("Backup written to %s\n", rec.Path)
			return nil
		},
	}
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List on-disk backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			records, err := backup.List(cfg.Backup.Root)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No backups found.")
				return nil
			}

			for _, rec := range records {
				state := "complete"
				if !rec.Complete {
					state = "partial"
				}
				fmt.Printf("%s  %-8s  %d bytes\n", rec.Name(), state, backup.DirSize(rec.Path))
			}
			return nil
		},
	}
}

func installCron(ctx context.Context, r runner.Runner, cfg *config.Config) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	if err := backup.InstallCron(ctx, r, cfg, executable); err != nil {
		return err
	}
	fmt.Printf("Backup cron installed: %s\n", cfg.Backup.Schedule)
	return nil
}

func newBackupInstallCronCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install-cron",
		Short: "Install the nightly backup crontab entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return installCron(cmd.Context(), runner.NewExecRunner(), cfg)
		},
	}
}

func newBackupRemoveCronCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-cron",
		Short: "Remove the managed backup crontab entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			return backup.RemoveCron(cmd.Context(), runner.NewExecRunner())
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [backup-path]",
		Short: "Restore the stack from a backup",
		Long: `Restore the database dump, web root and certificates from a backup
directory. Without an argument the most recent complete backup is
used. Missing artifacts are skipped with a warning.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireStackCredentials(); err != nil {
				return err
			}

			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			store, closeStore := openStore(cfg)
			defer closeStore()

			r := backup.NewRestorer(cfg, runner.NewExecRunner(), store)
			if err := r.Restore(cmd.Context(), path); err != nil {
				return err
			}
			fmt.Println("Restore complete.")
			return nil
		},
	}
}
