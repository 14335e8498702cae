package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/internal/backup"
	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/runner"
	"github.com/stackpilot/stackpilot/internal/stack"
	"github.com/stackpilot/stackpilot/internal/systemd"
)

func newStackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Manage the Podman LAMP stack",
	}
	cmd.AddCommand(newStackUpCmd(), newStackDownCmd())
	return cmd
}

// connectSystemd tries the system bus; provisioning falls back to
// systemctl when it is unavailable.
func connectSystemd() *systemd.Manager {
	sysd, err := systemd.Connect()
	if err != nil {
		logging.L().Warn("system bus unavailable, using systemctl", "error", err)
		return nil
	}
	return sysd
}

func newStackUpCmd() *cobra.Command {
	var installBackupCron bool
	var initialBackup bool

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Deploy MySQL, Apache and phpMyAdmin containers",
		Long: `Deploy the full stack: ensure podman (and certbot when a domain is
configured), create the shared network, start the containers with
readiness probes, obtain certificates and register systemd units.
Individual container failures are logged and the rest of the stack
still comes up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireStackCredentials(); err != nil {
				return err
			}

			r := runner.NewExecRunner()
			sysd := connectSystemd()
			if sysd != nil {
				defer sysd.Close()
			}

			p := stack.NewProvisioner(cfg, r, sysd)
			if err := p.Up(cmd.Context()); err != nil {
				return err
			}

			if installBackupCron {
				if err := installCron(cmd.Context(), r, cfg); err != nil {
					return err
				}
			}

			// First backup right after provisioning, so the retention
			// window starts with a known-good record. Best effort.
			if initialBackup {
				store, closeStore := openStore(cfg)
				defer closeStore()
				m := backup.NewManager(cfg, r, store)
				if rec, err := m.Run(cmd.Context(), "provision"); err != nil {
					logging.L().Warn("initial backup failed", "error", err)
				} else {
					fmt.Printf("Initial backup written to %s\n", rec.Path)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&installBackupCron, "with-backup-cron", true, "install the nightly backup crontab entry")
	cmd.Flags().BoolVar(&initialBackup, "initial-backup", true, "create a first backup after provisioning")
	return cmd
}

func newStackDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop the stack containers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p := stack.NewProvisioner(cfg, runner.NewExecRunner(), nil)
			p.Down(cmd.Context())
			return nil
		},
	}
}
