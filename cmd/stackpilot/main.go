// Package main is the entrypoint for the stackpilot CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stackpilot/stackpilot/internal/auth"
	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/preflight"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, preflight.ErrPrerequisite) {
			fmt.Fprintln(os.Stderr, "Fix the prerequisite above and run the command again.")
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stackpilot",
		Short: "Provision Ubuntu VMs and a Podman LAMP stack, with scheduled backups",
		Long: `Stackpilot provisions Ubuntu guests on Hyper-V or VirtualBox, deploys a
MySQL + Apache + phpMyAdmin stack on Podman, and keeps timestamped
backups of the database, web root and certificates.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newVMCmd(),
		newStackCmd(),
		newBackupCmd(),
		newRestoreCmd(),
		newServeCmd(),
		newHashCmd(),
	)
	return rootCmd
}

// loadConfig loads configuration and brings up logging for a command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Logging)
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stackpilot %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newHashCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Hash a password for api.admin_password_hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Password: ")
			password, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if len(password) == 0 {
				return fmt.Errorf("password must not be empty")
			}

			hash, err := auth.HashPassword(string(password), cost)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", 12, "bcrypt cost")
	return cmd
}
