package backup

import (
	"context"
	"fmt"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/cron"
	"github.com/stackpilot/stackpilot/internal/runner"
)

// CronJob is the marker name of the scheduled backup entry.
const CronJob = "backup"

// InstallCron installs the nightly backup crontab entry pointing at this
// executable. Installing again replaces the managed entry, never
// duplicates it; foreign crontab lines are preserved.
func InstallCron(ctx context.Context, r runner.Runner, cfg *config.Config, executable string) error {
	if executable == "" {
		return fmt.Errorf("executable path required for cron entry")
	}
	command := fmt.Sprintf("%s backup run >> %s 2>&1", executable, cfg.Backup.LogFile)
	return cron.Install(ctx, r, cfg.Backup.Schedule, command, CronJob)
}

// RemoveCron removes the managed backup crontab entry.
func RemoveCron(ctx context.Context, r runner.Runner) error {
	return cron.Remove(ctx, r, CronJob)
}
