// Package cron edits the host crontab. The scheduler has no single-entry
// edit primitive, so every change reads the whole table, filters by a
// marker comment, and writes the table back through `crontab -`.
package cron

import (
	"context"
	"fmt"
	"strings"

	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/runner"
)

const markerPrefix = "# stackpilot:"

// Marker builds the tag appended to managed crontab lines.
func Marker(job string) string {
	return markerPrefix + job
}

// Install idempotently ensures a single marker-tagged entry exists for the
// job. The table is re-read immediately before writing so a concurrent
// editor's entries survive; installing twice leaves exactly one entry.
func Install(ctx context.Context, r runner.Runner, schedule, command, job string) error {
	marker := Marker(job)
	line := fmt.Sprintf("%s %s %s", schedule, command, marker)

	current, err := readTable(ctx, r)
	if err != nil {
		return err
	}

	kept := FilterLines(current, marker)
	kept = append(kept, line)

	if err := writeTable(ctx, r, kept); err != nil {
		return err
	}

	logging.L().Info("cron entry installed", "job", job, "schedule", schedule)
	return nil
}

// Remove deletes every entry tagged with the job marker.
func Remove(ctx context.Context, r runner.Runner, job string) error {
	current, err := readTable(ctx, r)
	if err != nil {
		return err
	}

	kept := FilterLines(current, Marker(job))
	return writeTable(ctx, r, kept)
}

// Installed reports whether an entry tagged with the job marker exists.
func Installed(ctx context.Context, r runner.Runner, job string) (bool, error) {
	current, err := readTable(ctx, r)
	if err != nil {
		return false, err
	}
	marker := Marker(job)
	for _, line := range strings.Split(current, "\n") {
		if strings.Contains(line, marker) {
			return true, nil
		}
	}
	return false, nil
}

func readTable(ctx context.Context, r runner.Runner) (string, error) {
	// A missing crontab exits non-zero with "no crontab for user"; that is
	// an empty table, not an error.
	result, err := r.Run(ctx, runner.Invocation{Program: "crontab", Args: []string{"-l"}})
	if err != nil {
		return "", fmt.Errorf("failed to read crontab: %w", err)
	}
	if !result.Success() {
		return "", nil
	}
	return result.Stdout, nil
}

func writeTable(ctx context.Context, r runner.Runner, lines []string) error {
	table := strings.Join(lines, "\n")
	if table != "" {
		table += "\n"
	}

	result, err := r.Run(ctx, runner.Invocation{
		Program: "crontab",
		Args:    []string{"-"},
		Stdin:   strings.NewReader(table),
	})
	if err != nil {
		return fmt.Errorf("failed to write crontab: %w", err)
	}
	if !result.Success() {
		return fmt.Errorf("crontab rejected table: %s", strings.TrimSpace(result.Stderr))
	}
	return nil
}

// FilterLines drops blank lines and lines carrying the marker.
func FilterLines(table, marker string) []string {
	var kept []string
	for _, line := range strings.Split(table, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		if strings.Contains(trimmed, marker) {
			continue
		}
		kept = append(kept, trimmed)
	}
	return kept
}
