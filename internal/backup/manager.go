package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/runner"
	"github.com/stackpilot/stackpilot/internal/stack"
)

// Manager drives backup runs. Each run produces one timestamped
// directory under the backup root; every capture step is best-effort so
// a missing web root or a stopped container degrades the backup instead
// of aborting it.
type Manager struct {
	cfg    *config.Config
	runner runner.Runner
	store  *Store

	// Progress, when set, receives step notifications for live observers.
	Progress func(step, detail string)

	// now is swappable for tests.
	now func() time.Time
}

// NewManager creates a backup manager. The store may be nil when no run
// ledger is wanted (one-shot CLI runs without a database).
func NewManager(cfg *config.Config, r runner.Runner, store *Store) *Manager {
	return &Manager{cfg: cfg, runner: r, store: store, now: time.Now}
}

func (m *Manager) step(name, detail string) {
	logging.L().Info("backup step", "step", name, "detail", detail)
	if m.Progress != nil {
		m.Progress(name, detail)
	}
}

func (m *Manager) warn(warnings *[]string, step string, err error) {
	logging.L().Warn("backup step failed", "step", step, "error", err)
	*warnings = append(*warnings, fmt.Sprintf("%s: %v", step, err))
	if m.Progress != nil {
		m.Progress(step, "failed: "+err.Error())
	}
}

// Run performs one full backup and returns its record. The only fatal
// error is failing to create the backup directory itself.
func (m *Manager) Run(ctx context.Context, triggeredBy string) (Record, error) {
	startedAt := m.now()
	recordDir := filepath.Join(m.cfg.Backup.Root, RecordName(startedAt))

	if err := os.MkdirAll(recordDir, 0755); err != nil {
		return Record{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	var runID string
	if m.store != nil {
		id, err := m.store.StartBackup(recordDir, triggeredBy)
		if err != nil {
			logging.L().Warn("backup ledger unavailable", "error", err)
		} else {
			runID = id
		}
	}

	var warnings []string
	var artifacts []string

	m.step("dump", m.cfg.Stack.MySQLContainer)
	if err := m.dumpDatabase(ctx, filepath.Join(recordDir, DumpFile)); err != nil {
		m.warn(&warnings, "dump", err)
	} else {
		artifacts = append(artifacts, DumpFile)
	}

	m.step("archive-www", m.cfg.Stack.WebRoot)
	if err := m.archiveDir(m.cfg.Stack.WebRoot, filepath.Join(recordDir, WWWFile)); err != nil {
		m.warn(&warnings, "archive-www", err)
	} else {
		artifacts = append(artifacts, WWWFile)
	}

	if _, err := os.Stat(m.cfg.Stack.CertDir); err == nil {
		m.step("archive-certs", m.cfg.Stack.CertDir)
		if err := m.archiveDir(m.cfg.Stack.CertDir, filepath.Join(recordDir, CertsFile)); err != nil {
			m.warn(&warnings, "archive-certs", err)
		} else {
			artifacts = append(artifacts, CertsFile)
		}
	}

	for name, svc := range stack.Services(m.cfg) {
		file := name + "_config.json"
		if err := m.snapshotContainer(ctx, svc, filepath.Join(recordDir, file)); err != nil {
			m.warn(&warnings, "inspect-"+name, err)
		} else {
			artifacts = append(artifacts, file)
		}
	}

	m.step("prune", fmt.Sprintf("%d days", m.cfg.Backup.RetentionDays))
	if _, err := Prune(m.cfg.Backup.Root, m.cfg.Backup.RetentionDays, startedAt); err != nil {
		m.warn(&warnings, "prune", err)
	}

	size := DirSize(recordDir)
	manifest := Manifest{
		CreatedAt:   startedAt.UTC(),
		CompletedAt: m.now().UTC(),
		Artifacts:   artifacts,
		Warnings:    warnings,
		SizeBytes:   size,
	}
	if err := WriteManifest(recordDir, manifest); err != nil {
		// Without the marker the backup stays invisible to restore.
		if runID != "" {
			m.store.FinishBackup(runID, "failed", size, err)
		}
		return Record{}, fmt.Errorf("failed to finalize backup: %w", err)
	}

	// Replication runs after the marker is written so the remote copy
	// carries it too; the manifest is refreshed when replication warns.
	preReplicate := len(warnings)
	m.replicate(recordDir, &warnings)
	if len(warnings) > preReplicate {
		manifest.Warnings = warnings
		if err := WriteManifest(recordDir, manifest); err != nil {
			logging.L().Warn("failed to record replication warnings in manifest", "error", err)
		}
	}

	status := "completed"
	if len(warnings) > 0 {
		status = "completed_with_warnings"
	}
	if runID != "" {
		if err := m.store.FinishBackup(runID, status, size, nil); err != nil {
			logging.L().Warn("backup ledger update failed", "error", err)
		}
	}

	logging.L().Info("backup finished",
		"path", recordDir,
		"size_bytes", size,
		"artifacts", len(artifacts),
		"warnings", len(warnings),
	)
	return Record{Path: recordDir, Timestamp: startedAt, Complete: true}, nil
}

// dumpDatabase streams a full mysqldump out of the database container.
func (m *Manager) dumpDatabase(ctx context.Context, outPath string) error {
	result, err := m.runner.Run(ctx, runner.Invocation{
		Program: "podman",
		Args: []string{
			"exec", m.cfg.Stack.MySQLContainer,
			"mysqldump", "-u", "root", "-p" + m.cfg.Stack.MySQLRootPassword,
			"--all-databases", "--single-transaction", "--routines", "--triggers",
		},
	})
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("mysqldump exited %d: %s", result.ExitCode, result.Stderr)
	}
	return os.WriteFile(outPath, []byte(result.Stdout), 0600)
}

func (m *Manager) archiveDir(sourceDir, outPath string) error {
	if _, err := os.Stat(sourceDir); err != nil {
		return fmt.Errorf("source missing: %w", err)
	}
	return CreateTarGz(outPath, sourceDir)
}

func (m *Manager) snapshotContainer(ctx context.Context, svc stack.Service, outPath string) error {
	out, err := runner.Output(ctx, m.runner, svc.Inspect())
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte(out), 0644)
}

func (m *Manager) replicate(recordDir string, warnings *[]string) {
	for _, destCfg := range m.cfg.Backup.Destinations {
		m.step("replicate", destCfg.Type)
		dest, err := NewDestination(destCfg)
		if err != nil {
			m.warn(warnings, "replicate-"+destCfg.Type, err)
			continue
		}
		if err := Replicate(dest, recordDir); err != nil {
			m.warn(warnings, "replicate-"+destCfg.Type, err)
		}
		dest.Close()
	}
}
