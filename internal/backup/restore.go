package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/runner"
	"github.com/stackpilot/stackpilot/internal/stack"
)

// Restorer replays a backup into the running stack. The order is fixed:
// every container stops first, the database comes up and is probed ready
// before the dump is loaded, files land on disk, the web containers
// return, and the database is cycled last over the loaded data.
type Restorer struct {
	cfg    *config.Config
	runner runner.Runner
	store  *Store

	// FSRoot is where file archives are extracted. It is the filesystem
	// root in production and a scratch directory in tests.
	FSRoot string
}

// NewRestorer creates a restorer. The store may be nil.
func NewRestorer(cfg *config.Config, r runner.Runner, store *Store) *Restorer {
	return &Restorer{cfg: cfg, runner: r, store: store, FSRoot: "/"}
}

// Resolve picks the backup to restore. An empty path selects the most
// recent complete backup; an explicit path is taken as-is, with a
// warning when its completion marker is missing.
func (r *Restorer) Resolve(path string) (Record, error) {
	if path == "" {
		return Latest(r.cfg.Backup.Root)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Record{}, fmt.Errorf("backup path not usable: %w", err)
	}
	if !info.IsDir() {
		return Record{}, fmt.Errorf("backup path is not a directory: %s", path)
	}

	rec := Record{Path: path}
	if ts, ok := ParseRecordName(filepath.Base(path)); ok {
		rec.Timestamp = ts
	}
	if _, err := ReadManifest(path); err != nil {
		logging.L().Warn("restoring backup without completion marker", "path", path)
	} else {
		rec.Complete = true
	}
	return rec, nil
}

// Restore replays the backup at path (or the latest complete one when
// path is empty). Missing artifacts are skipped with a warning; the
// restore fails only when the stack cannot be cycled at all.
func (r *Restorer) Restore(ctx context.Context, path string) error {
	rec, err := r.Resolve(path)
	if err != nil {
		return err
	}
	logging.L().Info("restore starting", "backup", rec.Path)

	var runID string
	if r.store != nil {
		id, err := r.store.StartRestore(rec.Path)
		if err != nil {
			logging.L().Warn("restore ledger unavailable", "error", err)
		} else {
			runID = id
		}
	}

	skipped, err := r.restore(ctx, rec)

	if runID != "" {
		status := "completed"
		if err != nil {
			status = "failed"
		} else if len(skipped) > 0 {
			status = "completed_with_skips"
		}
		if ferr := r.store.FinishRestore(runID, status, skipped, err); ferr != nil {
			logging.L().Warn("restore ledger update failed", "error", ferr)
		}
	}
	return err
}

func (r *Restorer) restore(ctx context.Context, rec Record) ([]string, error) {
	services := stack.Services(r.cfg)
	mysql := services["mysql"]
	apache := services["apache"]
	phpmyadmin := services["phpmyadmin"]

	// Everything goes down first so nothing writes during the replay and
	// a wedged database gets a clean start. A container that is already
	// stopped is not an error.
	r.tolerate(ctx, mysql.Stop())
	r.tolerate(ctx, apache.Stop())
	r.tolerate(ctx, phpmyadmin.Stop())

	if _, err := runner.Output(ctx, r.runner, mysql.Start()); err != nil {
		// Only a failed readiness probe below is conclusive.
		logging.L().Debug("mysql start", "error", err)
	}
	if err := stack.WaitMySQLReady(ctx, r.runner, mysql.Container, r.cfg.Stack.MySQLRootPassword); err != nil {
		return nil, fmt.Errorf("database did not come up for restore: %w", err)
	}

	var skipped []string

	if err := r.loadDump(ctx, filepath.Join(rec.Path, DumpFile)); err != nil {
		if os.IsNotExist(err) {
			logging.L().Warn("backup has no database dump, skipping", "backup", rec.Path)
			skipped = append(skipped, "dump")
		} else {
			return skipped, fmt.Errorf("failed to load database dump: %w", err)
		}
	}

	for _, archive := range []struct {
		file string
		step string
	}{
		{WWWFile, "www"},
		{CertsFile, "certs"},
	} {
		archivePath := filepath.Join(rec.Path, archive.file)
		if _, err := os.Stat(archivePath); err != nil {
			logging.L().Warn("backup artifact missing, skipping", "artifact", archive.file)
			skipped = append(skipped, archive.step)
			continue
		}
		if err := ExtractTarGz(archivePath, r.FSRoot); err != nil {
			return skipped, fmt.Errorf("failed to extract %s: %w", archive.file, err)
		}
	}

	// Bring the web tier back over the restored files, then cycle the
	// database so it comes up fresh over the loaded dump.
	if _, err := runner.Output(ctx, r.runner, apache.Restart()); err != nil {
		return skipped, fmt.Errorf("failed to restart %s: %w", apache.Container, err)
	}
	r.tolerate(ctx, phpmyadmin.Restart())
	if _, err := runner.Output(ctx, r.runner, mysql.Restart()); err != nil {
		return skipped, fmt.Errorf("failed to restart %s: %w", mysql.Container, err)
	}

	logging.L().Info("restore finished", "backup", rec.Path, "skipped", skipped)
	return skipped, nil
}

// loadDump feeds the SQL dump into the database over stdin.
func (r *Restorer) loadDump(ctx context.Context, dumpPath string) error {
	file, err := os.Open(dumpPath)
	if err != nil {
		return err
	}
	defer file.Close()

	result, err := r.runner.Run(ctx, runner.Invocation{
		Program: "podman",
		Args: []string{
			"exec", "-i", r.cfg.Stack.MySQLContainer,
			"mysql", "-u", "root", "-p" + r.cfg.Stack.MySQLRootPassword,
		},
		Stdin: file,
	})
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("mysql exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

func (r *Restorer) tolerate(ctx context.Context, inv runner.Invocation) {
	if _, err := runner.Output(ctx, r.runner, inv); err != nil {
		logging.L().Debug("tolerated failure", "command", inv.String(), "error", err)
	}
}
