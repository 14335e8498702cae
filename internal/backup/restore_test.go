package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/runner"
)

func restoreFixture(t *testing.T) (*Restorer, *runner.MockRunner, *config.Config, string) {
	t.Helper()
	cfg := config.Default()
	cfg.Stack.MySQLRootPassword = "secret"
	cfg.Backup.Root = t.TempDir()

	recordDir := mkRecord(t, cfg.Backup.Root, "backup_20250301_020000", true)
	if err := os.WriteFile(filepath.Join(recordDir, DumpFile), []byte("CREATE DATABASE testdb;"), 0600); err != nil {
		t.Fatal(err)
	}

	// Web root archive built from a real tree so extraction is exercised.
	src := filepath.Join(t.TempDir(), "www")
	if err := os.MkdirAll(src, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "index.php"), []byte("<?php"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := CreateTarGz(filepath.Join(recordDir, WWWFile), src); err != nil {
		t.Fatal(err)
	}

	mock := runner.NewMockRunner()
	r := NewRestorer(cfg, mock, nil)
	r.FSRoot = t.TempDir()
	return r, mock, cfg, recordDir
}

func TestRestoreOrdering(t *testing.T) {
	r, mock, _, _ := restoreFixture(t)

	if err := r.Restore(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	lines := mock.CommandLines()
	index := func(prefix string) int {
		for i, line := range lines {
			if strings.HasPrefix(line, prefix) {
				return i
			}
		}
		t.Fatalf("no invocation with prefix %q in %v", prefix, lines)
		return -1
	}

	stopMySQL := index("podman stop mysql_server")
	stopApache := index("podman stop apache2_server")
	startMySQL := index("podman start mysql_server")
	probe := index("podman exec mysql_server mysqladmin ping")
	load := index("podman exec -i mysql_server mysql")
	restartApache := index("podman restart apache2_server")
	restartMySQL := index("podman restart mysql_server")

	if !(stopMySQL < startMySQL && stopApache < startMySQL && startMySQL < probe &&
		probe < load && load < restartApache && restartApache < restartMySQL) {
		t.Fatalf("restore steps out of order: %v", lines)
	}
}

func TestRestoreFeedsDumpOverStdin(t *testing.T) {
	r, mock, _, _ := restoreFixture(t)

	if err := r.Restore(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	found := false
	for _, stdin := range mock.Stdins {
		if strings.Contains(stdin, "CREATE DATABASE testdb;") {
			found = true
		}
	}
	if !found {
		t.Fatal("dump content never fed to mysql")
	}
}

func TestRestoreExtractsWebRoot(t *testing.T) {
	r, _, _, _ := restoreFixture(t)

	if err := r.Restore(context.Background(), ""); err != nil {
		t.Fatal(err)
	}

	found := false
	filepath.Walk(r.FSRoot, func(path string, info os.FileInfo, err error) error {
		if err == nil && info != nil && info.Name() == "index.php" {
			found = true
		}
		return nil
	})
	if !found {
		t.Fatal("web root archive not extracted")
	}
}

func TestRestoreSkipsMissingArtifacts(t *testing.T) {
	r, _, _, recordDir := restoreFixture(t)
	// No certs archive in the fixture; drop the dump too.
	if err := os.Remove(filepath.Join(recordDir, DumpFile)); err != nil {
		t.Fatal(err)
	}

	rec, err := r.Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	skipped, err := r.restore(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{"dump": false, "certs": false}
	for _, s := range skipped {
		want[s] = true
	}
	for step, seen := range want {
		if !seen {
			t.Errorf("step %s not reported as skipped (got %v)", step, skipped)
		}
	}
}

func TestRestoreFailsWhenDatabaseNeverReady(t *testing.T) {
	r, mock, _, _ := restoreFixture(t)
	mock.Handle("podman exec mysql_server mysqladmin ping", func(runner.Invocation) (runner.Result, error) {
		return runner.Result{ExitCode: 1}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.Restore(ctx, ""); err == nil {
		t.Fatal("restore succeeded without a ready database")
	}
}

func TestResolveExplicitPathWithoutMarker(t *testing.T) {
	r, _, cfg, _ := restoreFixture(t)
	partial := mkRecord(t, cfg.Backup.Root, "backup_20250401_020000", false)

	rec, err := r.Resolve(partial)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Complete {
		t.Fatal("markerless backup reported complete")
	}
	if rec.Path != partial {
		t.Fatalf("resolved %s, want %s", rec.Path, partial)
	}
}

func TestResolveDefaultIgnoresIncomplete(t *testing.T) {
	r, _, cfg, complete := restoreFixture(t)
	mkRecord(t, cfg.Backup.Root, "backup_20250401_020000", false)

	rec, err := r.Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Path != complete {
		t.Fatalf("resolved %s, want %s", rec.Path, complete)
	}
}
