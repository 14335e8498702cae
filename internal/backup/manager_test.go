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

func managerFixture(t *testing.T) (*Manager, *runner.MockRunner, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Stack.MySQLRootPassword = "secret"
	cfg.Backup.Root = t.TempDir()
	cfg.Stack.WebRoot = filepath.Join(t.TempDir(), "www")
	cfg.Stack.CertDir = filepath.Join(t.TempDir(), "certs")

	if err := os.MkdirAll(cfg.Stack.WebRoot, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Stack.WebRoot, "index.php"), []byte("<?php"), 0644); err != nil {
		t.Fatal(err)
	}

	mock := runner.NewMockRunner()
	mock.Handle("podman exec mysql_server mysqldump", func(runner.Invocation) (runner.Result, error) {
		return runner.Result{Stdout: "-- MySQL dump 8.0\n"}, nil
	})
	mock.Handle("podman inspect", func(runner.Invocation) (runner.Result, error) {
		return runner.Result{Stdout: "[{}]"}, nil
	})

	return NewManager(cfg, mock, nil), mock, cfg
}

func TestManagerRunProducesCompleteRecord(t *testing.T) {
	m, mock, cfg := managerFixture(t)

	rec, err := m.Run(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Complete {
		t.Fatal("run returned incomplete record")
	}

	manifest, err := ReadManifest(rec.Path)
	if err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	for _, want := range []string{DumpFile, WWWFile} {
		found := false
		for _, a := range manifest.Artifacts {
			if a == want {
				found = true
			}
		}
		if !found {
			t.Errorf("manifest missing artifact %s: %v", want, manifest.Artifacts)
		}
	}
	if len(manifest.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", manifest.Warnings)
	}

	dump, err := os.ReadFile(filepath.Join(rec.Path, DumpFile))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(dump), "-- MySQL dump") {
		t.Fatalf("dump content wrong: %q", dump)
	}

	if !mock.Saw("podman exec mysql_server mysqldump -u root -psecret --all-databases") {
		t.Fatalf("mysqldump not invoked: %v", mock.CommandLines())
	}

	latest, err := Latest(cfg.Backup.Root)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Path != rec.Path {
		t.Fatalf("latest = %s, want %s", latest.Path, rec.Path)
	}
}

func TestManagerRunDegradesOnStepFailure(t *testing.T) {
	m, mock, _ := managerFixture(t)
	mock.Handle("podman exec mysql_server mysqldump", func(runner.Invocation) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "Access denied"}, nil
	})

	rec, err := m.Run(context.Background(), "test")
	if err != nil {
		t.Fatalf("step failure aborted the run: %v", err)
	}

	manifest, err := ReadManifest(rec.Path)
	if err != nil {
		t.Fatal(err)
	}
	if len(manifest.Warnings) == 0 {
		t.Fatal("failed dump produced no warning")
	}
	for _, a := range manifest.Artifacts {
		if a == DumpFile {
			t.Fatal("failed dump listed as artifact")
		}
	}
	if _, err := os.Stat(filepath.Join(rec.Path, WWWFile)); err != nil {
		t.Fatalf("web root archive missing despite dump failure: %v", err)
	}
}

func TestManagerRunPrunesOldBackups(t *testing.T) {
	m, _, cfg := managerFixture(t)
	m.now = func() time.Time { return time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC) }

	stale := mkRecord(t, cfg.Backup.Root, RecordName(time.Date(2025, 4, 1, 2, 0, 0, 0, time.UTC)), true)

	if _, err := m.Run(context.Background(), "test"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale backup survived the run")
	}
}

func TestManagerRunReplicatesToDestinations(t *testing.T) {
	m, _, cfg := managerFixture(t)
	mirror := t.TempDir()
	cfg.Backup.Destinations = []config.DestinationConfig{{Type: "local", Path: mirror}}

	rec, err := m.Run(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}

	replicated := filepath.Join(mirror, rec.Name(), DumpFile)
	if _, err := os.Stat(replicated); err != nil {
		t.Fatalf("dump not replicated: %v", err)
	}
}

func TestManagerRunRecordsReplicationWarningsInManifest(t *testing.T) {
	m, _, cfg := managerFixture(t)
	// A regular file where the mirror directory should be makes the
	// destination unusable.
	blocked := filepath.Join(t.TempDir(), "mirror")
	if err := os.WriteFile(blocked, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.Backup.Destinations = []config.DestinationConfig{{Type: "local", Path: blocked}}

	rec, err := m.Run(context.Background(), "test")
	if err != nil {
		t.Fatalf("replication failure aborted the run: %v", err)
	}

	manifest, err := ReadManifest(rec.Path)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, w := range manifest.Warnings {
		if strings.Contains(w, "replicate-local") {
			found = true
		}
	}
	if !found {
		t.Fatalf("replication warning missing from manifest: %v", manifest.Warnings)
	}
}
