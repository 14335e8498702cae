package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mkRecord(t *testing.T, root, name string, complete bool) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if complete {
		if err := WriteManifest(dir, Manifest{CreatedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRecordNameRoundTrip(t *testing.T) {
	at := time.Date(2025, 3, 1, 2, 0, 5, 0, time.UTC)
	name := RecordName(at)
	if name != "backup_20250301_020005" {
		t.Fatalf("unexpected name: %s", name)
	}

	ts, ok := ParseRecordName(name)
	if !ok || !ts.Equal(at) {
		t.Fatalf("parse failed: %v %v", ts, ok)
	}
}

func TestParseRecordNameRejectsStrangers(t *testing.T) {
	for _, name := range []string{"lost+found", "backup_", "backup_notadate", "snapshot_20250101_000000"} {
		if _, ok := ParseRecordName(name); ok {
			t.Errorf("parsed %q as a record", name)
		}
	}
}

func TestLatestPicksMostRecentComplete(t *testing.T) {
	root := t.TempDir()
	mkRecord(t, root, "backup_20250101_020000", true)
	mkRecord(t, root, "backup_20250301_020000", true)
	// Newer but incomplete: a crashed run must never win.
	mkRecord(t, root, "backup_20250401_020000", false)
	mkRecord(t, root, "not_a_backup", false)

	latest, err := Latest(root)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Name() != "backup_20250301_020000" {
		t.Fatalf("latest = %s", latest.Name())
	}
}

func TestLatestErrorsWhenEmpty(t *testing.T) {
	if _, err := Latest(t.TempDir()); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestListSortsAndFlagsCompletion(t *testing.T) {
	root := t.TempDir()
	mkRecord(t, root, "backup_20250301_020000", false)
	mkRecord(t, root, "backup_20250101_020000", true)

	records, err := List(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].Name() != "backup_20250101_020000" || !records[0].Complete {
		t.Fatalf("first record wrong: %+v", records[0])
	}
	if records[1].Complete {
		t.Fatal("incomplete record flagged complete")
	}
}

func TestListMissingRoot(t *testing.T) {
	records, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil || records != nil {
		t.Fatalf("missing root should be empty, got %v %v", records, err)
	}
}

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := Manifest{
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Artifacts: []string{DumpFile, WWWFile},
		Warnings:  []string{"certs missing"},
		SizeBytes: 42,
	}
	if err := WriteManifest(dir, in); err != nil {
		t.Fatal(err)
	}
	out, err := ReadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.SizeBytes != 42 || len(out.Artifacts) != 2 {
		t.Fatalf("manifest mismatch: %+v", out)
	}
}
