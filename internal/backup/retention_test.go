package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPruneWindow(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	old := mkRecord(t, root, RecordName(now.AddDate(0, 0, -40)), true)
	young := mkRecord(t, root, RecordName(now.AddDate(0, 0, -20)), true)
	fresh := mkRecord(t, root, RecordName(now), true)

	removed, err := Prune(root, 30, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != filepath.Base(old) {
		t.Fatalf("removed = %v", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("day-40 backup survived pruning")
	}
	for _, dir := range []string{young, fresh} {
		if _, err := os.Stat(dir); err != nil {
			t.Fatalf("in-window backup pruned: %s", dir)
		}
	}
}

func TestPruneDisabled(t *testing.T) {
	root := t.TempDir()
	old := mkRecord(t, root, RecordName(time.Now().AddDate(-1, 0, 0)), true)

	removed, err := Prune(root, 0, time.Now())
	if err != nil || removed != nil {
		t.Fatalf("prune with retention 0 acted: %v %v", removed, err)
	}
	if _, err := os.Stat(old); err != nil {
		t.Fatal("backup removed despite disabled retention")
	}
}

func TestPruneIgnoresForeignDirs(t *testing.T) {
	root := t.TempDir()
	foreign := filepath.Join(root, "keepsakes")
	if err := os.MkdirAll(foreign, 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := Prune(root, 30, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatal("foreign directory pruned")
	}
}
