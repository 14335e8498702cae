package backup

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stackpilot/stackpilot/internal/config"
)

func TestLocalDestinationRoundTrip(t *testing.T) {
	dest, err := NewLocalDestination(config.DestinationConfig{Type: "local", Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer dest.Close()

	payload := []byte("-- MySQL dump")
	if err := dest.Upload("backup_20250101_020000/mysql_dump.sql", bytes.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := dest.Download("backup_20250101_020000/mysql_dump.sql", &out); err != nil {
		t.Fatal(err)
	}
	if out.String() != string(payload) {
		t.Fatalf("download mismatch: %q", out.String())
	}

	files, err := dest.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0].Name != "backup_20250101_020000/mysql_dump.sql" {
		t.Fatalf("list = %+v", files)
	}

	if err := dest.Delete("backup_20250101_020000"); err != nil {
		t.Fatal(err)
	}
	files, _ = dest.List()
	if len(files) != 0 {
		t.Fatalf("delete left %+v", files)
	}
}

func TestLocalDestinationRejectsSizeMismatch(t *testing.T) {
	dest, err := NewLocalDestination(config.DestinationConfig{Type: "local", Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := dest.Upload("x", strings.NewReader("abc"), 99); err == nil {
		t.Fatal("size mismatch accepted")
	}
	if _, err := dest.List(); err != nil {
		t.Fatal(err)
	}
}

func TestLocalDestinationRejectsEscapes(t *testing.T) {
	dest, err := NewLocalDestination(config.DestinationConfig{Type: "local", Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := dest.Upload("../escape", strings.NewReader("x"), 1); err == nil {
		t.Fatal("path escape accepted")
	}
}

func TestNewDestinationUnknownType(t *testing.T) {
	if _, err := NewDestination(config.DestinationConfig{Type: "carrier-pigeon"}); err == nil {
		t.Fatal("unknown type accepted")
	}
}

func TestReplicateUploadsWholeRecord(t *testing.T) {
	recordDir := filepath.Join(t.TempDir(), "backup_20250101_020000")
	if err := os.MkdirAll(recordDir, 0755); err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{
		DumpFile:       "-- dump",
		"manifest.json": "{}",
	} {
		if err := os.WriteFile(filepath.Join(recordDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	dest, err := NewLocalDestination(config.DestinationConfig{Type: "local", Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := Replicate(dest, recordDir); err != nil {
		t.Fatal(err)
	}

	files, err := dest.List()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, f := range files {
		seen[f.Name] = true
	}
	for _, want := range []string{
		"backup_20250101_020000/" + DumpFile,
		"backup_20250101_020000/manifest.json",
	} {
		if !seen[want] {
			t.Errorf("missing replicated object %s (have %v)", want, files)
		}
	}
}
