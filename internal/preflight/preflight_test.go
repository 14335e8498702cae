package preflight

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestRequireToolMissing(t *testing.T) {
	err := RequireTool("definitely-not-a-real-binary-name")
	if !errors.Is(err, ErrPrerequisite) {
		t.Fatalf("expected ErrPrerequisite, got %v", err)
	}
}

func TestRequireFileMissing(t *testing.T) {
	err := RequireFile(filepath.Join(t.TempDir(), "ubuntu.iso"), "download it from releases.ubuntu.com")
	if !errors.Is(err, ErrPrerequisite) {
		t.Fatalf("expected ErrPrerequisite, got %v", err)
	}
}

func TestRequireDiskZeroNeed(t *testing.T) {
	if err := RequireDisk(t.TempDir(), 0); err != nil {
		t.Fatalf("zero-byte requirement should always pass: %v", err)
	}
}
