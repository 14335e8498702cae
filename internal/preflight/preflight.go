// Package preflight validates host prerequisites before a provisioning run.
// A failed check is fatal: the caller prints the reason and exits non-zero.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stackpilot/stackpilot/internal/runner"
)

// ErrPrerequisite marks a failed prerequisite check. Callers match it with
// errors.Is and exit 1.
var ErrPrerequisite = errors.New("prerequisite check failed")

// RequireRoot fails unless the process runs as root.
func RequireRoot() error {
	if runtime.GOOS == "windows" {
		// Admin checks on Windows go through PowerShell, see vm.CheckAdmin.
		return nil
	}
	if os.Geteuid() != 0 {
		return fmt.Errorf("%w: must run as root or with sudo", ErrPrerequisite)
	}
	return nil
}

// RequireTool fails unless the named program is on PATH.
func RequireTool(name string) error {
	if !runner.LookPath(name) {
		return fmt.Errorf("%w: required tool %q not found in PATH", ErrPrerequisite, name)
	}
	return nil
}

// RequireFile fails unless the path exists and is a regular file.
func RequireFile(path, hint string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %s not found (%s)", ErrPrerequisite, path, hint)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory, expected a file", ErrPrerequisite, path)
	}
	return nil
}

// RequireMemory fails when the host has less available memory than needed.
func RequireMemory(neededBytes uint64) error {
	vm, err := mem.VirtualMemory()
	if err != nil {
		// Capacity checks are advisory when the host can't report them.
		return nil
	}
	if vm.Available < neededBytes {
		return fmt.Errorf("%w: need %d MiB of memory, host has %d MiB available",
			ErrPrerequisite, neededBytes/1024/1024, vm.Available/1024/1024)
	}
	return nil
}

// RequireDisk fails when the filesystem holding path has less free space
// than needed.
func RequireDisk(path string, neededBytes uint64) error {
	usage, err := disk.Usage(path)
	if err != nil {
		return nil
	}
	if usage.Free < neededBytes {
		return fmt.Errorf("%w: need %d GiB free under %s, host has %d GiB",
			ErrPrerequisite, neededBytes/1024/1024/1024, path, usage.Free/1024/1024/1024)
	}
	return nil
}
