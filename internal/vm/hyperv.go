// Package vm provisions Ubuntu virtual machines on Hyper-V and VirtualBox
// by driving the hypervisor CLIs through the command runner.
package vm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/preflight"
	"github.com/stackpilot/stackpilot/internal/runner"
)

// DefaultSwitchName is the virtual switch used when none is named.
const DefaultSwitchName = "External-Switch"

// HyperVOptions sizes and names the Hyper-V guest.
type HyperVOptions struct {
	VMName     string
	ISOPath    string
	MemoryGB   int
	CPUs       int
	DiskSizeGB int
	VMPath     string
	SwitchName string
	NoStart    bool
}

// HyperV provisions guests through PowerShell cmdlets.
type HyperV struct {
	runner runner.Runner
}

// NewHyperV returns a Hyper-V provisioner.
func NewHyperV(r runner.Runner) *HyperV {
	return &HyperV{runner: r}
}

// ps runs one PowerShell script line and returns trimmed stdout.
func (h *HyperV) ps(ctx context.Context, script string) (string, error) {
	return runner.Output(ctx, h.runner, runner.Invocation{
		Program: "powershell",
		Args:    []string{"-NoProfile", "-Command", script},
	})
}

// psTolerate runs a script line whose failure must not stop the pipeline.
func (h *HyperV) psTolerate(ctx context.Context, script string) {
	if _, err := h.ps(ctx, script); err != nil {
		logging.L().Debug("powershell step returned error", "script", script, "error", err)
	}
}

// Provision runs the whole Hyper-V pipeline: prerequisites, VM, storage,
// network, start.
func (h *HyperV) Provision(ctx context.Context, opts HyperVOptions) error {
	if err := h.CheckAdmin(ctx); err != nil {
		return err
	}
	if err := h.CheckHyperV(ctx); err != nil {
		return err
	}
	if err := preflight.RequireFile(opts.ISOPath, "download from https://releases.ubuntu.com/24.04/"); err != nil {
		return err
	}
	if err := preflight.RequireMemory(uint64(opts.MemoryGB) << 30); err != nil {
		return err
	}
	if err := preflight.RequireDisk(opts.VMPath, uint64(opts.DiskSizeGB)<<30); err != nil {
		return err
	}

	if err := h.CreateVM(ctx, opts); err != nil {
		return err
	}
	if err := h.CreateStorage(ctx, opts); err != nil {
		return err
	}
	h.ConfigureNetwork(ctx, opts)

	if opts.NoStart {
		logging.L().Info("vm created but not started", "vm", opts.VMName)
		return nil
	}
	return h.Start(ctx, opts.VMName)
}

// CheckAdmin fails unless the process runs elevated.
func (h *HyperV) CheckAdmin(ctx context.Context) error {
	out, err := h.ps(ctx, "([Security.Principal.WindowsPrincipal][Security.Principal.WindowsIdentity]::GetCurrent()).IsInRole([Security.Principal.WindowsBuiltInRole]::Administrator)")
	if err != nil || !strings.Contains(out, "True") {
		return fmt.Errorf("%w: must run from an elevated (Administrator) shell", preflight.ErrPrerequisite)
	}
	return nil
}

// CheckHyperV fails unless the Hyper-V feature is enabled. Enabling it
// needs a reboot, so the check reports instructions instead of toggling
// the feature itself.
func (h *HyperV) CheckHyperV(ctx context.Context) error {
	out, err := h.ps(ctx, "Get-WindowsOptionalFeature -Online -FeatureName Microsoft-Hyper-V-All | Select-Object -ExpandProperty State")
	if err == nil && strings.Contains(out, "Enabled") {
		return nil
	}
	return fmt.Errorf("%w: Hyper-V is not enabled; run 'Enable-WindowsOptionalFeature -Online -FeatureName Microsoft-Hyper-V-All' and reboot", preflight.ErrPrerequisite)
}

// CreateVM replaces any VM of the same name and creates a generation 2
// guest with autostart and checkpoints disabled.
func (h *HyperV) CreateVM(ctx context.Context, opts HyperVOptions) error {
	if out, err := h.ps(ctx, fmt.Sprintf(`Get-VM -Name "%s"`, opts.VMName)); err == nil && strings.Contains(out, opts.VMName) {
		logging.L().Info("vm exists, removing", "vm", opts.VMName)
		h.psTolerate(ctx, fmt.Sprintf(`Stop-VM -Name "%s" -Force -TurnOff`, opts.VMName))
		h.psTolerate(ctx, fmt.Sprintf(`Remove-VM -Name "%s" -Force`, opts.VMName))
	}

	if err := os.MkdirAll(filepath.Join(opts.VMPath, opts.VMName), 0755); err != nil {
		return fmt.Errorf("failed to create vm directory: %w", err)
	}

	memoryBytes := int64(opts.MemoryGB) << 30
	if _, err := h.ps(ctx, fmt.Sprintf(`New-VM -Name "%s" -MemoryStartupBytes %d -Generation 2 -Path "%s"`, opts.VMName, memoryBytes, opts.VMPath)); err != nil {
		return fmt.Errorf("failed to create vm: %w", err)
	}

	h.psTolerate(ctx, fmt.Sprintf(`Set-VM -Name "%s" -ProcessorCount %d -AutomaticStartAction Start -AutomaticStartDelay 10`, opts.VMName, opts.CPUs))
	h.psTolerate(ctx, fmt.Sprintf(`Set-VM -Name "%s" -CheckpointType Disabled`, opts.VMName))
	// Nested virtualisation, needed for running containers in the guest.
	h.psTolerate(ctx, fmt.Sprintf(`Set-VMProcessor -VMName "%s" -ExposeVirtualizationExtensions $true`, opts.VMName))

	logging.L().Info("vm created", "vm", opts.VMName, "memory_gb", opts.MemoryGB, "cpus", opts.CPUs)
	return nil
}

// CreateStorage creates the dynamic VHDX, attaches it with the install
// ISO, and fixes the boot order with secure boot off for Ubuntu.
func (h *HyperV) CreateStorage(ctx context.Context, opts HyperVOptions) error {
	vhdxPath := filepath.Join(opts.VMPath, opts.VMName, "Virtual Hard Disks", opts.VMName+".vhdx")
	if err := os.MkdirAll(filepath.Dir(vhdxPath), 0755); err != nil {
		return fmt.Errorf("failed to create disk directory: %w", err)
	}

	diskBytes := int64(opts.DiskSizeGB) << 30
	if _, err := h.ps(ctx, fmt.Sprintf(`New-VHD -Path "%s" -SizeBytes %d -Dynamic`, vhdxPath, diskBytes)); err != nil {
		return fmt.Errorf("failed to create vhdx: %w", err)
	}

	h.psTolerate(ctx, fmt.Sprintf(`Add-VMScsiController -VMName "%s"`, opts.VMName))
	if _, err := h.ps(ctx, fmt.Sprintf(`Add-VMHardDiskDrive -VMName "%s" -Path "%s"`, opts.VMName, vhdxPath)); err != nil {
		return fmt.Errorf("failed to attach disk: %w", err)
	}
	if _, err := h.ps(ctx, fmt.Sprintf(`Add-VMDvdDrive -VMName "%s" -Path "%s"`, opts.VMName, opts.ISOPath)); err != nil {
		return fmt.Errorf("failed to attach iso: %w", err)
	}

	h.psTolerate(ctx, fmt.Sprintf(`$dvd = Get-VMDvdDrive -VMName "%s"; $hdd = Get-VMHardDiskDrive -VMName "%s"; Set-VMFirmware -VMName "%s" -BootOrder $dvd,$hdd`, opts.VMName, opts.VMName, opts.VMName))
	h.psTolerate(ctx, fmt.Sprintf(`Set-VMFirmware -VMName "%s" -EnableSecureBoot Off`, opts.VMName))

	logging.L().Info("storage attached", "vm", opts.VMName, "disk_gb", opts.DiskSizeGB, "iso", opts.ISOPath)
	return nil
}

// ConfigureNetwork attaches the VM to the named switch, creating an
// external switch on the first up adapter (or an internal one) if needed.
func (h *HyperV) ConfigureNetwork(ctx context.Context, opts HyperVOptions) {
	if opts.SwitchName == "" {
		opts.SwitchName = DefaultSwitchName
	}
	out, err := h.ps(ctx, fmt.Sprintf(`Get-VMSwitch -Name "%s"`, opts.SwitchName))
	if err != nil || !strings.Contains(out, opts.SwitchName) {
		adapter, err := h.ps(ctx, `Get-NetAdapter | Where-Object {$_.Status -eq 'Up'} | Select-Object -First 1 -ExpandProperty Name`)
		if err == nil && adapter != "" {
			h.psTolerate(ctx, fmt.Sprintf(`New-VMSwitch -Name "%s" -NetAdapterName "%s" -AllowManagementOS $true`, opts.SwitchName, adapter))
			logging.L().Info("external switch created", "switch", opts.SwitchName, "adapter", adapter)
		} else {
			logging.L().Warn("no up adapter found, creating internal switch", "switch", opts.SwitchName)
			h.psTolerate(ctx, fmt.Sprintf(`New-VMSwitch -Name "%s" -SwitchType Internal`, opts.SwitchName))
		}
	} else {
		logging.L().Info("using existing switch", "switch", opts.SwitchName)
	}

	h.psTolerate(ctx, fmt.Sprintf(`Add-VMNetworkAdapter -VMName "%s" -SwitchName "%s"`, opts.VMName, opts.SwitchName))
}

// Start boots the VM and opens the console viewer.
func (h *HyperV) Start(ctx context.Context, vmName string) error {
	if _, err := h.ps(ctx, fmt.Sprintf(`Start-VM -Name "%s"`, vmName)); err != nil {
		return fmt.Errorf("failed to start vm: %w", err)
	}
	logging.L().Info("vm started", "vm", vmName)
	h.psTolerate(ctx, fmt.Sprintf(`vmconnect localhost "%s"`, vmName))
	return nil
}
