package vm

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/preflight"
	"github.com/stackpilot/stackpilot/internal/runner"
)

// VBoxOptions sizes and names the VirtualBox guest.
type VBoxOptions struct {
	VMName        string
	ISOPath       string
	MemoryMB      int
	CPUs          int
	DiskSizeGB    int
	Username      string
	Password      string
	Hostname      string
	Headless      bool
	NoStart       bool
	ManualInstall bool
}

// natForwards maps host ports onto the guest's stack services.
var natForwards = []string{
	"ssh,tcp,,2222,,22",
	"http,tcp,,8000,,80",
	"https,tcp,,8443,,443",
	"phpmyadmin,tcp,,8080,,8080",
}

// VBox provisions guests through VBoxManage.
type VBox struct {
	runner runner.Runner
}

// NewVBox returns a VirtualBox provisioner.
func NewVBox(r runner.Runner) *VBox {
	return &VBox{runner: r}
}

func (v *VBox) manage(ctx context.Context, args ...string) (string, error) {
	return runner.Output(ctx, v.runner, runner.Invocation{Program: "VBoxManage", Args: args})
}

func (v *VBox) tolerate(ctx context.Context, args ...string) {
	if _, err := v.manage(ctx, args...); err != nil {
		logging.L().Debug("vboxmanage step returned error", "args", strings.Join(args, " "), "error", err)
	}
}

// Provision runs the whole VirtualBox pipeline.
func (v *VBox) Provision(ctx context.Context, opts VBoxOptions) error {
	if err := v.CheckInstalled(ctx); err != nil {
		return err
	}
	if err := preflight.RequireFile(opts.ISOPath, "download from https://releases.ubuntu.com/24.04/"); err != nil {
		return err
	}
	if err := preflight.RequireMemory(uint64(opts.MemoryMB) << 20); err != nil {
		return err
	}

	if err := v.CreateVM(ctx, opts); err != nil {
		return err
	}
	if err := v.CreateStorage(ctx, opts); err != nil {
		return err
	}

	unattended := false
	if !opts.ManualInstall {
		unattended = v.EnableUnattendedInstall(ctx, opts)
	}
	v.EnableAutostart(ctx, opts.VMName)

	if opts.NoStart {
		logging.L().Info("vm created but not started", "vm", opts.VMName)
	} else if err := v.Start(ctx, opts.VMName, opts.Headless); err != nil {
		return err
	}

	v.printSummary(opts, unattended)
	return nil
}

// CheckInstalled fails unless VBoxManage is on PATH.
func (v *VBox) CheckInstalled(ctx context.Context) error {
	if err := preflight.RequireTool("VBoxManage"); err != nil {
		return fmt.Errorf("%w (install VirtualBox from https://www.virtualbox.org/wiki/Downloads)", err)
	}
	version, err := v.manage(ctx, "--version")
	if err != nil {
		return fmt.Errorf("%w: VBoxManage present but not answering: %v", preflight.ErrPrerequisite, err)
	}
	logging.L().Info("virtualbox found", "version", version)
	return nil
}

// CreateVM replaces any VM of the same name, registers a fresh Ubuntu_64
// guest and applies sizing, boot order and NAT port forwards.
func (v *VBox) CreateVM(ctx context.Context, opts VBoxOptions) error {
	if _, err := v.manage(ctx, "showvminfo", opts.VMName); err == nil {
		logging.L().Info("vm exists, removing", "vm", opts.VMName)
		v.tolerate(ctx, "unregistervm", opts.VMName, "--delete")
	}

	if _, err := v.manage(ctx, "createvm", "--name", opts.VMName, "--ostype", "Ubuntu_64", "--register"); err != nil {
		return fmt.Errorf("failed to create vm: %w", err)
	}

	args := []string{
		"modifyvm", opts.VMName,
		"--memory", strconv.Itoa(opts.MemoryMB),
		"--cpus", strconv.Itoa(opts.CPUs),
		"--vram", "128",
		"--boot1", "dvd",
		"--boot2", "disk",
		"--boot3", "none",
		"--boot4", "none",
		"--audio", "none",
		"--nic1", "nat",
	}
	for _, fwd := range natForwards {
		args = append(args, "--natpf1", fwd)
	}
	if _, err := v.manage(ctx, args...); err != nil {
		return fmt.Errorf("failed to configure vm: %w", err)
	}

	logging.L().Info("vm created", "vm", opts.VMName, "memory_mb", opts.MemoryMB, "cpus", opts.CPUs)
	return nil
}

// CreateStorage creates the VDI inside the VM folder and attaches it
// together with the install ISO on a SATA controller.
func (v *VBox) CreateStorage(ctx context.Context, opts VBoxOptions) error {
	info, err := v.manage(ctx, "showvminfo", opts.VMName, "--machinereadable")
	if err != nil {
		return fmt.Errorf("failed to inspect vm: %w", err)
	}
	vmFolder := vmFolderFromInfo(info)
	if vmFolder == "" {
		return fmt.Errorf("could not determine vm folder from showvminfo output")
	}
	vdiPath := filepath.Join(vmFolder, opts.VMName+".vdi")

	if _, err := v.manage(ctx, "storagectl", opts.VMName,
		"--name", "SATA", "--add", "sata", "--controller", "IntelAhci",
		"--portcount", "2", "--bootable", "on"); err != nil {
		return fmt.Errorf("failed to create storage controller: %w", err)
	}

	diskMB := opts.DiskSizeGB * 1024
	if _, err := v.manage(ctx, "createmedium", "disk",
		"--filename", vdiPath, "--size", strconv.Itoa(diskMB), "--format", "VDI"); err != nil {
		return fmt.Errorf("failed to create disk: %w", err)
	}

	if _, err := v.manage(ctx, "storageattach", opts.VMName,
		"--storagectl", "SATA", "--port", "0", "--device", "0",
		"--type", "hdd", "--medium", vdiPath); err != nil {
		return fmt.Errorf("failed to attach disk: %w", err)
	}
	if _, err := v.manage(ctx, "storageattach", opts.VMName,
		"--storagectl", "SATA", "--port", "1", "--device", "0",
		"--type", "dvddrive", "--medium", opts.ISOPath); err != nil {
		return fmt.Errorf("failed to attach iso: %w", err)
	}

	logging.L().Info("storage attached", "vm", opts.VMName, "disk_gb", opts.DiskSizeGB, "iso", opts.ISOPath)
	return nil
}

// EnableUnattendedInstall configures automatic Ubuntu installation.
// Failure downgrades to manual installation with a warning.
func (v *VBox) EnableUnattendedInstall(ctx context.Context, opts VBoxOptions) bool {
	_, err := v.manage(ctx, "unattended", "install", opts.VMName,
		"--iso", opts.ISOPath,
		"--user", opts.Username,
		"--password", opts.Password,
		"--full-user-name", opts.Username,
		"--hostname", opts.Hostname,
		"--install-additions",
		"--time-zone", "UTC")
	if err != nil {
		logging.L().Warn("unattended install setup failed, install Ubuntu manually", "error", err)
		return false
	}
	logging.L().Info("unattended install configured", "user", opts.Username)
	return true
}

// EnableAutostart arranges for the VM to start with the host.
func (v *VBox) EnableAutostart(ctx context.Context, vmName string) {
	v.tolerate(ctx, "modifyvm", vmName, "--autostart-enabled", "on")
	v.tolerate(ctx, "modifyvm", vmName, "--autostart-delay", "10")
}

// Start boots the VM with or without a display.
func (v *VBox) Start(ctx context.Context, vmName string, headless bool) error {
	vmType := "gui"
	if headless {
		vmType = "headless"
	}
	if _, err := v.manage(ctx, "startvm", vmName, "--type", vmType); err != nil {
		return fmt.Errorf("failed to start vm: %w", err)
	}
	logging.L().Info("vm started", "vm", vmName, "mode", vmType)
	return nil
}

func (v *VBox) printSummary(opts VBoxOptions, unattended bool) {
	logging.L().Info("vm provisioning complete", "vm", opts.VMName, "hostname", opts.Hostname)
	logging.L().Info("port forwards", "ssh", "localhost:2222", "http", "localhost:8000", "https", "localhost:8443", "phpmyadmin", "localhost:8080")
	if unattended {
		logging.L().Info("unattended installation running, the vm reboots when done")
	} else {
		logging.L().Info("follow the Ubuntu installer in the vm window, eject the iso afterwards")
	}
}

// vmFolderFromInfo extracts the VM directory from `showvminfo
// --machinereadable` output (the CfgFile="..." line).
func vmFolderFromInfo(info string) string {
	for _, line := range strings.Split(info, "\n") {
		if !strings.HasPrefix(line, "CfgFile=") {
			continue
		}
		cfg := strings.TrimPrefix(line, "CfgFile=")
		cfg = strings.Trim(strings.TrimSpace(cfg), `"`)
		if cfg == "" {
			return ""
		}
		return filepath.Dir(cfg)
	}
	return ""
}
