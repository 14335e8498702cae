package main

import (
	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/internal/runner"
	"github.com/stackpilot/stackpilot/internal/vm"
)

func newVMCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vm",
		Short: "Provision Ubuntu virtual machines",
	}
	cmd.AddCommand(newVMHyperVCmd(), newVMVBoxCmd())
	return cmd
}

func newVMHyperVCmd() *cobra.Command {
	var opts vm.HyperVOptions

	cmd := &cobra.Command{
		Use:   "hyperv",
		Short: "Create an Ubuntu VM on Hyper-V (Windows host)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			return vm.NewHyperV(runner.NewExecRunner()).Provision(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.VMName, "name", "UbuntuServer", "VM name")
	cmd.Flags().StringVar(&opts.ISOPath, "iso", "", "path to the Ubuntu Server ISO (required)")
	cmd.Flags().IntVar(&opts.MemoryGB, "memory", 4, "memory in GB")
	cmd.Flags().IntVar(&opts.CPUs, "cpus", 2, "virtual CPU count")
	cmd.Flags().IntVar(&opts.DiskSizeGB, "disk", 64, "disk size in GB")
	cmd.Flags().StringVar(&opts.VMPath, "vm-path", `C:\VMs`, "directory for VM files")
	cmd.Flags().StringVar(&opts.SwitchName, "switch", vm.DefaultSwitchName, "virtual switch to attach (created when missing)")
	cmd.Flags().BoolVar(&opts.NoStart, "no-start", false, "create the VM without starting it")
	_ = cmd.MarkFlagRequired("iso")

	return cmd
}

func newVMVBoxCmd() *cobra.Command {
	var opts vm.VBoxOptions

	cmd := &cobra.Command{
		Use:   "vbox",
		Short: "Create an Ubuntu VM on VirtualBox",
		Long: `Create an Ubuntu Server VM on VirtualBox with NAT port forwards for
SSH (2222), HTTP (8000), HTTPS (8443) and phpMyAdmin (8080). Unless
--manual-install is given, the Ubuntu installer runs unattended.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			return vm.NewVBox(runner.NewExecRunner()).Provision(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.VMName, "name", "UbuntuServer", "VM name")
	cmd.Flags().StringVar(&opts.ISOPath, "iso", "", "path to the Ubuntu Server ISO (required)")
	cmd.Flags().IntVar(&opts.MemoryMB, "memory", 4096, "memory in MB")
	cmd.Flags().IntVar(&opts.CPUs, "cpus", 2, "virtual CPU count")
	cmd.Flags().IntVar(&opts.DiskSizeGB, "disk", 64, "disk size in GB")
	cmd.Flags().StringVar(&opts.Username, "username", "ubuntu", "unattended install user")
	cmd.Flags().StringVar(&opts.Password, "password", "", "unattended install password")
	cmd.Flags().StringVar(&opts.Hostname, "hostname", "ubuntu-server", "guest hostname")
	cmd.Flags().BoolVar(&opts.Headless, "headless", false, "start without a console window")
	cmd.Flags().BoolVar(&opts.NoStart, "no-start", false, "create the VM without starting it")
	cmd.Flags().BoolVar(&opts.ManualInstall, "manual-install", false, "skip the unattended installer")
	_ = cmd.MarkFlagRequired("iso")

	return cmd
}
