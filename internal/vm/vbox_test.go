package vm

import (
	"context"
	"strings"
	"testing"

	"github.com/stackpilot/stackpilot/internal/runner"
)

func TestVMFolderFromInfo(t *testing.T) {
	info := "name=\"Ubuntu-24.04-Server\"\nCfgFile=\"/home/dev/VirtualBox VMs/Ubuntu-24.04-Server/Ubuntu-24.04-Server.vbox\"\nmemory=4096\n"
	folder := vmFolderFromInfo(info)
	if folder != "/home/dev/VirtualBox VMs/Ubuntu-24.04-Server" {
		t.Fatalf("unexpected folder: %q", folder)
	}
}

func TestVMFolderFromInfoMissing(t *testing.T) {
	if folder := vmFolderFromInfo("name=\"x\"\nmemory=4096\n"); folder != "" {
		t.Fatalf("expected empty folder, got %q", folder)
	}
}

func TestCreateVMAppliesPortForwards(t *testing.T) {
	m := runner.NewMockRunner()
	m.Handle("VBoxManage showvminfo", func(inv runner.Invocation) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "Could not find a registered machine"}, nil
	})

	v := NewVBox(m)
	opts := VBoxOptions{VMName: "test-vm", MemoryMB: 2048, CPUs: 2}
	if err := v.CreateVM(context.Background(), opts); err != nil {
		t.Fatalf("create vm: %v", err)
	}

	var modify string
	for _, line := range m.CommandLines() {
		if strings.HasPrefix(line, "VBoxManage modifyvm") {
			modify = line
		}
	}
	if modify == "" {
		t.Fatalf("modifyvm not invoked: %v", m.CommandLines())
	}
	for _, fwd := range natForwards {
		if !strings.Contains(modify, fwd) {
			t.Errorf("port forward %q missing from %q", fwd, modify)
		}
	}
	if m.Saw("VBoxManage unregistervm") {
		t.Errorf("fresh vm should not be unregistered first")
	}
}

func TestCreateVMReplacesExisting(t *testing.T) {
	m := runner.NewMockRunner()
	m.Handle("VBoxManage showvminfo", func(inv runner.Invocation) (runner.Result, error) {
		return runner.Result{Stdout: "Name: test-vm"}, nil
	})

	v := NewVBox(m)
	if err := v.CreateVM(context.Background(), VBoxOptions{VMName: "test-vm", MemoryMB: 2048, CPUs: 2}); err != nil {
		t.Fatalf("create vm: %v", err)
	}
	if !m.Saw("VBoxManage unregistervm test-vm --delete") {
		t.Fatalf("existing vm should be removed first: %v", m.CommandLines())
	}
}

func TestUnattendedInstallFailureDowngrades(t *testing.T) {
	m := runner.NewMockRunner()
	m.Handle("VBoxManage unattended", func(inv runner.Invocation) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "unsupported iso"}, nil
	})

	v := NewVBox(m)
	ok := v.EnableUnattendedInstall(context.Background(), VBoxOptions{VMName: "test-vm", ISOPath: "/tmp/u.iso", Username: "ubuntu", Hostname: "host"})
	if ok {
		t.Fatalf("expected unattended setup to report failure")
	}
}
