package stack

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/runner"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Stack.MySQLRootPassword = "rootpw"
	cfg.Stack.MySQLPassword = "userpw"
	return cfg
}

func TestServiceInvocations(t *testing.T) {
	cfg := testConfig()
	svc := Services(cfg)["mysql"]

	create := svc.Create(cfg.Stack.Network)
	line := create.String()
	if !strings.HasPrefix(line, "podman run -d --name mysql_server --network lamp_network") {
		t.Fatalf("unexpected create invocation: %q", line)
	}
	if !strings.HasSuffix(line, cfg.Stack.MySQLImage) {
		t.Fatalf("image must come last: %q", line)
	}
	if svc.Unit() != "container-mysql_server.service" {
		t.Fatalf("unexpected unit name: %q", svc.Unit())
	}
}

func TestApacheTLSAddsCertMounts(t *testing.T) {
	cfg := testConfig()
	svc := ApacheTLS(cfg)
	line := svc.Create(cfg.Stack.Network).String()
	if !strings.Contains(line, cfg.Stack.CertDir+":/usr/local/apache2/conf/certs:Z") {
		t.Fatalf("cert mount missing: %q", line)
	}
	if !strings.Contains(line, "httpd-ssl.conf") {
		t.Fatalf("ssl conf mount missing: %q", line)
	}
}

func TestEnsureNetworkSkipsExisting(t *testing.T) {
	cfg := testConfig()
	m := runner.NewMockRunner()
	m.Handle("podman network exists", func(inv runner.Invocation) (runner.Result, error) {
		return runner.Result{}, nil
	})

	p := NewProvisioner(cfg, m, nil)
	if err := p.EnsureNetwork(context.Background()); err != nil {
		t.Fatalf("ensure network: %v", err)
	}
	if m.Saw("podman network create") {
		t.Fatalf("network should not be recreated")
	}
}

func TestEnsureNetworkCreatesMissing(t *testing.T) {
	cfg := testConfig()
	m := runner.NewMockRunner()
	m.Handle("podman network exists", func(inv runner.Invocation) (runner.Result, error) {
		return runner.Result{ExitCode: 1}, nil
	})

	p := NewProvisioner(cfg, m, nil)
	if err := p.EnsureNetwork(context.Background()); err != nil {
		t.Fatalf("ensure network: %v", err)
	}
	if !m.Saw("podman network create lamp_network") {
		t.Fatalf("network create missing: %v", m.CommandLines())
	}
}

func TestWaitMySQLReadyRetriesUntilPing(t *testing.T) {
	cfg := testConfig()
	m := runner.NewMockRunner()
	attempts := 0
	m.Handle("podman exec", func(inv runner.Invocation) (runner.Result, error) {
		attempts++
		if attempts < 3 {
			return runner.Result{ExitCode: 1, Stderr: "connect failed"}, nil
		}
		return runner.Result{Stdout: "mysqld is alive"}, nil
	})

	err := waitMySQLReady(context.Background(), m, cfg.Stack.MySQLContainer, "rootpw", 30*time.Second)
	if err != nil {
		t.Fatalf("readiness should eventually succeed: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 probes, got %d", attempts)
	}
}

func TestWaitMySQLReadyTimesOut(t *testing.T) {
	cfg := testConfig()
	m := runner.NewMockRunner()
	m.DefaultResult = runner.Result{ExitCode: 1}

	err := waitMySQLReady(context.Background(), m, cfg.Stack.MySQLContainer, "rootpw", 10*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestDeployMySQLReplacesExistingContainer(t *testing.T) {
	cfg := testConfig()
	m := runner.NewMockRunner()
	m.Handle("podman exec", func(inv runner.Invocation) (runner.Result, error) {
		return runner.Result{Stdout: "mysqld is alive"}, nil
	})

	p := NewProvisioner(cfg, m, nil)
	if err := p.DeployMySQL(context.Background()); err != nil {
		t.Fatalf("deploy mysql: %v", err)
	}

	lines := m.CommandLines()
	var stopIdx, runIdx = -1, -1
	for i, line := range lines {
		if strings.HasPrefix(line, "podman stop mysql_server") && stopIdx == -1 {
			stopIdx = i
		}
		if strings.HasPrefix(line, "podman run -d --name mysql_server") {
			runIdx = i
		}
	}
	if stopIdx == -1 || runIdx == -1 || stopIdx > runIdx {
		t.Fatalf("expected stop before run, got %v", lines)
	}
	if !m.Saw("podman generate systemd --new --name mysql_server") {
		t.Fatalf("unit generation missing: %v", lines)
	}
}
