package stack

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/preflight"
	"github.com/stackpilot/stackpilot/internal/runner"
	"github.com/stackpilot/stackpilot/internal/systemd"
)

// Provisioner runs the LAMP stack pipeline. Individual deployment steps
// are best-effort: a failed step is logged and the pipeline continues.
// Only missing prerequisites abort the run.
type Provisioner struct {
	cfg    *config.Config
	runner runner.Runner
	sysd   *systemd.Manager // nil when the system bus is unavailable
}

// NewProvisioner builds a provisioner. The systemd connection is optional;
// without it unit management falls back to systemctl.
func NewProvisioner(cfg *config.Config, r runner.Runner, sysd *systemd.Manager) *Provisioner {
	return &Provisioner{cfg: cfg, runner: r, sysd: sysd}
}

// Up provisions the whole stack in order: podman, certbot (if a domain is
// configured), socket, network, MySQL, Apache, phpMyAdmin, backups cron.
func (p *Provisioner) Up(ctx context.Context) error {
	if err := preflight.RequireRoot(); err != nil {
		return err
	}

	if err := p.EnsurePodman(ctx); err != nil {
		return err
	}
	if p.cfg.Stack.Domain != "" {
		if err := p.EnsureCertbot(ctx); err != nil {
			return err
		}
	}
	p.EnablePodmanSocket(ctx)
	if err := p.EnsureNetwork(ctx); err != nil {
		return err
	}
	if err := p.DeployMySQL(ctx); err != nil {
		logging.L().Warn("mysql deployment failed", "error", err)
	}
	hasTLS, err := p.DeployApache(ctx)
	if err != nil {
		logging.L().Warn("apache deployment failed", "error", err)
	}
	if err := p.DeployPHPMyAdmin(ctx); err != nil {
		logging.L().Warn("phpmyadmin deployment failed", "error", err)
	}

	p.printSummary(hasTLS)
	return nil
}

// Down stops every stack container. Missing containers are tolerated.
func (p *Provisioner) Down(ctx context.Context) {
	for _, svc := range Services(p.cfg) {
		p.tolerate(ctx, svc.Stop())
	}
}

// EnsurePodman installs podman through apt-get when it is missing.
func (p *Provisioner) EnsurePodman(ctx context.Context) error {
	if runner.LookPath("podman") {
		version, _ := runner.Output(ctx, p.runner, runner.Invocation{Program: "podman", Args: []string{"--version"}})
		logging.L().Info("podman present", "version", version)
		return nil
	}

	logging.L().Info("podman not found, installing")
	p.tolerate(ctx, runner.Invocation{Program: "apt-get", Args: []string{"update"}})
	result, err := p.runner.Run(ctx, runner.Invocation{Program: "apt-get", Args: []string{"install", "-y", "podman"}})
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("%w: podman installation failed: %s", preflight.ErrPrerequisite, strings.TrimSpace(result.Stderr))
	}
	logging.L().Info("podman installed")
	return nil
}

// EnsureCertbot installs certbot through apt-get when it is missing, and
// defaults the contact email from the domain.
func (p *Provisioner) EnsureCertbot(ctx context.Context) error {
	if !runner.LookPath("certbot") {
		logging.L().Info("certbot not found, installing")
		p.tolerate(ctx, runner.Invocation{Program: "apt-get", Args: []string{"update"}})
		result, err := p.runner.Run(ctx, runner.Invocation{Program: "apt-get", Args: []string{"install", "-y", "certbot"}})
		if err != nil {
			return err
		}
		if !result.Success() {
			return fmt.Errorf("%w: certbot installation failed: %s", preflight.ErrPrerequisite, strings.TrimSpace(result.Stderr))
		}
	}

	if p.cfg.Stack.Email == "" {
		p.cfg.Stack.Email = "admin@" + p.cfg.Stack.Domain
	}
	return nil
}

// EnablePodmanSocket enables podman.socket so the stack survives reboots.
func (p *Provisioner) EnablePodmanSocket(ctx context.Context) {
	if p.sysd != nil {
		if err := p.sysd.EnableUnit(ctx, "podman.socket"); err == nil {
			if err := p.sysd.StartUnit(ctx, "podman.socket"); err == nil {
				return
			}
		}
	}
	p.tolerate(ctx, runner.Invocation{Program: "systemctl", Args: []string{"enable", "--now", "podman.socket"}})
}

// EnsureNetwork creates the stack network if it does not exist.
func (p *Provisioner) EnsureNetwork(ctx context.Context) error {
	name := p.cfg.Stack.Network
	result, err := p.runner.Run(ctx, runner.Invocation{Program: "podman", Args: []string{"network", "exists", name}})
	if err != nil {
		return err
	}
	if result.Success() {
		logging.L().Info("network exists", "network", name)
		return nil
	}

	if _, err := runner.Output(ctx, p.runner, runner.Invocation{Program: "podman", Args: []string{"network", "create", name}}); err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}
	logging.L().Info("network created", "network", name)
	return nil
}

// DeployMySQL replaces the MySQL container, waits for readiness and
// registers its systemd unit.
func (p *Provisioner) DeployMySQL(ctx context.Context) error {
	svc := Services(p.cfg)["mysql"]
	p.replaceContainer(ctx, svc)

	result, err := p.runner.Run(ctx, svc.Create(p.cfg.Stack.Network))
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("failed to create %s: %s", svc.Container, strings.TrimSpace(result.Stderr))
	}
	logging.L().Info("mysql container created", "container", svc.Container, "user", p.cfg.Stack.MySQLUser)

	if err := WaitMySQLReady(ctx, p.runner, svc.Container, p.cfg.Stack.MySQLRootPassword); err != nil {
		logging.L().Warn("mysql readiness probe failed", "error", err)
	}

	p.registerUnit(ctx, svc)
	return nil
}

// DeployApache replaces the Apache container. When a domain is configured
// it first tries to obtain a certificate and deploys the TLS variant;
// otherwise, or when issuance fails, it deploys plain HTTP.
func (p *Provisioner) DeployApache(ctx context.Context) (bool, error) {
	st := p.cfg.Stack
	svc := Services(p.cfg)["apache"]
	p.replaceContainer(ctx, svc)

	for _, dir := range []string{st.CertDir, st.WebRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	hasTLS := false
	if st.Domain != "" {
		ok, err := p.ObtainCertificate(ctx)
		if err != nil {
			logging.L().Warn("certificate step failed", "error", err)
		}
		if ok {
			if err := WriteSSLConf(st.SSLConfPath, st.Domain); err != nil {
				return false, err
			}
			hasTLS = true
		}
	}

	var inv runner.Invocation
	if hasTLS {
		tlsSvc := ApacheTLS(p.cfg)
		inv = tlsSvc.Create(st.Network)
		inv.Args = append(inv.Args, apacheTLSCommand()...)
	} else {
		inv = svc.Create(st.Network)
	}

	result, err := p.runner.Run(ctx, inv)
	if err != nil {
		return hasTLS, err
	}
	if !result.Success() {
		return hasTLS, fmt.Errorf("failed to create %s: %s", svc.Container, strings.TrimSpace(result.Stderr))
	}

	if hasTLS {
		logging.L().Info("apache container created with TLS", "container", svc.Container, "domain", st.Domain)
		if err := p.InstallRenewalCron(ctx); err != nil {
			logging.L().Warn("failed to install renewal cron entry", "error", err)
		}
	} else {
		logging.L().Info("apache container created (HTTP only)", "container", svc.Container)
		if st.Domain == "" {
			logging.L().Info("set stack.domain and stack.email to enable TLS")
		}
	}

	p.registerUnit(ctx, svc)
	return hasTLS, nil
}

// DeployPHPMyAdmin replaces the phpMyAdmin container once MySQL answers.
func (p *Provisioner) DeployPHPMyAdmin(ctx context.Context) error {
	svc := Services(p.cfg)["phpmyadmin"]
	p.replaceContainer(ctx, svc)

	if err := WaitMySQLReady(ctx, p.runner, p.cfg.Stack.MySQLContainer, p.cfg.Stack.MySQLRootPassword); err != nil {
		logging.L().Warn("mysql not ready before phpmyadmin deploy", "error", err)
	}

	result, err := p.runner.Run(ctx, svc.Create(p.cfg.Stack.Network))
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("failed to create %s: %s", svc.Container, strings.TrimSpace(result.Stderr))
	}
	logging.L().Info("phpmyadmin container created", "container", svc.Container)

	p.registerUnit(ctx, svc)
	return nil
}

// replaceContainer stops and removes any previous instance. Both steps are
// tolerated; the container may simply not exist yet.
func (p *Provisioner) replaceContainer(ctx context.Context, svc Service) {
	p.tolerate(ctx, svc.Stop())
	p.tolerate(ctx, svc.Remove())
}

// registerUnit generates the container's systemd unit into the unit
// directory, reloads systemd and enables the unit for boot.
func (p *Provisioner) registerUnit(ctx context.Context, svc Service) {
	gen := runner.Invocation{
		Program: "podman",
		Args:    []string{"generate", "systemd", "--new", "--name", svc.Container, "--files", "--restart-policy=always"},
		Dir:     p.cfg.Stack.UnitDir,
	}
	if result, err := p.runner.Run(ctx, gen); err != nil || !result.Success() {
		logging.L().Warn("unit generation failed", "container", svc.Container)
		return
	}

	if p.sysd != nil {
		if err := p.sysd.DaemonReload(ctx); err == nil {
			if err := p.sysd.EnableUnit(ctx, svc.Unit()); err == nil {
				logging.L().Info("autostart enabled", "unit", svc.Unit())
				return
			}
		}
	}
	p.tolerate(ctx, runner.Invocation{Program: "systemctl", Args: []string{"daemon-reload"}})
	p.tolerate(ctx, runner.Invocation{Program: "systemctl", Args: []string{"enable", svc.Unit()}})
	logging.L().Info("autostart enabled", "unit", svc.Unit())
}

// tolerate runs an invocation whose failure must not stop the pipeline.
func (p *Provisioner) tolerate(ctx context.Context, inv runner.Invocation) {
	result, err := p.runner.Run(ctx, inv)
	if err != nil {
		logging.L().Warn("step failed", "command", inv.String(), "error", err)
		return
	}
	if !result.Success() {
		logging.L().Debug("step returned non-zero", "command", inv.String(), "exit", result.ExitCode)
	}
}

func (p *Provisioner) printSummary(hasTLS bool) {
	st := p.cfg.Stack
	logging.L().Info("stack provisioning complete")
	if hasTLS {
		logging.L().Info("apache", "url", "https://"+st.Domain, "http_port", 80, "https_port", 443)
	} else {
		logging.L().Info("apache", "url", "http://localhost:80")
	}
	logging.L().Info("mysql", "port", 3306, "user", st.MySQLUser)
	logging.L().Info("phpmyadmin", "url", "http://localhost:8080")
	logging.L().Info("web root", "dir", st.WebRoot)
	logging.L().Info("backups", "dir", p.cfg.Backup.Root, "retention_days", p.cfg.Backup.RetentionDays)
}
