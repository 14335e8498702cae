// Package stack provisions the Podman LAMP stack: MySQL, Apache httpd and
// phpMyAdmin containers on a shared network, with optional Let's Encrypt
// certificates and per-container systemd units.
package stack

import (
	"fmt"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/runner"
)

// Service describes one managed container: its identity plus the podman
// invocations used to create, start, stop and inspect it.
type Service struct {
	Name      string
	Container string
	Image     string
	RunArgs   []string // arguments between `run -d --name <c> --network <n>` and the image
}

// Unit returns the systemd unit name generated by podman for the container.
func (s Service) Unit() string {
	return fmt.Sprintf("container-%s.service", s.Container)
}

// Create builds the `podman run` invocation for the service.
func (s Service) Create(network string) runner.Invocation {
	args := []string{"run", "-d", "--name", s.Container, "--network", network}
	args = append(args, s.RunArgs...)
	args = append(args, s.Image)
	return runner.Invocation{Program: "podman", Args: args}
}

// Start builds the `podman start` invocation.
func (s Service) Start() runner.Invocation {
	return runner.Invocation{Program: "podman", Args: []string{"start", s.Container}}
}

// Stop builds the `podman stop` invocation.
func (s Service) Stop() runner.Invocation {
	return runner.Invocation{Program: "podman", Args: []string{"stop", s.Container}}
}

// Restart builds the `podman restart` invocation.
func (s Service) Restart() runner.Invocation {
	return runner.Invocation{Program: "podman", Args: []string{"restart", s.Container}}
}

// Remove builds the `podman rm` invocation.
func (s Service) Remove() runner.Invocation {
	return runner.Invocation{Program: "podman", Args: []string{"rm", s.Container}}
}

// Inspect builds the `podman inspect` invocation.
func (s Service) Inspect() runner.Invocation {
	return runner.Invocation{Program: "podman", Args: []string{"inspect", s.Container}}
}

// Services builds the descriptor table for the configured stack. The table
// is the single place container wiring lives; provisioning, backup and
// restore all consume it.
func Services(cfg *config.Config) map[string]Service {
	st := cfg.Stack
	return map[string]Service{
		"mysql": {
			Name:      "mysql",
			Container: st.MySQLContainer,
			Image:     st.MySQLImage,
			RunArgs: []string{
				"-e", "MYSQL_ROOT_PASSWORD=" + st.MySQLRootPassword,
				"-e", "MYSQL_USER=" + st.MySQLUser,
				"-e", "MYSQL_PASSWORD=" + st.MySQLPassword,
				"-e", "MYSQL_DATABASE=" + st.MySQLDatabase,
				"-p", "3306:3306",
				"-v", "mysql_data:/var/lib/mysql",
			},
		},
		"apache": {
			Name:      "apache",
			Container: st.ApacheContainer,
			Image:     st.ApacheImage,
			RunArgs: []string{
				"-p", "80:80",
				"-p", "443:443",
				"-v", st.WebRoot + ":/usr/local/apache2/htdocs:Z",
			},
		},
		"phpmyadmin": {
			Name:      "phpmyadmin",
			Container: st.PHPMyAdminContainer,
			Image:     st.PHPMyAdminImage,
			RunArgs: []string{
				"-e", "PMA_HOST=" + st.MySQLContainer,
				"-p", "8080:80",
			},
		},
	}
}

// ApacheTLS returns the apache descriptor with TLS mounts and the vhost
// include appended.
func ApacheTLS(cfg *config.Config) Service {
	st := cfg.Stack
	svc := Services(cfg)["apache"]
	svc.RunArgs = append(svc.RunArgs,
		"-v", st.CertDir+":/usr/local/apache2/conf/certs:Z",
		"-v", st.SSLConfPath+":/usr/local/apache2/conf/extra/httpd-ssl.conf:Z",
	)
	return svc
}

// apacheTLSCommand is appended after the image for the TLS variant so the
// shipped httpd.conf picks up the vhost include.
func apacheTLSCommand() []string {
	return []string{
		"sh", "-c",
		"echo 'Include conf/extra/httpd-ssl.conf' >> /usr/local/apache2/conf/httpd.conf && httpd-foreground",
	}
}
