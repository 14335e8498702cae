package stack

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/stackpilot/stackpilot/internal/cron"
	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/runner"
)

const letsEncryptLive = "/etc/letsencrypt/live"

// ObtainCertificate runs certbot in standalone mode for the domain and
// installs the resulting pair into the stack's cert directory. Apache must
// be stopped first so certbot can bind port 80.
func (p *Provisioner) ObtainCertificate(ctx context.Context) (bool, error) {
	st := p.cfg.Stack
	logging.L().Info("obtaining certificate", "domain", st.Domain)
	logging.L().Info("ensure the domain's DNS record points at this host")

	p.tolerate(ctx, Services(p.cfg)["apache"].Stop())

	result, err := p.runner.Run(ctx, runner.Invocation{
		Program: "certbot",
		Args: []string{
			"certonly", "--standalone",
			"--non-interactive",
			"--agree-tos",
			"--email", st.Email,
			"-d", st.Domain,
			"--preferred-challenges", "http",
		},
	})
	if err != nil {
		return false, err
	}
	if !result.Success() {
		logging.L().Warn("certificate issuance failed, check DNS configuration", "domain", st.Domain, "stderr", result.Stderr)
		return false, nil
	}

	liveDir := filepath.Join(letsEncryptLive, st.Domain)
	if _, err := os.Stat(liveDir); err != nil {
		logging.L().Warn("certbot reported success but live directory is missing", "dir", liveDir)
		return false, nil
	}

	if err := os.MkdirAll(st.CertDir, 0755); err != nil {
		return false, fmt.Errorf("failed to create cert directory: %w", err)
	}
	for _, name := range []string{"fullchain.pem", "privkey.pem"} {
		if err := copyFile(filepath.Join(liveDir, name), filepath.Join(st.CertDir, name), 0644); err != nil {
			return false, fmt.Errorf("failed to install %s: %w", name, err)
		}
	}

	logging.L().Info("certificate installed", "domain", st.Domain, "dir", st.CertDir)
	return true, nil
}

// InstallRenewalCron registers the daily certbot renew entry with a deploy
// hook that refreshes the installed pair and bounces Apache.
func (p *Provisioner) InstallRenewalCron(ctx context.Context) error {
	st := p.cfg.Stack
	hook := fmt.Sprintf(
		"cp %s/%s/fullchain.pem %s/ && cp %s/%s/privkey.pem %s/ && podman restart %s",
		letsEncryptLive, st.Domain, st.CertDir,
		letsEncryptLive, st.Domain, st.CertDir,
		st.ApacheContainer,
	)
	command := fmt.Sprintf("certbot renew --quiet --deploy-hook '%s'", hook)
	return cron.Install(ctx, p.runner, p.cfg.Backup.RenewSchedule, command, "cert-renew")
}

// WriteSSLConf renders the Apache TLS vhost configuration for the domain.
func WriteSSLConf(path, domain string) error {
	conf := fmt.Sprintf(`LoadModule ssl_module modules/mod_ssl.so
LoadModule socache_shmcb_module modules/mod_socache_shmcb.so

Listen 443

SSLCipherSuite HIGH:MEDIUM:!MD5:!RC4:!3DES
SSLProxyCipherSuite HIGH:MEDIUM:!MD5:!RC4:!3DES
SSLHonorCipherOrder on
SSLProtocol all -SSLv3 -TLSv1 -TLSv1.1
SSLProxyProtocol all -SSLv3 -TLSv1 -TLSv1.1
SSLPassPhraseDialog  builtin
SSLSessionCache        "shmcb:/usr/local/apache2/logs/ssl_scache(512000)"
SSLSessionCacheTimeout  300

<VirtualHost *:443>
    ServerName %s
    DocumentRoot /usr/local/apache2/htdocs

    SSLEngine on
    SSLCertificateFile /usr/local/apache2/conf/certs/fullchain.pem
    SSLCertificateKeyFile /usr/local/apache2/conf/certs/privkey.pem

    <Directory /usr/local/apache2/htdocs>
        Options Indexes FollowSymLinks
        AllowOverride All
        Require all granted
    </Directory>
</VirtualHost>
`, domain)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(conf), 0644)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
