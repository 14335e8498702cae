package backup

import (
	"fmt"
	"io"
	"path"
	"time"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/logging"
	"github.com/stackpilot/stackpilot/internal/sshutil"
)

// SFTPDestination replicates backups onto a remote host over SFTP.
type SFTPDestination struct {
	cfg        config.DestinationConfig
	sshClient  *xssh.Client
	sftpClient *sftp.Client
}

// NewSFTPDestination connects to the configured host and ensures the
// base directory exists.
func NewSFTPDestination(cfg config.DestinationConfig) (*SFTPDestination, error) {
	dest := &SFTPDestination{cfg: cfg}
	if err := dest.connect(); err != nil {
		return nil, err
	}
	return dest, nil
}

func (d *SFTPDestination) connect() error {
	hostKeyCallback, err := sshutil.NewHostKeyCallback(d.cfg.KnownHostsPath, d.cfg.TrustOnFirstUse)
	if err != nil {
		return fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshCfg := &xssh.ClientConfig{
		User:            d.cfg.SFTPUsername,
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}

	switch {
	case d.cfg.SFTPKeyPath != "":
		signer, err := sshutil.ReadPrivateKey(d.cfg.SFTPKeyPath)
		if err != nil {
			return err
		}
		sshCfg.Auth = []xssh.AuthMethod{xssh.PublicKeys(signer)}
	case d.cfg.SFTPPassword != "":
		sshCfg.Auth = []xssh.AuthMethod{xssh.Password(d.cfg.SFTPPassword)}
	default:
		return fmt.Errorf("sftp destination has no authentication method")
	}

	port := d.cfg.SFTPPort
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", d.cfg.SFTPHost, port)

	sshClient, err := xssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	d.sshClient = sshClient

	sftpClient, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
	)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("failed to start sftp session: %w", err)
	}
	d.sftpClient = sftpClient

	if err := d.sftpClient.MkdirAll(d.cfg.Path); err != nil {
		d.Close()
		return fmt.Errorf("failed to create remote directory: %w", err)
	}

	logging.L().Info("sftp destination connected", "host", addr, "path", d.cfg.Path)
	return nil
}

func (d *SFTPDestination) Type() string { return "sftp" }

func (d *SFTPDestination) Close() error {
	if d.sftpClient != nil {
		d.sftpClient.Close()
	}
	if d.sshClient != nil {
		d.sshClient.Close()
	}
	return nil
}

func (d *SFTPDestination) Upload(name string, reader io.Reader, sizeBytes int64) error {
	target := path.Join(d.cfg.Path, name)
	if err := d.sftpClient.MkdirAll(path.Dir(target)); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(target), err)
	}

	file, err := d.sftpClient.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		d.sftpClient.Remove(target)
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if written != sizeBytes {
		d.sftpClient.Remove(target)
		return fmt.Errorf("size mismatch for %s: expected %d bytes, wrote %d", name, sizeBytes, written)
	}
	return nil
}

func (d *SFTPDestination) Download(name string, writer io.Writer) error {
	source := path.Join(d.cfg.Path, name)
	file, err := d.sftpClient.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to read remote file: %w", err)
	}
	return nil
}

func (d *SFTPDestination) Delete(name string) error {
	target := path.Join(d.cfg.Path, name)
	if err := d.sftpClient.Remove(target); err != nil {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

func (d *SFTPDestination) List() ([]File, error) {
	entries, err := d.sftpClient.ReadDir(d.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files = append(files, File{
			Name:      entry.Name(),
			SizeBytes: entry.Size(),
			ModTime:   entry.ModTime(),
		})
	}
	return files, nil
}
