package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/logging"
)

// File describes one object stored in a destination.
type File struct {
	Name      string
	SizeBytes int64
	ModTime   time.Time
}

// Destination replicates backup artifacts off the host.
type Destination interface {
	// Type returns the destination kind ("local", "sftp", "s3").
	Type() string
	// Upload stores one object under the given name.
	Upload(name string, reader io.Reader, sizeBytes int64) error
	// Download streams one object into the writer.
	Download(name string, writer io.Writer) error
	// Delete removes one object.
	Delete(name string) error
	// List returns the stored objects.
	List() ([]File, error)
	// Close releases any underlying connections.
	Close() error
}

// NewDestination builds a destination from its configuration.
func NewDestination(cfg config.DestinationConfig) (Destination, error) {
	switch cfg.Type {
	case "local":
		return NewLocalDestination(cfg)
	case "sftp":
		return NewSFTPDestination(cfg)
	case "s3":
		return NewS3Destination(cfg)
	default:
		return nil, fmt.Errorf("unknown destination type: %s", cfg.Type)
	}
}

// Replicate uploads every file of a backup directory to the destination,
// prefixed with the record name so one remote tree holds many backups.
func Replicate(dest Destination, recordDir string) error {
	record := filepath.Base(recordDir)

	return filepath.Walk(recordDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(recordDir, path)
		if err != nil {
			return err
		}
		name := record + "/" + filepath.ToSlash(rel)

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer file.Close()

		if err := dest.Upload(name, file, info.Size()); err != nil {
			return fmt.Errorf("failed to replicate %s to %s destination: %w", name, dest.Type(), err)
		}
		logging.L().Debug("artifact replicated", "destination", dest.Type(), "name", name, "size", info.Size())
		return nil
	})
}
