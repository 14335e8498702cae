package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/stackpilot/stackpilot/internal/config"
)

// LocalDestination mirrors backups into another directory, typically a
// mounted network share or a second disk.
type LocalDestination struct {
	base string
}

// NewLocalDestination creates a destination rooted at the configured path.
func NewLocalDestination(cfg config.DestinationConfig) (*LocalDestination, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("local destination requires a path")
	}
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}
	return &LocalDestination{base: cfg.Path}, nil
}

func (d *LocalDestination) Type() string { return "local" }

func (d *LocalDestination) resolve(name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("object name escapes destination: %s", name)
	}
	return filepath.Join(d.base, cleaned), nil
}

func (d *LocalDestination) Upload(name string, reader io.Reader, sizeBytes int64) error {
	target, err := d.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}

	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer file.Close()

	written, err := io.Copy(file, reader)
	if err != nil {
		os.Remove(target)
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if written != sizeBytes {
		os.Remove(target)
		return fmt.Errorf("size mismatch for %s: expected %d bytes, wrote %d", name, sizeBytes, written)
	}
	return file.Close()
}

func (d *LocalDestination) Download(name string, writer io.Writer) error {
	source, err := d.resolve(name)
	if err != nil {
		return err
	}
	file, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", source, err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to read %s: %w", source, err)
	}
	return nil
}

func (d *LocalDestination) Delete(name string) error {
	target, err := d.resolve(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to delete %s: %w", target, err)
	}
	return nil
}

func (d *LocalDestination) List() ([]File, error) {
	var files []File
	err := filepath.Walk(d.base, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(d.base, path)
		if err != nil {
			return err
		}
		files = append(files, File{
			Name:      filepath.ToSlash(rel),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list destination: %w", err)
	}
	return files, nil
}

func (d *LocalDestination) Close() error { return nil }
