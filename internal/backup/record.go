// Package backup creates, prunes, replicates and restores timestamped
// snapshots of the container stack: a full SQL dump, the web root, the
// certificate directory and per-container configuration.
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	dirPrefix       = "backup_"
	timestampLayout = "20060102_150405"
	manifestName    = "manifest.json"
)

// Artifact file names inside a backup directory.
const (
	DumpFile  = "mysql_dump.sql"
	WWWFile   = "apache_www.tar.gz"
	CertsFile = "ssl_certs.tar.gz"
)

// Record is one backup directory under the backup root.
type Record struct {
	Path      string
	Timestamp time.Time
	Complete  bool
}

// Name returns the directory name of the record.
func (rec Record) Name() string {
	return filepath.Base(rec.Path)
}

// Manifest marks a backup as complete. It is written as the final step of
// a run; a directory without one is a partial backup and is never chosen
// as the restore default.
type Manifest struct {
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
	Artifacts   []string  `json:"artifacts"`
	Warnings    []string  `json:"warnings,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
}

// RecordName renders the directory name for a backup started at the
// given time. Names sort lexicographically in timestamp order.
func RecordName(t time.Time) string {
	return dirPrefix + t.Format(timestampLayout)
}

// ParseRecordName extracts the timestamp from a backup directory name.
func ParseRecordName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, dirPrefix) {
		return time.Time{}, false
	}
	t, err := time.Parse(timestampLayout, strings.TrimPrefix(name, dirPrefix))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// List returns all backup records under root, sorted by name ascending.
// Entries that do not match the naming scheme are ignored.
func List(root string) ([]Record, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup root: %w", err)
	}

	var records []Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ts, ok := ParseRecordName(entry.Name())
		if !ok {
			continue
		}
		path := filepath.Join(root, entry.Name())
		_, statErr := os.Stat(filepath.Join(path, manifestName))
		records = append(records, Record{
			Path:      path,
			Timestamp: ts,
			Complete:  statErr == nil,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Name() < records[j].Name()
	})
	return records, nil
}

// Latest returns the most recent complete backup under root. Lexicographic
// order over the fixed-width names is timestamp order, so the last
// complete entry wins.
func Latest(root string) (Record, error) {
	records, err := List(root)
	if err != nil {
		return Record{}, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Complete {
			return records[i], nil
		}
	}
	return Record{}, fmt.Errorf("no complete backup found under %s", root)
}

// WriteManifest writes the completion marker into the backup directory.
func WriteManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, manifestName), data, 0644)
}

// ReadManifest reads the completion marker from a backup directory.
func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return m, nil
}

// DirSize sums the file sizes under a backup directory.
func DirSize(dir string) int64 {
	var total int64
	filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total
}
