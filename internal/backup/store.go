package backup

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stackpilot/stackpilot/internal/database"
)

// Run is one row of the backup_runs ledger.
type Run struct {
	ID          string     `json:"id"`
	Path        string     `json:"path"`
	Status      string     `json:"status"`
	SizeBytes   int64      `json:"size_bytes"`
	TriggeredBy string     `json:"triggered_by"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RestoreRun is one row of the restore_runs ledger.
type RestoreRun struct {
	ID           string     `json:"id"`
	BackupPath   string     `json:"backup_path"`
	Status       string     `json:"status"`
	SkippedSteps []string   `json:"skipped_steps,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Store records backup and restore runs in SQLite.
type Store struct {
	db *database.DB
}

// NewStore creates a run ledger over the given database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// StartBackup inserts a running backup row and returns its id.
func (s *Store) StartBackup(path, triggeredBy string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO backup_runs (id, path, status, triggered_by) VALUES (?, ?, 'running', ?)`,
		id, path, triggeredBy,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record backup start: %w", err)
	}
	return id, nil
}

// FinishBackup closes a backup row with its final status.
func (s *Store) FinishBackup(id, status string, sizeBytes int64, runErr error) error {
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	_, err := s.db.Exec(
		`UPDATE backup_runs SET status = ?, size_bytes = ?, error = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, sizeBytes, errText, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record backup finish: %w", err)
	}
	return nil
}

// ListBackupRuns returns the most recent runs, newest first.
func (s *Store) ListBackupRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, path, status, size_bytes, triggered_by, COALESCE(error, ''), started_at, finished_at
		 FROM backup_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backup runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Path, &run.Status, &run.SizeBytes,
			&run.TriggeredBy, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// StartRestore inserts a running restore row and returns its id.
func (s *Store) StartRestore(backupPath string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO restore_runs (id, backup_path, status) VALUES (?, ?, 'running')`,
		id, backupPath,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record restore start: %w", err)
	}
	return id, nil
}

// FinishRestore closes a restore row with its final status and the steps
// that had to be skipped.
func (s *Store) FinishRestore(id, status string, skipped []string, runErr error) error {
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	_, err := s.db.Exec(
		`UPDATE restore_runs SET status = ?, skipped_steps = ?, error = ?, finished_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, strings.Join(skipped, ","), errText, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record restore finish: %w", err)
	}
	return nil
}
