package backup

import (
	"fmt"
	"os"
	"time"

	"github.com/stackpilot/stackpilot/internal/logging"
)

// Prune removes backup directories whose encoded timestamp is older than
// the retention window. Age is taken from the directory name, not file
// mtimes, so copied or replicated trees age correctly. Incomplete
// backups inside the window are kept; a run may still be writing them.
func Prune(root string, retentionDays int, now time.Time) ([]string, error) {
	if retentionDays <= 0 {
		return nil, nil
	}

	records, err := List(root)
	if err != nil {
		return nil, err
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	var removed []string
	for _, rec := range records {
		if !rec.Timestamp.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(rec.Path); err != nil {
			return removed, fmt.Errorf("failed to prune %s: %w", rec.Name(), err)
		}
		logging.L().Info("backup pruned", "name", rec.Name(), "age_days", int(now.Sub(rec.Timestamp).Hours()/24))
		removed = append(removed, rec.Name())
	}
	return removed, nil
}
