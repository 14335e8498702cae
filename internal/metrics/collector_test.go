package metrics

import (
	"path/filepath"
	"testing"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/database"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCollectPersistsSample(t *testing.T) {
	cfg := config.Default()
	c := NewCollector(cfg, testDB(t))

	c.collect()

	last := c.Last()
	if last.CollectedAt.IsZero() {
		t.Fatal("no sample collected")
	}
	if last.MemoryTotalBytes == 0 {
		t.Fatal("memory total not sampled")
	}

	history, err := c.History(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("history has %d samples", len(history))
	}
}

func TestDisabledCollectorDoesNotStart(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	c := NewCollector(cfg, nil)

	c.Start()
	// Stop must not hang when no worker ever started.
	c.Stop()
}
