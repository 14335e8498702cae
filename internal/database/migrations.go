package database

// Migration represents a database migration
type Migration struct {
	Version string
	Up      string
}

// migrations contains all database migrations in order
var migrations = []Migration{
	{
		Version: "001_init",
		Up: `
-- One row per backup run, whether triggered by cron, CLI or the API.
CREATE TABLE backup_runs (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    triggered_by TEXT NOT NULL DEFAULT 'manual',
    error TEXT,
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    finished_at DATETIME
);

CREATE INDEX idx_backup_runs_started ON backup_runs(started_at);
CREATE INDEX idx_backup_runs_status ON backup_runs(status);

-- One row per restore run.
CREATE TABLE restore_runs (
    id TEXT PRIMARY KEY,
    backup_path TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'running',
    skipped_steps TEXT NOT NULL DEFAULT '',
    error TEXT,
    started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    finished_at DATETIME
);
`,
	},
	{
		Version: "002_metrics",
		Up: `
-- Host samples collected in serve mode.
CREATE TABLE host_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cpu_percent REAL NOT NULL,
    memory_used_bytes INTEGER NOT NULL,
    memory_total_bytes INTEGER NOT NULL,
    disk_used_bytes INTEGER NOT NULL,
    disk_total_bytes INTEGER NOT NULL,
    collected_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_host_metrics_collected ON host_metrics(collected_at);
`,
	},
}
