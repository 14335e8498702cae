// Package metrics samples host CPU, memory and disk usage while serve
// mode runs and keeps a short history in the database.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/database"
	"github.com/stackpilot/stackpilot/internal/logging"
)

// Sample is one host measurement.
type Sample struct {
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryUsedBytes  uint64    `json:"memory_used_bytes"`
	MemoryTotalBytes uint64    `json:"memory_total_bytes"`
	DiskUsedBytes    uint64    `json:"disk_used_bytes"`
	DiskTotalBytes   uint64    `json:"disk_total_bytes"`
	CollectedAt      time.Time `json:"collected_at"`
}

// Collector periodically samples the host and records the results.
type Collector struct {
	cfg    *config.Config
	db     *database.DB
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu   sync.RWMutex
	last Sample
}

// NewCollector creates a collector over the given database.
func NewCollector(cfg *config.Config, db *database.DB) *Collector {
	return &Collector{cfg: cfg, db: db, stopCh: make(chan struct{})}
}

// Start begins sampling in the background. Disabled collectors no-op.
func (c *Collector) Start() {
	if !c.cfg.Metrics.Enabled {
		return
	}

	interval := time.Duration(c.cfg.Metrics.IntervalSecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()
	logging.L().Info("metrics collector started", "interval", interval)
}

// Stop halts sampling and waits for the worker to exit.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// Last returns the most recent sample.
func (c *Collector) Last() Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Collector) collect() {
	sample := Sample{CollectedAt: time.Now()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		sample.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		sample.MemoryUsedBytes = vm.Used
		sample.MemoryTotalBytes = vm.Total
	}
	if usage, err := disk.Usage("/"); err == nil {
		sample.DiskUsedBytes = usage.Used
		sample.DiskTotalBytes = usage.Total
	}

	c.mu.Lock()
	c.last = sample
	c.mu.Unlock()

	if c.db == nil {
		return
	}
	if err := c.persist(sample); err != nil {
		logging.L().Warn("failed to persist host metrics", "error", err)
	}
	c.pruneHistory()
}

func (c *Collector) persist(s Sample) error {
	_, err := c.db.Exec(
		`INSERT INTO host_metrics (cpu_percent, memory_used_bytes, memory_total_bytes, disk_used_bytes, disk_total_bytes)
		 VALUES (?, ?, ?, ?, ?)`,
		s.CPUPercent, s.MemoryUsedBytes, s.MemoryTotalBytes, s.DiskUsedBytes, s.DiskTotalBytes,
	)
	return err
}

func (c *Collector) pruneHistory() {
	retention := c.cfg.Metrics.RetentionDays
	if retention <= 0 {
		return
	}
	_, err := c.db.Exec(
		`DELETE FROM host_metrics WHERE collected_at < datetime('now', ?)`,
		fmt.Sprintf("-%d days", retention),
	)
	if err != nil {
		logging.L().Warn("failed to prune metric history", "error", err)
	}
}

// History returns stored samples newest first.
func (c *Collector) History(limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.Query(
		`SELECT cpu_percent, memory_used_bytes, memory_total_bytes, disk_used_bytes, disk_total_bytes, collected_at
		 FROM host_metrics ORDER BY collected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.CPUPercent, &s.MemoryUsedBytes, &s.MemoryTotalBytes,
			&s.DiskUsedBytes, &s.DiskTotalBytes, &s.CollectedAt); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
