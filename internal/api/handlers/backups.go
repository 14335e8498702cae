package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackpilot/stackpilot/internal/backup"
	"github.com/stackpilot/stackpilot/internal/logging"
)

// ListBackups returns the on-disk backups and, when a ledger is
// available, the recorded runs.
func (h *Handler) ListBackups(c *gin.Context) {
	records, err := backup.List(h.Cfg.Backup.Root)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type recordView struct {
		Name      string `json:"name"`
		Path      string `json:"path"`
		Complete  bool   `json:"complete"`
		SizeBytes int64  `json:"size_bytes"`
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			Name:      rec.Name(),
			Path:      rec.Path,
			Complete:  rec.Complete,
			SizeBytes: backup.DirSize(rec.Path),
		})
	}

	response := gin.H{"backups": views}
	if h.Store != nil {
		runs, err := h.Store.ListBackupRuns(20)
		if err == nil {
			response["runs"] = runs
		}
	}
	c.JSON(http.StatusOK, response)
}

// TriggerBackup starts a backup in the background. Progress streams over
// the websocket; only one job runs at a time.
func (h *Handler) TriggerBackup(c *gin.Context) {
	if !h.beginJob() {
		c.JSON(http.StatusConflict, gin.H{"error": "a backup or restore is already running"})
		return
	}

	go func() {
		defer h.endJob()
		rec, err := h.Manager.Run(context.Background(), "api")
		if err != nil {
			logging.L().Error("api-triggered backup failed", "error", err)
			if h.Hub != nil {
				h.Hub.Broadcast("backup", "finished", "failed: "+err.Error())
			}
			return
		}
		if h.Hub != nil {
			h.Hub.Broadcast("backup", "finished", rec.Name())
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "backup started"})
}

type restoreRequest struct {
	Path string `json:"path"`
}

// TriggerRestore starts a restore in the background. An empty path
// restores the latest complete backup.
func (h *Handler) TriggerRestore(c *gin.Context) {
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// Resolve up front so a bad path fails the request, not the job.
	rec, err := h.Restorer.Resolve(req.Path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	if !h.beginJob() {
		c.JSON(http.StatusConflict, gin.H{"error": "a backup or restore is already running"})
		return
	}

	go func() {
		defer h.endJob()
		if err := h.Restorer.Restore(context.Background(), rec.Path); err != nil {
			logging.L().Error("api-triggered restore failed", "error", err)
			if h.Hub != nil {
				h.Hub.Broadcast("restore", "finished", "failed: "+err.Error())
			}
			return
		}
		if h.Hub != nil {
			h.Hub.Broadcast("restore", "finished", rec.Name())
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "restore started", "backup": rec.Name()})
}
