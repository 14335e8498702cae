package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/stackpilot/stackpilot/internal/backup"
	"github.com/stackpilot/stackpilot/internal/cron"
	"github.com/stackpilot/stackpilot/internal/runner"
	"github.com/stackpilot/stackpilot/internal/stack"
)

// Health is the unauthenticated liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports container states, the latest backup and the schedule.
func (h *Handler) Status(c *gin.Context) {
	containers := gin.H{}
	for name, svc := range stack.Services(h.Cfg) {
		state, err := runner.Output(c.Request.Context(), h.Runner, runner.Invocation{
			Program: "podman",
			Args:    []string{"inspect", "--format", "{{.State.Status}}", svc.Container},
		})
		if err != nil {
			state = "absent"
		}
		containers[name] = state
	}

	response := gin.H{"containers": containers}

	if latest, err := backup.Latest(h.Cfg.Backup.Root); err == nil {
		response["latest_backup"] = gin.H{
			"name":      latest.Name(),
			"timestamp": latest.Timestamp,
		}
	}

	if installed, err := cron.Installed(c.Request.Context(), h.Runner, backup.CronJob); err == nil {
		response["cron_installed"] = installed
	}

	if h.Scheduler != nil {
		if next, ok := h.Scheduler.NextRun(); ok {
			response["next_scheduled_backup"] = next
		}
	}

	c.JSON(http.StatusOK, response)
}

// Metrics returns the latest host sample and optionally the history.
func (h *Handler) Metrics(c *gin.Context) {
	if h.Collector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics collection disabled"})
		return
	}

	response := gin.H{"current": h.Collector.Last()}

	if limitStr := c.Query("history"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid history limit"})
			return
		}
		history, err := h.Collector.History(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		response["history"] = history
	}

	c.JSON(http.StatusOK, response)
}
