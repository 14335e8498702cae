// Package handlers implements the serve-mode HTTP endpoints.
package handlers

import (
	"sync/atomic"

	"github.com/stackpilot/stackpilot/internal/auth"
	"github.com/stackpilot/stackpilot/internal/backup"
	"github.com/stackpilot/stackpilot/internal/config"
	"github.com/stackpilot/stackpilot/internal/metrics"
	"github.com/stackpilot/stackpilot/internal/runner"
	"github.com/stackpilot/stackpilot/internal/websocket"
)

// Handler bundles the dependencies the endpoints need.
type Handler struct {
	Cfg       *config.Config
	Runner    runner.Runner
	Store     *backup.Store
	Manager   *backup.Manager
	Restorer  *backup.Restorer
	Scheduler *backup.Scheduler
	Hub       *websocket.Hub
	Collector *metrics.Collector
	JWT       *auth.JWTManager

	// jobRunning serializes backup and restore triggers; both cycle the
	// same containers and must never overlap.
	jobRunning atomic.Bool
}

// New creates the handler set.
func New(cfg *config.Config, r runner.Runner, jwt *auth.JWTManager) *Handler {
	return &Handler{Cfg: cfg, Runner: r, JWT: jwt}
}

func (h *Handler) beginJob() bool {
	return h.jobRunning.CompareAndSwap(false, true)
}

func (h *Handler) endJob() {
	h.jobRunning.Store(false)
}
