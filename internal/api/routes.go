// Package api wires the serve-mode HTTP surface: authentication, backup
// and restore triggers, stack status and the progress websocket.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/stackpilot/stackpilot/internal/api/handlers"
	"github.com/stackpilot/stackpilot/internal/api/middleware"
)

// NewRouter builds the gin engine over the prepared handler set.
func NewRouter(h *handlers.Handler) *gin.Engine {
	if h.Cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.SecurityHeaders())

	router.GET("/api/health", h.Health)
	router.POST("/api/auth/login", h.Login)

	authorized := router.Group("/api")
	authorized.Use(middleware.Auth(h.JWT))
	{
		authorized.GET("/status", h.Status)
		authorized.GET("/metrics", h.Metrics)
		authorized.GET("/backups", h.ListBackups)
		authorized.POST("/backups", h.TriggerBackup)
		authorized.POST("/restore", h.TriggerRestore)
		authorized.GET("/events", h.Events)
	}

	return router
}
