package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"

	"github.com/stackpilot/stackpilot/internal/logging"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to localhost; same-origin checks add nothing there.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Events upgrades the connection and subscribes it to job progress.
func (h *Handler) Events(c *gin.Context) {
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.L().Warn("websocket upgrade failed", "error", err)
		return
	}
	h.Hub.Attach(conn)
}
