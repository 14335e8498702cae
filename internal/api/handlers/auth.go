package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackpilot/stackpilot/internal/auth"
	"github.com/stackpilot/stackpilot/internal/logging"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges the admin credentials for a bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password required"})
		return
	}

	if req.Username != h.Cfg.API.AdminUser ||
		h.Cfg.API.AdminPasswordHash == "" ||
		!auth.CheckPassword(req.Password, h.Cfg.API.AdminPasswordHash) {
		logging.L().Warn("login rejected", "username", req.Username, "client", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.JWT.Generate(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
