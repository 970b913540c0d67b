package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/AnTengye/contractrisk/config"
	"github.com/AnTengye/contractrisk/middleware"
	"github.com/AnTengye/contractrisk/pkg/logger"
	"github.com/AnTengye/contractrisk/session"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	config *config.Config
	store  *session.Store
}

func NewAuthHandler(cfg *config.Config, store *session.Store) *AuthHandler {
	return &AuthHandler{config: cfg, store: store}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	Username  string `json:"username"`
}

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	user := h.config.FindUser(req.Username)
	if user == nil || subtle.ConstantTimeCompare([]byte(user.Password), []byte(req.Password)) != 1 {
		logger.Warn(c.Request.Context(), "login rejected", "username", req.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, expiresAt, err := middleware.GenerateToken(user.Username, &h.config.Auth)
	if err != nil {
		logger.Error(c.Request.Context(), "failed to generate token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		Username:  user.Username,
	})
}

// Logout tears down every session of the current user
func (h *AuthHandler) Logout(c *gin.Context) {
	username := middleware.GetUsername(c)
	closed := 0
	if h.store != nil {
		for _, sess := range h.store.GetByOwner(username) {
			h.store.Delete(sess.ID)
			closed++
		}
	}
	logger.Info(c.Request.Context(), "user logged out", "closed_sessions", closed)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out", "closed_sessions": closed})
}

// GetCurrentUser returns the current user info
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	username := middleware.GetUsername(c)
	sessions := 0
	if h.store != nil {
		sessions = len(h.store.GetByOwner(username))
	}

	c.JSON(http.StatusOK, gin.H{
		"username": username,
		"sessions": sessions,
	})
}
