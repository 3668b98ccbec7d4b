package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type registerRequestPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
	SessionID   string `json:"session_id,omitempty"`
	UserID      uint64 `json:"user_id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.deps.Users.Register(c.Request.Context(), request.Username, request.Email, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user_id":  user.ID,
		"username": user.Username,
	})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.deps.Users.Authenticate(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	token, expiresIn, err := h.deps.TokenIssuer.IssueToken(c.Request.Context(), user.ID, string(user.Role))
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	response := loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		UserID:      user.ID,
		Username:    user.Username,
		Role:        string(user.Role),
	}

	if h.deps.Sessions != nil {
		session, err := h.deps.Sessions.Create(c.Request.Context(), user.ID, user.Username, string(user.Role))
		if err != nil {
			h.logger.Warn("session creation failed", zap.Error(err))
		} else {
			response.SessionID = session.ID
		}
	}

	c.JSON(http.StatusOK, response)
}

type logoutRequestPayload struct {
	SessionID string `json:"session_id"`
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if h.deps.Sessions == nil {
		c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
		return
	}

	var request logoutRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.deps.Sessions.Delete(c.Request.Context(), request.SessionID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	user, err := h.deps.Users.GetByID(c.Request.Context(), h.currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    user.ID,
		"username":   user.Username,
		"email":      user.Email,
		"role":       user.Role,
		"created_at": user.CreatedAt,
	})
}
