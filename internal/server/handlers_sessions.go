package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/greenloop-labs/greenloop/backend/internal/sessions"
)

func (h *httpHandler) handleCreateSession(c *gin.Context) {
	user, err := h.deps.Users.GetByID(c.Request.Context(), h.currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	session, err := h.deps.Sessions.Create(c.Request.Context(), user.ID, user.Username, string(user.Role))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ownedSession fetches a session and rejects callers trying to reach someone
// else's. Foreign sessions read as missing so their ids are not confirmable.
func (h *httpHandler) ownedSession(c *gin.Context) (*sessions.Session, bool) {
	session, err := h.deps.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	if session.UserID != h.currentUserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return nil, false
	}
	return session, true
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session)
}

type updateSessionRequestPayload struct {
	Data map[string]interface{} `json:"data"`
}

func (h *httpHandler) handleUpdateSession(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var request updateSessionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	session.Data = request.Data
	if err := h.deps.Sessions.Update(c.Request.Context(), session); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *httpHandler) handleExtendSession(c *gin.Context) {
	if _, ok := h.ownedSession(c); !ok {
		return
	}
	if err := h.deps.Sessions.Extend(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "extended"})
}

func (h *httpHandler) handleDeleteSession(c *gin.Context) {
	if _, ok := h.ownedSession(c); !ok {
		return
	}
	if err := h.deps.Sessions.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
