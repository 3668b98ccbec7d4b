package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleGardenStatus(c *gin.Context) {
	status, err := h.deps.Garden.Status(c.Request.Context(), h.currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *httpHandler) handleGardenWater(c *gin.Context) {
	outcome, err := h.deps.Garden.Water(c.Request.Context(), h.currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *httpHandler) handleGardenHistory(c *gin.Context) {
	logs, err := h.deps.Garden.History(c.Request.Context(), h.currentUserID(c),
		queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"waterings": logs})
}
