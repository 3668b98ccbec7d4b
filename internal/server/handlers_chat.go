package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type chatRequestPayload struct {
	Message string `json:"message"`
}

func (h *httpHandler) handleChatMessage(c *gin.Context) {
	var request chatRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	reply, err := h.deps.Chatbot.Ask(c.Request.Context(), h.currentUserID(c), request.Message)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}
