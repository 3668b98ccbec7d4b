package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleCreditBalance(c *gin.Context) {
	summary, err := h.deps.Credits.Summary(c.Request.Context(), h.currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleCreditHistory(c *gin.Context) {
	entries, err := h.deps.Credits.History(c.Request.Context(), h.currentUserID(c),
		queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type creditMovementRequestPayload struct {
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

func (h *httpHandler) handleEarnCredits(c *gin.Context) {
	var request creditMovementRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.deps.Credits.Earn(c.Request.Context(), h.currentUserID(c), request.Points, request.Reason, nil, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry_id": entry.ID, "points": entry.Points})
}

func (h *httpHandler) handleSpendCredits(c *gin.Context) {
	var request creditMovementRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.deps.Credits.Spend(c.Request.Context(), h.currentUserID(c), request.Points, request.Reason, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry_id": entry.ID, "points": entry.Points})
}

type adjustCreditsRequestPayload struct {
	UserID uint64 `json:"user_id"`
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

func (h *httpHandler) handleAdjustCredits(c *gin.Context) {
	var request adjustCreditsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.deps.Credits.Adjust(c.Request.Context(), request.UserID, request.Points, request.Reason, nil)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry_id": entry.ID, "points": entry.Points})
}
