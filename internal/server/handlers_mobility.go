package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"github.com/greenloop-labs/greenloop/backend/internal/mobility"
)

type logTripRequestPayload struct {
	Mode       string    `json:"mode"`
	DistanceKM float64   `json:"distance_km"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	StartPoint string    `json:"start_point"`
	EndPoint   string    `json:"end_point"`
}

func (h *httpHandler) handleLogTrip(c *gin.Context) {
	var request logTripRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	log, err := h.deps.Mobility.LogTrip(c.Request.Context(), h.currentUserID(c), mobility.TripInput{
		Mode:       carbon.TransportMode(request.Mode),
		DistanceKM: request.DistanceKM,
		StartedAt:  request.StartedAt,
		EndedAt:    request.EndedAt,
		StartPoint: request.StartPoint,
		EndPoint:   request.EndPoint,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"log_id":         log.ID,
		"mode":           log.Mode,
		"distance_km":    log.DistanceKM,
		"co2_baseline_g": log.CO2BaselineG,
		"co2_actual_g":   log.CO2ActualG,
		"co2_saved_g":    log.CO2SavedG,
		"points_earned":  log.PointsEarned,
	})
}

func (h *httpHandler) handleTripHistory(c *gin.Context) {
	logs, err := h.deps.Mobility.History(c.Request.Context(), h.currentUserID(c),
		queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *httpHandler) handleTripTotals(c *gin.Context) {
	totals, err := h.deps.Mobility.Totals(c.Request.Context(), h.currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

const leaderboardWindowDays = 30

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	since := time.Now().UTC().AddDate(0, 0, -leaderboardWindowDays)
	rows, err := h.deps.Mobility.Leaderboard(c.Request.Context(), since, queryInt(c, "limit", 10))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": rows})
}
