package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"github.com/greenloop-labs/greenloop/backend/internal/challenges"
)

func (h *httpHandler) handleListChallenges(c *gin.Context) {
	views, err := h.deps.Challenges.List(c.Request.Context(), h.currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	payload := make([]gin.H, 0, len(views))
	for _, view := range views {
		payload = append(payload, gin.H{
			"challenge_id": view.Challenge.ID,
			"title":        view.Challenge.Title,
			"description":  view.Challenge.Description,
			"target_mode":  view.Challenge.TargetMode,
			"goal_type":    view.Challenge.GoalType,
			"goal_target":  view.Challenge.GoalTargetValue,
			"start_at":     view.Challenge.StartAt,
			"end_at":       view.Challenge.EndAt,
			"reward":       view.Challenge.Reward,
			"status":       view.Challenge.Status,
			"is_joined":    view.IsJoined,
			"progress":     view.Progress,
		})
	}
	c.JSON(http.StatusOK, gin.H{"challenges": payload})
}

func (h *httpHandler) handleJoinChallenge(c *gin.Context) {
	challengeID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.deps.Challenges.Join(c.Request.Context(), h.currentUserID(c), challengeID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "joined"})
}

func (h *httpHandler) handleChallengeProgress(c *gin.Context) {
	challengeID, ok := pathID(c)
	if !ok {
		return
	}
	progress, err := h.deps.Challenges.Progress(c.Request.Context(), h.currentUserID(c), challengeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

type createChallengeRequestPayload struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	TargetMode  string    `json:"target_mode"`
	GoalType    string    `json:"goal_type"`
	GoalTarget  float64   `json:"goal_target"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Reward      string    `json:"reward"`
}

func (h *httpHandler) handleCreateChallenge(c *gin.Context) {
	var request createChallengeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	targetMode, err := carbon.ParseTargetMode(request.TargetMode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_target_mode"})
		return
	}

	challenge, err := h.deps.Challenges.Create(c.Request.Context(), challenges.CreateInput{
		Title:           request.Title,
		Description:     request.Description,
		Scope:           challenges.ScopePersonal,
		TargetMode:      targetMode,
		GoalType:        challenges.GoalType(request.GoalType),
		GoalTargetValue: request.GoalTarget,
		StartAt:         request.StartAt,
		EndAt:           request.EndAt,
		Reward:          request.Reward,
		CreatedBy:       h.currentUserID(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"challenge_id": challenge.ID})
}

func (h *httpHandler) handleCancelChallenge(c *gin.Context) {
	challengeID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.deps.Challenges.Cancel(c.Request.Context(), challengeID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
