package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/greenloop-labs/greenloop/backend/internal/carbon"
	"github.com/greenloop-labs/greenloop/backend/internal/challenges"
	"github.com/greenloop-labs/greenloop/backend/internal/groups"
)

type createGroupRequestPayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Usernames   []string `json:"usernames"`
}

func (h *httpHandler) handleCreateGroup(c *gin.Context) {
	var request createGroupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	detail, err := h.deps.Groups.CreateWithUsernames(c.Request.Context(), h.currentUserID(c),
		request.Name, request.Description, request.Usernames)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, detail)
}

func (h *httpHandler) handleListGroups(c *gin.Context) {
	result, err := h.deps.Groups.ListMine(c.Request.Context(), h.currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": result})
}

func (h *httpHandler) handleGetGroup(c *gin.Context) {
	groupID, ok := pathID(c)
	if !ok {
		return
	}
	detail, err := h.deps.Groups.Get(c.Request.Context(), h.currentUserID(c), groupID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *httpHandler) handleDeleteGroup(c *gin.Context) {
	groupID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.deps.Groups.Delete(c.Request.Context(), h.currentUserID(c), groupID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *httpHandler) handleLeaveGroup(c *gin.Context) {
	groupID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.deps.Groups.Leave(c.Request.Context(), h.currentUserID(c), groupID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *httpHandler) handleGroupRanking(c *gin.Context) {
	groupID, ok := pathID(c)
	if !ok {
		return
	}
	rows, err := h.deps.Groups.Ranking(c.Request.Context(), h.currentUserID(c), groupID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": rows})
}

func (h *httpHandler) handleGlobalGroupRanking(c *gin.Context) {
	rows, err := h.deps.Groups.GlobalRanking(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": rows})
}

type createGroupChallengeRequestPayload struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	TargetMode  string    `json:"target_mode"`
	GoalType    string    `json:"goal_type"`
	GoalTarget  float64   `json:"goal_target"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Reward      string    `json:"reward"`
}

func (h *httpHandler) handleCreateGroupChallenge(c *gin.Context) {
	groupID, ok := pathID(c)
	if !ok {
		return
	}
	var request createGroupChallengeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	targetMode, err := carbon.ParseTargetMode(request.TargetMode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_target_mode"})
		return
	}

	challenge, err := h.deps.GroupChallenges.CreateChallenge(c.Request.Context(), h.currentUserID(c), groupID,
		groups.ChallengeInput{
			Title:           request.Title,
			Description:     request.Description,
			TargetMode:      targetMode,
			GoalType:        challenges.GoalType(request.GoalType),
			GoalTargetValue: request.GoalTarget,
			StartAt:         request.StartAt,
			EndAt:           request.EndAt,
			Reward:          request.Reward,
		})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"group_challenge_id": challenge.ID})
}

func (h *httpHandler) handleListGroupChallenges(c *gin.Context) {
	groupID, ok := pathID(c)
	if !ok {
		return
	}
	views, err := h.deps.GroupChallenges.ListChallenges(c.Request.Context(), h.currentUserID(c), groupID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": views})
}

func (h *httpHandler) handleGroupChallengeDetails(c *gin.Context) {
	challengeID, ok := pathID(c)
	if !ok {
		return
	}
	view, participants, err := h.deps.GroupChallenges.ChallengeDetails(c.Request.Context(), h.currentUserID(c), challengeID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenge": view, "participants": participants})
}

func (h *httpHandler) handleJoinGroupChallenge(c *gin.Context) {
	challengeID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.deps.GroupChallenges.JoinChallenge(c.Request.Context(), h.currentUserID(c), challengeID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "joined"})
}
