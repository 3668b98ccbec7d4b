package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/greenloop-labs/greenloop/backend/internal/auth"
	"github.com/greenloop-labs/greenloop/backend/internal/challenges"
	"github.com/greenloop-labs/greenloop/backend/internal/chat"
	"github.com/greenloop-labs/greenloop/backend/internal/credits"
	"github.com/greenloop-labs/greenloop/backend/internal/garden"
	"github.com/greenloop-labs/greenloop/backend/internal/groups"
	"github.com/greenloop-labs/greenloop/backend/internal/mobility"
	"github.com/greenloop-labs/greenloop/backend/internal/sessions"
	"github.com/greenloop-labs/greenloop/backend/internal/users"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "greenloop_user_id"
	roleContextKey   = "greenloop_role"
)

var (
	errMissingTokenIssuer     = errors.New("token issuer dependency required")
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingMobilityService = errors.New("mobility service dependency required")
	errMissingCreditsService  = errors.New("credits service dependency required")
	errMissingGardenService   = errors.New("garden service dependency required")
	errMissingChallengeEngine = errors.New("challenge service dependency required")
	errMissingGroupsService   = errors.New("groups service dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// SessionStore is the server-side session surface backing the session
// endpoints. Implemented by sessions.Store when redis is configured.
type SessionStore interface {
	Create(ctx context.Context, userID uint64, username, role string) (*sessions.Session, error)
	Get(ctx context.Context, sessionID string) (*sessions.Session, error)
	Update(ctx context.Context, session *sessions.Session) error
	Extend(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
}

// Dependencies wires the HTTP surface to the domain services. Sessions,
// Chatbot and Dispatcher are optional; their routes are simply absent when
// the backing infrastructure is not configured.
type Dependencies struct {
	TokenIssuer     *auth.TokenIssuer
	Users           *users.Service
	Mobility        *mobility.Service
	Credits         *credits.Service
	Garden          *garden.Service
	Challenges      *challenges.Service
	Groups          *groups.Service
	GroupChallenges *groups.ChallengeService
	Sessions        SessionStore
	Chatbot         *chat.Orchestrator
	Dispatcher      *FeedDispatcher
	Logger          *zap.Logger
}

// NewHTTPHandler assembles the router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenIssuer == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Mobility == nil {
		return nil, errMissingMobilityService
	}
	if deps.Credits == nil {
		return nil, errMissingCreditsService
	}
	if deps.Garden == nil {
		return nil, errMissingGardenService
	}
	if deps.Challenges == nil {
		return nil, errMissingChallengeEngine
	}
	if deps.Groups == nil || deps.GroupChallenges == nil {
		return nil, errMissingGroupsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{deps: deps, logger: logger}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	{
		protected.GET("/me", handler.handleMe)
		protected.POST("/auth/logout", handler.handleLogout)

		protected.POST("/mobility/logs", handler.handleLogTrip)
		protected.GET("/mobility/logs", handler.handleTripHistory)
		protected.GET("/mobility/summary", handler.handleTripTotals)
		protected.GET("/mobility/leaderboard", handler.handleLeaderboard)

		protected.GET("/credits/balance", handler.handleCreditBalance)
		protected.GET("/credits/history", handler.handleCreditHistory)
		protected.POST("/credits/earn", handler.handleEarnCredits)
		protected.POST("/credits/spend", handler.handleSpendCredits)

		protected.GET("/garden", handler.handleGardenStatus)
		protected.POST("/garden/water", handler.handleGardenWater)
		protected.GET("/garden/history", handler.handleGardenHistory)

		protected.GET("/challenges", handler.handleListChallenges)
		protected.POST("/challenges/:id/join", handler.handleJoinChallenge)
		protected.GET("/challenges/:id/progress", handler.handleChallengeProgress)

		protected.POST("/groups", handler.handleCreateGroup)
		protected.GET("/groups", handler.handleListGroups)
		protected.GET("/groups/ranking", handler.handleGlobalGroupRanking)
		protected.GET("/groups/:id", handler.handleGetGroup)
		protected.DELETE("/groups/:id", handler.handleDeleteGroup)
		protected.POST("/groups/:id/leave", handler.handleLeaveGroup)
		protected.GET("/groups/:id/ranking", handler.handleGroupRanking)
		protected.POST("/groups/:id/challenges", handler.handleCreateGroupChallenge)
		protected.GET("/groups/:id/challenges", handler.handleListGroupChallenges)
		protected.GET("/group-challenges/:id", handler.handleGroupChallengeDetails)
		protected.POST("/group-challenges/:id/join", handler.handleJoinGroupChallenge)

		if deps.Sessions != nil {
			protected.POST("/sessions", handler.handleCreateSession)
			protected.GET("/sessions/:id", handler.handleGetSession)
			protected.PUT("/sessions/:id", handler.handleUpdateSession)
			protected.POST("/sessions/:id/extend", handler.handleExtendSession)
			protected.DELETE("/sessions/:id", handler.handleDeleteSession)
		}
		if deps.Chatbot != nil {
			protected.POST("/chat/messages", handler.handleChatMessage)
		}
		if deps.Dispatcher != nil {
			protected.GET("/realtime/feed", handler.handleRealtimeFeed)
		}
	}

	admin := protected.Group("/admin")
	admin.Use(handler.requireAdmin)
	{
		admin.POST("/challenges", handler.handleCreateChallenge)
		admin.POST("/challenges/:id/cancel", handler.handleCancelChallenge)
		admin.POST("/credits/adjust", handler.handleAdjustCredits)
	}

	return router, nil
}

type httpHandler struct {
	deps   Dependencies
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.deps.TokenIssuer.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Set(roleContextKey, claims.Role)
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	if c.GetString(roleContextKey) != auth.RoleAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}
	c.Next()
}

func (h *httpHandler) currentUserID(c *gin.Context) uint64 {
	return c.GetUint64(userIDContextKey)
}

func pathID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// respondError maps domain sentinel errors onto HTTP statuses. Anything
// unmapped is a 500 with the detail kept out of the response body.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, users.ErrNotFound),
		errors.Is(err, challenges.ErrNotFound),
		errors.Is(err, groups.ErrNotFound),
		errors.Is(err, groups.ErrChallengeNotFound),
		errors.Is(err, groups.ErrChallengeNotJoinable),
		errors.Is(err, sessions.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, users.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, groups.ErrNotMember),
		errors.Is(err, groups.ErrNotLeader):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, users.ErrUsernameTaken),
		errors.Is(err, challenges.ErrAlreadyJoined),
		errors.Is(err, groups.ErrAlreadyParticipating),
		errors.Is(err, groups.ErrLeaderCannotLeave):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, credits.ErrInsufficientBalance):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient_balance"})
	case errors.Is(err, challenges.ErrNotJoinable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "not_joinable"})
	case errors.Is(err, users.ErrInvalidInput),
		errors.Is(err, challenges.ErrInvalidInput),
		errors.Is(err, groups.ErrInvalidInput),
		errors.Is(err, groups.ErrUnknownUsername),
		errors.Is(err, mobility.ErrInvalidTrip),
		errors.Is(err, credits.ErrNonPositivePoints):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	case errors.Is(err, chat.ErrUpstream):
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_unavailable"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
