package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/syncdesk/backend/internal/collab"
	"github.com/syncdesk/backend/internal/store"
	"github.com/syncdesk/backend/internal/users"
)

const (
	userIDContextKey     = "syncdesk_user_id"
	defaultActivityLimit = 50
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingDirectory     = errors.New("user directory dependency required")
	errMissingCoordinator   = errors.New("coordinator dependency required")
	errMissingCollabStore   = errors.New("collaboration store dependency required")
	errInvalidAuthorization = errors.New("authorization credential missing or invalid")
)

// TokenValidator validates a bearer credential and returns the subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// CollabStore covers the read-only store views the REST surface serves.
type CollabStore interface {
	ListPresence(ctx context.Context, workspaceID string) ([]store.PresenceRecord, error)
	RecentActivity(ctx context.Context, workspaceID string, limit int) ([]store.ActivityRecord, error)
}

type Dependencies struct {
	TokenManager   TokenValidator
	Directory      *users.Directory
	Coordinator    *collab.Coordinator
	Store          CollabStore
	AllowedOrigins []string
	ActivityLimit  int
	// Shutdown, when closed, makes every open socket send a going-away
	// frame and disconnect.
	Shutdown <-chan struct{}
	Logger   *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Directory == nil {
		return nil, errMissingDirectory
	}
	if deps.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if deps.Store == nil {
		return nil, errMissingCollabStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	activityLimit := deps.ActivityLimit
	if activityLimit <= 0 {
		activityLimit = defaultActivityLimit
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		directory:     deps.Directory,
		coordinator:   deps.Coordinator,
		collabStore:   deps.Store,
		activityLimit: activityLimit,
		shutdown:      deps.Shutdown,
		upgrader:      newSocketUpgrader(origins),
		logger:        logger,
	}

	router.GET("/healthz", handler.handleHealthz)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/ws", handler.handleSocket)
	protected.GET("/workspaces/:workspaceId/presence", handler.handleWorkspacePresence)
	protected.GET("/workspaces/:workspaceId/activity", handler.handleWorkspaceActivity)

	return router, nil
}

type httpHandler struct {
	tokens        TokenValidator
	directory     *users.Directory
	coordinator   *collab.Coordinator
	collabStore   CollabStore
	activityLimit int
	shutdown      <-chan struct{}
	upgrader      socketUpgrader
	logger        *zap.Logger
}

func (h *httpHandler) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type presenceEntryPayload struct {
	UserID              string `json:"user_id"`
	Status              string `json:"status"`
	CurrentPage         string `json:"current_page,omitempty"`
	LastActivitySeconds int64  `json:"last_activity_s"`
}

type presenceResponsePayload struct {
	WorkspaceID string                 `json:"workspace_id"`
	Members     []presenceEntryPayload `json:"members"`
}

func (h *httpHandler) handleWorkspacePresence(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	records, err := h.collabStore.ListPresence(c.Request.Context(), workspaceID)
	if err != nil {
		h.logger.Error("presence read failed", zap.String("workspace_id", workspaceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence_read_failed"})
		return
	}

	response := presenceResponsePayload{
		WorkspaceID: workspaceID,
		Members:     make([]presenceEntryPayload, 0, len(records)),
	}
	for _, record := range records {
		response.Members = append(response.Members, presenceEntryPayload{
			UserID:              record.UserID,
			Status:              string(record.Status),
			CurrentPage:         record.CurrentPage,
			LastActivitySeconds: record.LastActivitySeconds,
		})
	}
	c.JSON(http.StatusOK, response)
}

type activityEntryPayload struct {
	UserID            string `json:"user_id"`
	Kind              string `json:"kind"`
	Detail            string `json:"detail,omitempty"`
	OccurredAtSeconds int64  `json:"occurred_at_s"`
}

type activityResponsePayload struct {
	WorkspaceID string                 `json:"workspace_id"`
	Activity    []activityEntryPayload `json:"activity"`
}

func (h *httpHandler) handleWorkspaceActivity(c *gin.Context) {
	workspaceID := c.Param("workspaceId")
	records, err := h.collabStore.RecentActivity(c.Request.Context(), workspaceID, h.activityLimit)
	if err != nil {
		h.logger.Error("activity read failed", zap.String("workspace_id", workspaceID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activity_read_failed"})
		return
	}

	response := activityResponsePayload{
		WorkspaceID: workspaceID,
		Activity:    make([]activityEntryPayload, 0, len(records)),
	}
	for _, record := range records {
		response.Activity = append(response.Activity, activityEntryPayload{
			UserID:            record.UserID,
			Kind:              record.Kind,
			Detail:            record.DetailJSON,
			OccurredAtSeconds: record.OccurredAtSeconds,
		})
	}
	c.JSON(http.StatusOK, response)
}

// authorizeRequest accepts the credential from the Authorization header or,
// for websocket handshakes where browsers cannot set headers, from the
// token query parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		// Expired tokens are routine; anything else deserves attention.
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(c.Query("token"))
}
