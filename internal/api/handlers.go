package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"userchat/internal/metrics"
	"userchat/internal/models"
	"userchat/internal/service/assistant"
	"userchat/internal/worker"
)

const defaultTurnTimeout = 2 * time.Minute

type SessionManager interface {
	Turn(worker.TurnRequest) (*worker.TurnResult, error)
	History(sessionID string) ([]models.Message, bool)
	Purge(ctx context.Context, sessionID string) error
}

type UserLister interface {
	ListUsers(ctx context.Context) ([]models.User, error)
}

// Handler wires HTTP routes to the chat workflow and the session workers.
type Handler struct {
	workflow     worker.Invoker
	sessions     SessionManager
	users        UserLister
	configurable map[string]any
	turnTimeout  time.Duration
	log          zerolog.Logger
}

// NewHandler constructs a Handler. configurable is the process-wide overlay
// that each request's own overlay is layered on.
func NewHandler(workflow worker.Invoker, sessions SessionManager, users UserLister, configurable map[string]any, log zerolog.Logger) *Handler {
	return &Handler{
		workflow:     workflow,
		sessions:     sessions,
		users:        users,
		configurable: configurable,
		turnTimeout:  defaultTurnTimeout,
		log:          log.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.log))
	router.GET("/healthz", h.healthz)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	api.POST("/invoke", h.invoke)
	api.GET("/users", h.listUsers)
	api.POST("/sessions", h.createSession)

	sessionRoutes := api.Group("/sessions/:session_id")
	sessionRoutes.Use(requireSession())
	sessionRoutes.POST("/messages", h.sendMessage)
	sessionRoutes.GET("/messages", h.getMessages)
	sessionRoutes.DELETE("", h.deleteSession)
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type invokeRequest struct {
	Messages       []models.Message `json:"messages"`
	CurrentMessage string           `json:"current_message"`
	Configurable   map[string]any   `json:"configurable"`
}

// invoke runs one stateless turn: the caller owns the transcript.
func (h *Handler) invoke(c *gin.Context) {
	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	configurable, ok := h.overlay(c, req.Configurable)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.turnTimeout)
	defer cancel()

	state := &models.State{Messages: req.Messages, CurrentMessage: req.CurrentMessage}
	delta, err := h.workflow.Invoke(ctx, state, configurable)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": delta.Messages})
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if users == nil {
		users = []models.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *Handler) createSession(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"session_id": uuid.NewString()})
}

type messageRequest struct {
	Content      string         `json:"content" binding:"required"`
	Configurable map[string]any `json:"configurable"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	sessionID, _ := SessionIDFromContext(c)
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	configurable, ok := h.overlay(c, req.Configurable)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.turnTimeout)
	defer cancel()

	res, err := h.sessions.Turn(worker.TurnRequest{
		Context:      ctx,
		SessionID:    sessionID,
		Content:      req.Content,
		Configurable: configurable,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"reply":      res.Reply,
		"messages":   res.Messages,
	})
}

func (h *Handler) getMessages(c *gin.Context) {
	sessionID, _ := SessionIDFromContext(c)
	history, _ := h.sessions.History(sessionID)
	if history == nil {
		history = []models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "messages": history})
}

func (h *Handler) deleteSession(c *gin.Context) {
	sessionID, _ := SessionIDFromContext(c)
	if err := h.sessions.Purge(c.Request.Context(), sessionID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// overlay layers the request's configurable on the process-wide one and
// rejects values that cannot be decoded into the node configuration.
func (h *Handler) overlay(c *gin.Context, requested map[string]any) (map[string]any, bool) {
	merged := assistant.MergeConfigurable(h.configurable, requested)
	if _, err := assistant.ResolveConfigurable(merged); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return merged, true
}

func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	status := http.StatusBadGateway
	msg := err.Error()
	switch {
	case errors.Is(err, worker.ErrQueueFull):
		status = http.StatusTooManyRequests
		msg = "session is busy, please retry"
	case errors.Is(err, worker.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, assistant.ErrNilState), errors.Is(err, worker.ErrSessionRequired):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": msg})
}
