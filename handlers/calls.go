package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tutorhub/signaling/middleware"
	"tutorhub/signaling/models"
	"tutorhub/signaling/services"
	"tutorhub/signaling/utils"
)

// ICEProvider yields the traversal servers handed to a caller before it
// opens a peer connection.
type ICEProvider interface {
	ICEServers(ctx context.Context, userID string) ([]models.ICEServer, bool)
}

type CallHandler struct {
	coord  *services.Coordinator
	calls  services.CallStore
	ice    ICEProvider
	logger *utils.Logger
}

func NewCallHandler(coord *services.Coordinator, calls services.CallStore, ice ICEProvider, logger *utils.Logger) *CallHandler {
	return &CallHandler{
		coord:  coord,
		calls:  calls,
		ice:    ice,
		logger: logger.With("handler", "calls"),
	}
}

type InitiateCallRequest struct {
	ReceiverID string          `json:"receiverId" binding:"required"`
	Type       models.CallType `json:"type"`
	SessionID  string          `json:"sessionId"`
}

type CallActionRequest struct {
	Reason string `json:"reason"`
}

type CallListResponse struct {
	Calls []models.Call `json:"calls"`
	Count int           `json:"count"`
}

// RegisterRoutes mounts the call endpoints on an authenticated group.
func (h *CallHandler) RegisterRoutes(rg *gin.RouterGroup) {
	calls := rg.Group("/calls")
	calls.POST("/initiate", h.Initiate)
	calls.GET("/history", h.History)
	calls.GET("/active", h.Active)
	calls.GET("/ice-servers", h.ICEServers)
	calls.GET("/:id", h.Get)
	calls.PUT("/:id/answer", h.Answer)
	calls.PUT("/:id/reject", h.Reject)
	calls.PUT("/:id/end", h.End)
	calls.PUT("/:id/missed", h.Missed)
}

// Initiate handles POST /api/v1/calls/initiate
func (h *CallHandler) Initiate(c *gin.Context) {
	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": services.CodeInvalidMessage})
		return
	}

	call, err := h.coord.InitiateCall(c.Request.Context(), services.CallRequest{
		CallerID:   middleware.UserID(c),
		ReceiverID: req.ReceiverID,
		Type:       req.Type,
		SessionID:  req.SessionID,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to initiate call", err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

// Answer handles PUT /api/v1/calls/:id/answer
func (h *CallHandler) Answer(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id uuid.UUID, actor, _ string) (*models.Call, error) {
		return h.coord.AnswerCall(ctx, id, actor)
	})
}

// Reject handles PUT /api/v1/calls/:id/reject
func (h *CallHandler) Reject(c *gin.Context) {
	h.transition(c, h.coord.RejectCall)
}

// End handles PUT /api/v1/calls/:id/end
func (h *CallHandler) End(c *gin.Context) {
	h.transition(c, h.coord.EndCall)
}

// Missed handles PUT /api/v1/calls/:id/missed
func (h *CallHandler) Missed(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id uuid.UUID, actor, _ string) (*models.Call, error) {
		return h.coord.MissCall(ctx, id, actor)
	})
}

func (h *CallHandler) transition(c *gin.Context, apply func(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Call, error)) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req CallActionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": services.CodeInvalidMessage})
		return
	}

	call, err := apply(c.Request.Context(), id, middleware.UserID(c), req.Reason)
	if err != nil {
		respondError(c, h.logger, "Failed to update call", err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// Get handles GET /api/v1/calls/:id
func (h *CallHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	call, err := h.calls.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to fetch call", err)
		return
	}
	if !call.IsParticipant(middleware.UserID(c)) {
		respondError(c, h.logger, "Failed to fetch call", services.ErrUnauthorized)
		return
	}
	c.JSON(http.StatusOK, call)
}

// History handles GET /api/v1/calls/history
func (h *CallHandler) History(c *gin.Context) {
	calls, err := h.calls.History(c.Request.Context(), middleware.UserID(c), queryLimit(c, 20, 100))
	if err != nil {
		respondError(c, h.logger, "Failed to fetch call history", err)
		return
	}
	c.JSON(http.StatusOK, CallListResponse{Calls: calls, Count: len(calls)})
}

// Active handles GET /api/v1/calls/active
func (h *CallHandler) Active(c *gin.Context) {
	calls, err := h.calls.ActiveForUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to fetch active calls", err)
		return
	}
	c.JSON(http.StatusOK, CallListResponse{Calls: calls, Count: len(calls)})
}

// ICEServers handles GET /api/v1/calls/ice-servers
func (h *CallHandler) ICEServers(c *gin.Context) {
	servers, fallback := h.ice.ICEServers(c.Request.Context(), middleware.UserID(c))
	c.JSON(http.StatusOK, models.ICEServersResponse{ICEServers: servers, Fallback: fallback})
}
