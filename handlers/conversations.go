package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tutorhub/signaling/middleware"
	"tutorhub/signaling/models"
	"tutorhub/signaling/services"
	"tutorhub/signaling/utils"
)

type ConversationHandler struct {
	coord         *services.Coordinator
	conversations services.ConversationStore
	logger        *utils.Logger
}

func NewConversationHandler(coord *services.Coordinator, conversations services.ConversationStore, logger *utils.Logger) *ConversationHandler {
	return &ConversationHandler{
		coord:         coord,
		conversations: conversations,
		logger:        logger.With("handler", "conversations"),
	}
}

type ConversationListResponse struct {
	Conversations []models.Conversation `json:"conversations"`
	Count         int                   `json:"count"`
}

type MessageListResponse struct {
	Messages []models.Message `json:"messages"`
	Count    int              `json:"count"`
}

func (h *ConversationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	conversations := rg.Group("/conversations")
	conversations.GET("", h.List)
	conversations.POST("/with/:userId", h.OpenWith)
	conversations.GET("/:id/messages", h.Messages)
	conversations.PUT("/:id/read", h.MarkRead)
	conversations.DELETE("/:id", h.Delete)
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	conversations, err := h.conversations.ListForUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to fetch conversations", err)
		return
	}
	c.JSON(http.StatusOK, ConversationListResponse{Conversations: conversations, Count: len(conversations)})
}

// OpenWith handles POST /api/v1/conversations/with/:userId
func (h *ConversationHandler) OpenWith(c *gin.Context) {
	userID := middleware.UserID(c)
	peer := strings.TrimSpace(c.Param("userId"))
	if peer == "" {
		respondError(c, h.logger, "Failed to open conversation", services.ErrInvalidMessage)
		return
	}
	if peer == userID {
		respondError(c, h.logger, "Failed to open conversation", services.ErrSelfTarget)
		return
	}

	conv, err := h.conversations.FindOrCreate(c.Request.Context(), userID, peer)
	if err != nil {
		respondError(c, h.logger, "Failed to open conversation", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// Messages handles GET /api/v1/conversations/:id/messages
func (h *ConversationHandler) Messages(c *gin.Context) {
	conv, ok := h.participantConversation(c)
	if !ok {
		return
	}

	var before int64
	if raw := c.Query("before"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seq < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid before", "code": services.CodeInvalidMessage})
			return
		}
		before = seq
	}

	messages, err := h.conversations.Messages(c.Request.Context(), conv.ID, queryLimit(c, 50, 200), before)
	if err != nil {
		respondError(c, h.logger, "Failed to fetch messages", err)
		return
	}
	c.JSON(http.StatusOK, MessageListResponse{Messages: messages, Count: len(messages)})
}

// MarkRead handles PUT /api/v1/conversations/:id/read
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	marked, err := h.coord.MarkConversationRead(c.Request.Context(), id, middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to mark conversation read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// Delete handles DELETE /api/v1/conversations/:id
func (h *ConversationHandler) Delete(c *gin.Context) {
	conv, ok := h.participantConversation(c)
	if !ok {
		return
	}

	userID := middleware.UserID(c)
	if err := h.conversations.SoftDelete(c.Request.Context(), conv.ID, userID); err != nil {
		respondError(c, h.logger, "Failed to delete conversation", err)
		return
	}

	h.logger.Info("Conversation deleted", "conversation_id", conv.ID, "user_id", userID)
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted"})
}

func (h *ConversationHandler) participantConversation(c *gin.Context) (*models.Conversation, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}

	conv, err := h.conversations.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to fetch conversation", err)
		return nil, false
	}
	if !conv.HasParticipant(middleware.UserID(c)) {
		respondError(c, h.logger, "Failed to fetch conversation", services.ErrUnauthorized)
		return nil, false
	}
	return conv, true
}
