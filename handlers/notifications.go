package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tutorhub/signaling/middleware"
	"tutorhub/signaling/models"
	"tutorhub/signaling/services"
	"tutorhub/signaling/utils"
)

type NotificationHandler struct {
	notifications services.NotificationStore
	logger        *utils.Logger
}

func NewNotificationHandler(notifications services.NotificationStore, logger *utils.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		logger:        logger.With("handler", "notifications"),
	}
}

type NotificationListResponse struct {
	Notifications []models.Notification `json:"notifications"`
	Count         int                   `json:"count"`
}

func (h *NotificationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	notifications := rg.Group("/notifications")
	notifications.GET("", h.List)
	notifications.GET("/unread-count", h.UnreadCount)
	notifications.PUT("/read-all", h.MarkAllRead)
	notifications.PUT("/:id/read", h.MarkRead)
	notifications.PUT("/:id/seen", h.MarkSeen)
}

// List handles GET /api/v1/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"
	list, err := h.notifications.List(c.Request.Context(), middleware.UserID(c), unreadOnly, queryLimit(c, 50, 200))
	if err != nil {
		respondError(c, h.logger, "Failed to fetch notifications", err)
		return
	}
	c.JSON(http.StatusOK, NotificationListResponse{Notifications: list, Count: len(list)})
}

// UnreadCount handles GET /api/v1/notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to count notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// MarkRead handles PUT /api/v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		respondError(c, h.logger, "Failed to mark notification read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

// MarkSeen handles PUT /api/v1/notifications/:id/seen
func (h *NotificationHandler) MarkSeen(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.notifications.MarkSeen(c.Request.Context(), id, middleware.UserID(c)); err != nil {
		respondError(c, h.logger, "Failed to mark notification seen", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as seen"})
}

// MarkAllRead handles PUT /api/v1/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	marked, err := h.notifications.MarkAllRead(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, h.logger, "Failed to mark notifications read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}
