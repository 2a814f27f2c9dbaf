package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tutorhub/signaling/models"
	"tutorhub/signaling/services"
	"tutorhub/signaling/utils"
)

// PresenceLookup reads the shared presence record kept by the mirror. It is
// optional; without it last-seen times are not reported.
type PresenceLookup interface {
	Status(ctx context.Context, userID string) (*models.PresenceRecord, error)
}

type PresenceHandler struct {
	coord  *services.Coordinator
	lookup PresenceLookup
	logger *utils.Logger
}

func NewPresenceHandler(coord *services.Coordinator, lookup PresenceLookup, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{
		coord:  coord,
		lookup: lookup,
		logger: logger.With("handler", "presence"),
	}
}

func (h *PresenceHandler) RegisterRoutes(rg *gin.RouterGroup) {
	presence := rg.Group("/presence")
	presence.GET("/online", h.Online)
	presence.GET("/:userId", h.Status)
}

// Online handles GET /api/v1/presence/online
func (h *PresenceHandler) Online(c *gin.Context) {
	snapshot := h.coord.Online()
	c.JSON(http.StatusOK, models.OnlineUsersResponse{
		Count:   len(snapshot.Users),
		Users:   snapshot.Users,
		Version: snapshot.Version,
	})
}

// Status handles GET /api/v1/presence/:userId
func (h *PresenceHandler) Status(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("userId"))
	resp := models.PresenceResponse{
		UserID:   userID,
		IsOnline: h.coord.IsOnline(userID),
	}

	if h.lookup != nil {
		record, err := h.lookup.Status(c.Request.Context(), userID)
		switch {
		case err != nil:
			h.logger.Warn("Failed to read presence record", "user_id", userID, "error", err)
		case record != nil && !record.LastSeen.IsZero():
			lastSeen := record.LastSeen
			resp.LastSeen = &lastSeen
		}
	}
	c.JSON(http.StatusOK, resp)
}
