package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tutorhub/signaling/services"
	"tutorhub/signaling/utils"
)

// statusFor maps coordinator and store errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidMessage), errors.Is(err, services.ErrSelfTarget):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrCallAlreadyActive),
		errors.Is(err, services.ErrAlreadyTerminal),
		errors.Is(err, services.ErrInvalidTransition),
		errors.Is(err, services.ErrStaleState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, logger *utils.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, "error", err)
		c.JSON(status, gin.H{"error": msg, "code": services.ErrorCode(err)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": services.ErrorCode(err)})
}

func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name, "code": services.CodeInvalidMessage})
		return uuid.Nil, false
	}
	return id, true
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit < 1 || limit > max {
		return def
	}
	return limit
}
