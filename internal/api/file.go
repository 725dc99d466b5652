package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echosync/internal/middleware"
	"github.com/lalith-99/echosync/internal/repository"
	"go.uber.org/zap"
)

type FileHandler struct {
	repo   repository.FileRepository
	access *ChannelAccess
	logger *zap.Logger
}

func NewFileHandler(repo repository.FileRepository, access *ChannelAccess, logger *zap.Logger) *FileHandler {
	return &FileHandler{repo: repo, access: access, logger: logger}
}

// ListByChannel handles GET /v1/channels/:id/files?limit=
//
// Files come newest first; limit defaults to 50, capped at 100.
func (h *FileHandler) ListByChannel(c *gin.Context) {
	channelID, ok := parseID(c, "id", "channel")
	if !ok {
		return
	}

	limit := defaultPageLimit
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
		limit = min(n, maxPageLimit)
	}

	ctx := c.Request.Context()
	if _, err := h.access.CanRead(ctx, middleware.GetWorkspaceID(c), middleware.GetUserID(c), channelID); err != nil {
		abortAccess(c, h.logger, err)
		return
	}

	files, err := h.repo.ListByChannel(ctx, channelID, limit)
	if err != nil {
		h.logger.Error("failed to list files",
			zap.String("channel_id", channelID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list files"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": files})
}
