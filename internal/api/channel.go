package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echosync/internal/middleware"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/lalith-99/echosync/internal/repository"
	"go.uber.org/zap"
)

// ChannelHandler depends on repository interfaces only, so tests can pass
// in-memory fakes.
type ChannelHandler struct {
	repo    repository.ChannelRepository
	members repository.MembershipRepository
	access  *ChannelAccess
	logger  *zap.Logger
}

func NewChannelHandler(
	repo repository.ChannelRepository,
	members repository.MembershipRepository,
	access *ChannelAccess,
	logger *zap.Logger,
) *ChannelHandler {
	return &ChannelHandler{repo: repo, members: members, access: access, logger: logger}
}

// createChannelRequest is separate from models.Channel so clients cannot
// set the id, workspace or timestamps.
type createChannelRequest struct {
	Name        string `json:"name" binding:"required,max=80"`
	Description string `json:"description" binding:"max=250"`
	IsPrivate   bool   `json:"is_private"`
}

// Create handles POST /v1/channels. The creator joins as admin.
func (h *ChannelHandler) Create(c *gin.Context) {
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	workspaceID := middleware.GetWorkspaceID(c)
	userID := middleware.GetUserID(c)

	ch, err := h.repo.Create(ctx, workspaceID, req.Name, req.Description, req.IsPrivate)
	if err != nil {
		h.logger.Error("failed to create channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create channel"})
		return
	}
	if err := h.members.AddMember(ctx, ch.ID, userID, "admin"); err != nil {
		h.logger.Error("failed to add channel creator",
			zap.String("channel_id", ch.ID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create channel"})
		return
	}

	c.JSON(http.StatusCreated, ch)
}

// List handles GET /v1/channels. Private channels appear only to their
// members.
func (h *ChannelHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	workspaceID := middleware.GetWorkspaceID(c)
	userID := middleware.GetUserID(c)

	channels, err := h.repo.ListByWorkspace(ctx, workspaceID)
	if err != nil {
		h.logger.Error("failed to list channels", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list channels"})
		return
	}

	visible := make([]models.Channel, 0, len(channels))
	for _, ch := range channels {
		if ch.IsPrivate {
			ok, err := h.members.IsMember(ctx, ch.ID, userID)
			if err != nil {
				h.logger.Error("failed to check membership", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list channels"})
				return
			}
			if !ok {
				continue
			}
		}
		visible = append(visible, ch)
	}

	c.JSON(http.StatusOK, visible)
}

// GetByID handles GET /v1/channels/:id
func (h *ChannelHandler) GetByID(c *gin.Context) {
	channelID, ok := parseID(c, "id", "channel")
	if !ok {
		return
	}

	ch, err := h.access.CanRead(c.Request.Context(), middleware.GetWorkspaceID(c), middleware.GetUserID(c), channelID)
	if err != nil {
		abortAccess(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, ch)
}
