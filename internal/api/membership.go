package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echosync/internal/middleware"
	"github.com/lalith-99/echosync/internal/repository"
	"go.uber.org/zap"
)

type MembershipHandler struct {
	repo   repository.MembershipRepository
	access *ChannelAccess
	logger *zap.Logger
}

func NewMembershipHandler(repo repository.MembershipRepository, access *ChannelAccess, logger *zap.Logger) *MembershipHandler {
	return &MembershipHandler{repo: repo, access: access, logger: logger}
}

// Join handles POST /v1/channels/:id/join
//
// Joining is a user acting on themselves, so the role is always "member".
// Private channels cannot be self-joined.
func (h *MembershipHandler) Join(c *gin.Context) {
	channelID, ok := parseID(c, "id", "channel")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)

	// CanRead on a public channel only needs the channel to exist.
	ch, err := h.access.CanRead(ctx, middleware.GetWorkspaceID(c), userID, channelID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			c.JSON(http.StatusForbidden, gin.H{"error": "private channel requires an invite"})
			return
		}
		abortAccess(c, h.logger, err)
		return
	}

	if err := h.repo.AddMember(ctx, ch.ID, userID, "member"); err != nil {
		h.logger.Error("failed to join channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join channel"})
		return
	}

	c.Status(http.StatusNoContent)
}

// Leave handles POST /v1/channels/:id/leave
func (h *MembershipHandler) Leave(c *gin.Context) {
	channelID, ok := parseID(c, "id", "channel")
	if !ok {
		return
	}

	if err := h.repo.RemoveMember(c.Request.Context(), channelID, middleware.GetUserID(c)); err != nil {
		h.logger.Error("failed to leave channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave channel"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListMembers handles GET /v1/channels/:id/members
func (h *MembershipHandler) ListMembers(c *gin.Context) {
	channelID, ok := parseID(c, "id", "channel")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := h.access.CanRead(ctx, middleware.GetWorkspaceID(c), middleware.GetUserID(c), channelID); err != nil {
		abortAccess(c, h.logger, err)
		return
	}

	members, err := h.repo.ListMembers(ctx, channelID)
	if err != nil {
		h.logger.Error("failed to list members", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list members"})
		return
	}

	c.JSON(http.StatusOK, members)
}
