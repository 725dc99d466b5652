package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/lalith-99/echosync/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotMember       = errors.New("not a member of this channel")
)

// ChannelAccess answers who may read or write a channel.
//
// Public channels are readable by everyone in the workspace; private ones
// by members only. Writing always requires membership. A channel in
// another workspace is reported as not found, never as forbidden.
type ChannelAccess struct {
	channels repository.ChannelRepository
	members  repository.MembershipRepository
}

func NewChannelAccess(channels repository.ChannelRepository, members repository.MembershipRepository) *ChannelAccess {
	return &ChannelAccess{channels: channels, members: members}
}

func (a *ChannelAccess) CanRead(ctx context.Context, workspaceID, userID, channelID uuid.UUID) (*models.Channel, error) {
	ch, err := a.channel(ctx, workspaceID, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.IsPrivate {
		return ch, nil
	}
	return ch, a.member(ctx, channelID, userID)
}

func (a *ChannelAccess) CanWrite(ctx context.Context, workspaceID, userID, channelID uuid.UUID) (*models.Channel, error) {
	ch, err := a.channel(ctx, workspaceID, channelID)
	if err != nil {
		return nil, err
	}
	return ch, a.member(ctx, channelID, userID)
}

func (a *ChannelAccess) channel(ctx context.Context, workspaceID, channelID uuid.UUID) (*models.Channel, error) {
	ch, err := a.channels.GetByID(ctx, workspaceID, channelID)
	if err != nil {
		return nil, fmt.Errorf("load channel: %w", err)
	}
	if ch == nil {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

func (a *ChannelAccess) member(ctx context.Context, channelID, userID uuid.UUID) error {
	ok, err := a.members.IsMember(ctx, channelID, userID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// abortAccess writes the response for a failed access check.
func abortAccess(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, ErrChannelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
	case errors.Is(err, ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this channel"})
	default:
		logger.Error("channel access check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseID(c *gin.Context, param, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + what + " id"})
		return uuid.Nil, false
	}
	return id, true
}
