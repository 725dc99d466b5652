package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echosync/internal/events"
	"github.com/lalith-99/echosync/internal/middleware"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/lalith-99/echosync/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// MessageHandler serves message reads and writes. Every committed write is
// published so subscribed clients converge without refetching.
type MessageHandler struct {
	repo      repository.MessageRepository
	access    *ChannelAccess
	publisher events.Publisher
	logger    *zap.Logger
}

func NewMessageHandler(
	repo repository.MessageRepository,
	access *ChannelAccess,
	publisher events.Publisher,
	logger *zap.Logger,
) *MessageHandler {
	return &MessageHandler{repo: repo, access: access, publisher: publisher, logger: logger}
}

type createMessageRequest struct {
	Content         string              `json:"content"`
	ParentMessageID string              `json:"parent_message_id"`
	ClientToken     string              `json:"client_token" binding:"max=64"`
	Attachments     []models.Attachment `json:"attachments" binding:"max=10,dive"`
}

type createMessageResponse struct {
	ID      string          `json:"id"`
	Message *models.Message `json:"message"`
}

type listMessagesResponse struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

type updateMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// Create handles POST /v1/channels/:id/messages
func (h *MessageHandler) Create(c *gin.Context) {
	channelID, ok := parseID(c, "id", "channel")
	if !ok {
		return
	}
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message needs content or an attachment"})
		return
	}

	nm := repository.NewMessage{
		ChannelID:   channelID,
		UserID:      middleware.GetUserID(c),
		Content:     req.Content,
		ClientToken: req.ClientToken,
		Attachments: req.Attachments,
	}
	if req.ParentMessageID != "" {
		parentID, err := uuid.Parse(req.ParentMessageID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parent_message_id"})
			return
		}
		nm.ParentID = &parentID
	}

	ctx := c.Request.Context()
	if _, err := h.access.CanWrite(ctx, middleware.GetWorkspaceID(c), nm.UserID, channelID); err != nil {
		abortAccess(c, h.logger, err)
		return
	}

	msg, err := h.repo.Create(ctx, nm)
	switch {
	case errors.Is(err, repository.ErrParentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "parent message not found"})
		return
	case errors.Is(err, repository.ErrNestedThread):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot reply to a reply"})
		return
	case err != nil:
		h.logger.Error("failed to create message",
			zap.String("channel_id", channelID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create message"})
		return
	}

	h.publish(ctx, events.MessageNew{Message: *msg})
	if nm.ParentID != nil {
		h.publishThreadParent(ctx, *nm.ParentID)
	}

	c.JSON(http.StatusCreated, createMessageResponse{ID: msg.ID, Message: msg})
}

// List handles GET /v1/channels/:id/messages
//
// Query parameters:
//   - before_id, before_ts: keyset cursor, given together. Only messages
//     strictly older than (before_ts, before_id) are returned.
//   - limit: page size, default 50, capped at 100.
//   - parent_id: list a thread's replies instead of top-level messages.
//
// Messages come back newest first.
func (h *MessageHandler) List(c *gin.Context) {
	channelID, ok := parseID(c, "id", "channel")
	if !ok {
		return
	}

	q := repository.ListQuery{Limit: defaultPageLimit}

	beforeID, beforeTS := c.Query("before_id"), c.Query("before_ts")
	if (beforeID == "") != (beforeTS == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "before_id and before_ts must be given together"})
		return
	}
	if beforeID != "" {
		id, err := uuid.Parse(beforeID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before_id' parameter"})
			return
		}
		ts, err := time.Parse(time.RFC3339Nano, beforeTS)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before_ts' parameter"})
			return
		}
		q.Before = &repository.Cursor{ID: id, CreatedAt: ts}
	}

	if l := c.Query("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
		q.Limit = min(limit, maxPageLimit)
	}

	if p := c.Query("parent_id"); p != "" {
		parentID, err := uuid.Parse(p)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'parent_id' parameter"})
			return
		}
		q.ParentID = &parentID
	}

	ctx := c.Request.Context()
	if _, err := h.access.CanRead(ctx, middleware.GetWorkspaceID(c), middleware.GetUserID(c), channelID); err != nil {
		abortAccess(c, h.logger, err)
		return
	}

	messages, hasMore, err := h.repo.ListByChannel(ctx, channelID, q)
	if err != nil {
		h.logger.Error("failed to list messages",
			zap.String("channel_id", channelID.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	c.JSON(http.StatusOK, listMessagesResponse{Messages: messages, HasMore: hasMore})
}

// Update handles PATCH /v1/messages/:id. Only the author may edit.
func (h *MessageHandler) Update(c *gin.Context) {
	var req updateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, ok := h.loadOwn(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	updated, err := h.repo.UpdateContent(ctx, uuid.MustParse(msg.ID), req.Content)
	if err != nil {
		h.logger.Error("failed to update message", zap.String("message_id", msg.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update message"})
		return
	}
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	h.publish(ctx, events.MessageUpdate{Patch: models.MessagePatch{
		ID:        updated.ID,
		ChannelID: updated.ChannelID,
		Version:   updated.Version,
		Content:   &updated.Content,
		Edited:    &updated.Edited,
	}})
	c.JSON(http.StatusOK, updated)
}

// Delete handles DELETE /v1/messages/:id. Only the author may delete.
// Deleting a thread parent removes its replies, and each removal is
// published on its own.
func (h *MessageHandler) Delete(c *gin.Context) {
	msg, ok := h.loadOwn(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	deleted, err := h.repo.Delete(ctx, uuid.MustParse(msg.ID))
	if err != nil {
		h.logger.Error("failed to delete message", zap.String("message_id", msg.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete message"})
		return
	}
	if len(deleted) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	for _, d := range deleted {
		h.publish(ctx, events.MessageDelete{ID: d.ID, ChannelID: msg.ChannelID, Version: d.Version})
	}
	if msg.ParentID != "" {
		if parentID, err := uuid.Parse(msg.ParentID); err == nil {
			h.publishThreadParent(ctx, parentID)
		}
	}

	c.Status(http.StatusNoContent)
}

// TogglePin handles POST /v1/messages/:id/pin. Any channel member may pin.
func (h *MessageHandler) TogglePin(c *gin.Context) {
	msg, ok := h.load(c, true)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	updated, err := h.repo.TogglePin(ctx, uuid.MustParse(msg.ID))
	if err != nil {
		h.logger.Error("failed to toggle pin", zap.String("message_id", msg.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to toggle pin"})
		return
	}
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}

	h.publish(ctx, events.MessageUpdate{Patch: models.MessagePatch{
		ID:        updated.ID,
		ChannelID: updated.ChannelID,
		Version:   updated.Version,
		Pinned:    &updated.Pinned,
	}})
	c.JSON(http.StatusOK, updated)
}

// load resolves :id to a message the caller may read, or may write when
// write is set. Messages in channels the caller cannot see are reported
// as not found.
func (h *MessageHandler) load(c *gin.Context, write bool) (*models.Message, bool) {
	messageID, ok := parseID(c, "id", "message")
	if !ok {
		return nil, false
	}
	ctx := c.Request.Context()

	msg, err := h.repo.GetByID(ctx, messageID)
	if err != nil {
		h.logger.Error("failed to get message", zap.String("message_id", messageID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get message"})
		return nil, false
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return nil, false
	}
	channelID, err := uuid.Parse(msg.ChannelID)
	if err != nil {
		h.logger.Error("message has invalid channel id", zap.String("message_id", msg.ID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get message"})
		return nil, false
	}

	check := h.access.CanRead
	if write {
		check = h.access.CanWrite
	}
	if _, err := check(ctx, middleware.GetWorkspaceID(c), middleware.GetUserID(c), channelID); err != nil {
		if errors.Is(err, ErrChannelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return nil, false
		}
		abortAccess(c, h.logger, err)
		return nil, false
	}
	return msg, true
}

// loadOwn is load for author-only actions.
func (h *MessageHandler) loadOwn(c *gin.Context) (*models.Message, bool) {
	msg, ok := h.load(c, false)
	if !ok {
		return nil, false
	}
	if msg.AuthorID != middleware.GetUserID(c).String() {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the author can change this message"})
		return nil, false
	}
	return msg, true
}

// publishThreadParent announces a thread parent's new reply counters.
func (h *MessageHandler) publishThreadParent(ctx context.Context, parentID uuid.UUID) {
	parent, err := h.repo.GetByID(ctx, parentID)
	if err != nil || parent == nil {
		h.logger.Warn("thread parent not reloaded",
			zap.String("message_id", parentID.String()),
			zap.Error(err),
		)
		return
	}
	h.publish(ctx, events.MessageUpdate{Patch: models.MessagePatch{
		ID:               parent.ID,
		ChannelID:        parent.ChannelID,
		Version:          parent.Version,
		IsThreadParent:   &parent.IsThreadParent,
		ThreadReplyCount: &parent.ThreadReplyCount,
	}})
}

// publish never fails the request: the write is already committed, and
// clients converge on their next history load.
func (h *MessageHandler) publish(ctx context.Context, ev events.Event) {
	if err := h.publisher.Publish(ctx, ev); err != nil {
		h.logger.Warn("failed to publish event",
			zap.String("event", ev.Name()),
			zap.String("channel_id", ev.Channel()),
			zap.Error(err),
		)
	}
}
