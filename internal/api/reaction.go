package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echosync/internal/events"
	"github.com/lalith-99/echosync/internal/middleware"
	"github.com/lalith-99/echosync/internal/repository"
	"go.uber.org/zap"
)

// ReactionHandler reuses MessageHandler's lookup and publishing.
type ReactionHandler struct {
	*MessageHandler
	reactions repository.ReactionRepository
}

func NewReactionHandler(messages *MessageHandler, reactions repository.ReactionRepository) *ReactionHandler {
	return &ReactionHandler{MessageHandler: messages, reactions: reactions}
}

type toggleReactionRequest struct {
	Emoji string `json:"emoji" binding:"required,max=64"`
}

// Toggle handles POST /v1/messages/:id/reactions. The published event is
// a signal only; subscribers refetch the summary.
func (h *ReactionHandler) Toggle(c *gin.Context) {
	var req toggleReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	msg, ok := h.load(c, true)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	messageID := uuid.MustParse(msg.ID)

	added, err := h.reactions.Toggle(ctx, messageID, middleware.GetUserID(c), req.Emoji)
	if err != nil {
		h.logger.Error("failed to toggle reaction", zap.String("message_id", msg.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to toggle reaction"})
		return
	}
	summary, err := h.reactions.Summary(ctx, messageID)
	if err != nil {
		h.logger.Error("failed to load reactions", zap.String("message_id", msg.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to toggle reaction"})
		return
	}

	h.publish(ctx, events.ReactionUpdate{MessageID: msg.ID, ChannelID: msg.ChannelID})
	c.JSON(http.StatusOK, gin.H{"added": added, "reactions": summary})
}

// List handles GET /v1/messages/:id/reactions
func (h *ReactionHandler) List(c *gin.Context) {
	msg, ok := h.load(c, false)
	if !ok {
		return
	}

	summary, err := h.reactions.Summary(c.Request.Context(), uuid.MustParse(msg.ID))
	if err != nil {
		h.logger.Error("failed to load reactions", zap.String("message_id", msg.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load reactions"})
		return
	}

	c.JSON(http.StatusOK, summary)
}
