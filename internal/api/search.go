package api

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echosync/internal/middleware"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/lalith-99/echosync/internal/repository"
	"go.uber.org/zap"
)

const (
	minSearchLen = 2
	maxSearchLen = 200

	searchMessageLimit = 20
	searchChannelLimit = 10
	searchFileLimit    = 10
)

type SearchHandler struct {
	repo   repository.SearchRepository
	logger *zap.Logger
}

func NewSearchHandler(repo repository.SearchRepository, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{repo: repo, logger: logger}
}

type searchResponse struct {
	Messages []models.Message `json:"messages"`
	Channels []models.Channel `json:"channels"`
	Files    []models.File    `json:"files"`
}

// Search handles GET /v1/workspaces/search?q=
//
// Messages, channels and files are matched case-insensitively within the
// caller's workspace, skipping private channels they are not in. A query
// shorter than two characters returns empty results, not an error.
func (h *SearchHandler) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if utf8.RuneCountInString(q) > maxSearchLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query is too long"})
		return
	}

	resp := searchResponse{
		Messages: make([]models.Message, 0),
		Channels: make([]models.Channel, 0),
		Files:    make([]models.File, 0),
	}
	if utf8.RuneCountInString(q) < minSearchLen {
		c.JSON(http.StatusOK, resp)
		return
	}

	ctx := c.Request.Context()
	workspaceID := middleware.GetWorkspaceID(c)
	userID := middleware.GetUserID(c)

	var err error
	if resp.Messages, err = h.repo.Messages(ctx, workspaceID, userID, q, searchMessageLimit); err != nil {
		h.searchFailed(c, "messages", err)
		return
	}
	if resp.Channels, err = h.repo.Channels(ctx, workspaceID, userID, q, searchChannelLimit); err != nil {
		h.searchFailed(c, "channels", err)
		return
	}
	if resp.Files, err = h.repo.Files(ctx, workspaceID, userID, q, searchFileLimit); err != nil {
		h.searchFailed(c, "files", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *SearchHandler) searchFailed(c *gin.Context, what string, err error) {
	h.logger.Error("workspace search failed", zap.String("target", what), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
}
