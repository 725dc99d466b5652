package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echosync/internal/auth"
	"github.com/lalith-99/echosync/internal/middleware"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type harness struct {
	router     *gin.Engine
	workspaces *fakeWorkspaces
	users      *fakeUsers
	channels   *fakeChannels
	members    *fakeMembers
	messages   *fakeMessages
	reactions  *fakeReactions
	files      *fakeFiles
	search     *fakeSearch
	publisher  *fakePublisher
	workspace  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{
		workspaces: &fakeWorkspaces{},
		users:      &fakeUsers{},
		channels:   &fakeChannels{},
		members:    newFakeMembers(),
		messages:   newFakeMessages(),
		reactions:  newFakeReactions(),
		publisher:  &fakePublisher{},
		workspace:  uuid.New(),
	}
	h.files = &fakeFiles{messages: h.messages}
	h.search = &fakeSearch{channels: h.channels, members: h.members, messages: h.messages}
	logger := zap.NewNop()
	access := NewChannelAccess(h.channels, h.members)

	authH := NewAuthHandler(h.users, h.workspaces, testSecret, logger)
	userH := NewUserHandler(h.users, logger)
	channelH := NewChannelHandler(h.channels, h.members, access, logger)
	memberH := NewMembershipHandler(h.members, access, logger)
	messageH := NewMessageHandler(h.messages, access, h.publisher, logger)
	reactionH := NewReactionHandler(messageH, h.reactions)
	fileH := NewFileHandler(h.files, access, logger)
	searchH := NewSearchHandler(h.search, logger)

	r := gin.New()
	r.POST("/v1/auth/signup", authH.Signup)
	r.POST("/v1/auth/login", authH.Login)

	v1 := r.Group("/v1", middleware.AuthMiddleware(testSecret))
	v1.GET("/users/me", userH.GetMe)
	v1.POST("/channels", channelH.Create)
	v1.GET("/channels", channelH.List)
	v1.GET("/channels/:id", channelH.GetByID)
	v1.POST("/channels/:id/join", memberH.Join)
	v1.POST("/channels/:id/leave", memberH.Leave)
	v1.GET("/channels/:id/members", memberH.ListMembers)
	v1.GET("/channels/:id/files", fileH.ListByChannel)
	v1.GET("/workspaces/search", searchH.Search)
	v1.GET("/channels/:id/messages", messageH.List)
	v1.POST("/channels/:id/messages", messageH.Create)
	v1.PATCH("/messages/:id", messageH.Update)
	v1.DELETE("/messages/:id", messageH.Delete)
	v1.POST("/messages/:id/pin", messageH.TogglePin)
	v1.POST("/messages/:id/reactions", reactionH.Toggle)
	v1.GET("/messages/:id/reactions", reactionH.List)

	h.router = r
	return h
}

// user creates a user in workspace and returns their id and a token.
func (h *harness) user(t *testing.T, workspace uuid.UUID) (uuid.UUID, string) {
	t.Helper()
	u, err := h.users.Create(t.Context(), workspace, uuid.NewString()+"@example.com", "someone", "x")
	require.NoError(t, err)
	token, err := auth.GenerateToken(u.ID, workspace, u.Email, testSecret, time.Hour)
	require.NoError(t, err)
	return u.ID, token
}

// channel creates a channel in the harness workspace with the given members.
func (h *harness) channel(t *testing.T, private bool, members ...uuid.UUID) uuid.UUID {
	t.Helper()
	ch, err := h.channels.Create(t.Context(), h.workspace, "general", "", private)
	require.NoError(t, err)
	for _, m := range members {
		require.NoError(t, h.members.AddMember(t.Context(), ch.ID, m, "member"))
	}
	return ch.ID
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// post creates a message through the API and returns it.
func (h *harness) post(t *testing.T, token string, channelID uuid.UUID, body gin.H) models.Message {
	t.Helper()
	w := h.do(t, http.MethodPost, "/v1/channels/"+channelID.String()+"/messages", token, body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp createMessageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Message)
	require.Equal(t, resp.ID, resp.Message.ID)
	return *resp.Message
}
