package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attachment(name string) gin.H {
	return gin.H{"name": name, "content_type": "image/png", "size": 2048, "url": "https://files.example.com/" + name}
}

func TestListChannelFiles_NewestFirst(t *testing.T) {
	h := newHarness(t)
	me, token := h.user(t, h.workspace)
	ch := h.channel(t, false, me)
	other := h.channel(t, false, me)

	first := h.post(t, token, ch, gin.H{"content": "mockups", "attachments": []gin.H{attachment("a.png"), attachment("b.png")}})
	second := h.post(t, token, ch, gin.H{"attachments": []gin.H{attachment("c.png")}})
	h.post(t, token, other, gin.H{"attachments": []gin.H{attachment("elsewhere.png")}})
	h.post(t, token, ch, gin.H{"content": "no files here"})

	w := h.do(t, http.MethodGet, "/v1/channels/"+ch.String()+"/files", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Files []models.File `json:"files"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	require.Len(t, resp.Files, 3)
	assert.Equal(t, "c.png", resp.Files[0].Name)
	assert.Equal(t, second.ID, resp.Files[0].MessageID)
	assert.Equal(t, me.String(), resp.Files[0].AuthorID)
	for _, f := range resp.Files[1:] {
		assert.Equal(t, first.ID, f.MessageID)
		assert.Equal(t, ch.String(), f.ChannelID)
	}

	w = h.do(t, http.MethodGet, "/v1/channels/"+ch.String()+"/files?limit=1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Files, 1)
}

func TestListChannelFiles_Access(t *testing.T) {
	h := newHarness(t)
	owner, _ := h.user(t, h.workspace)
	_, outsiderToken := h.user(t, h.workspace)
	private := h.channel(t, true, owner)

	w := h.do(t, http.MethodGet, "/v1/channels/"+private.String()+"/files", outsiderToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(t, http.MethodGet, "/v1/channels/"+uuid.NewString()+"/files", outsiderToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodGet, "/v1/channels/not-a-uuid/files", outsiderToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	public := h.channel(t, false, owner)
	w = h.do(t, http.MethodGet, "/v1/channels/"+public.String()+"/files?limit=0", outsiderToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/v1/channels/"+public.String()+"/files", outsiderToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"files":[]}`, w.Body.String())

	h.files.err = errors.New("connection reset")
	w = h.do(t, http.MethodGet, "/v1/channels/"+public.String()+"/files", outsiderToken, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
