package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echosync/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignupLoginMe(t *testing.T) {
	h := newHarness(t)
	signup := gin.H{
		"email":          "ada@example.com",
		"password":       "correct-horse",
		"display_name":   "Ada",
		"workspace_name": "Analytical Engines",
	}

	w := h.do(t, http.MethodPost, "/v1/auth/signup", "", signup)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	claims, err := auth.ParseToken(resp.Token, testSecret)
	require.NoError(t, err)
	require.Len(t, h.workspaces.items, 1)
	assert.Equal(t, h.workspaces.items[0].ID, claims.WorkspaceID)

	w = h.do(t, http.MethodPost, "/v1/auth/signup", "", signup)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": "ada@example.com", "password": "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = h.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": "nobody@example.com", "password": "whatever"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": "ada@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = h.do(t, http.MethodGet, "/v1/users/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"display_name":"Ada"`)
	assert.NotContains(t, w.Body.String(), "password")
}

func TestSignup_Validation(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/v1/auth/signup", "", gin.H{
		"email": "not-an-email", "password": "short", "display_name": "x", "workspace_name": "y",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.workspaces.items)
}
