// Package client implements the sync core's data and event sources against
// the echosync HTTP and websocket API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lalith-99/echosync/internal/models"
	"github.com/lalith-99/echosync/internal/timeline"
	"go.uber.org/zap"
)

const defaultTimeout = 15 * time.Second

// StatusError is a non-2xx response that is neither 403 nor 404.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// HTTPSource is a timeline.DataSource backed by the REST API.
type HTTPSource struct {
	base   string
	token  string
	httpc  *http.Client
	logger *zap.Logger
}

var _ timeline.DataSource = (*HTTPSource)(nil)

// NewHTTPSource talks to baseURL (e.g. "http://localhost:8080") with a
// bearer token. A nil httpc gets a client with a 15s timeout.
func NewHTTPSource(baseURL, token string, httpc *http.Client, logger *zap.Logger) *HTTPSource {
	if httpc == nil {
		httpc = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPSource{
		base:   strings.TrimRight(baseURL, "/"),
		token:  token,
		httpc:  httpc,
		logger: logger,
	}
}

type listResponse struct {
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

func (s *HTTPSource) FetchMessages(ctx context.Context, channelID string, q timeline.PageQuery) (timeline.Page, error) {
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Before != nil {
		params.Set("before_id", q.Before.ID)
		params.Set("before_ts", q.Before.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	if q.ParentID != "" {
		params.Set("parent_id", q.ParentID)
	}
	path := "/v1/channels/" + url.PathEscape(channelID) + "/messages"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var out listResponse
	if err := s.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return timeline.Page{}, fmt.Errorf("fetch messages: %w", err)
	}
	return timeline.Page{Messages: out.Messages, HasMore: out.HasMore}, nil
}

type createRequest struct {
	Content         string              `json:"content"`
	ParentMessageID string              `json:"parent_message_id,omitempty"`
	ClientToken     string              `json:"client_token,omitempty"`
	Attachments     []models.Attachment `json:"attachments,omitempty"`
}

type createResponse struct {
	ID      string         `json:"id"`
	Message models.Message `json:"message"`
}

func (s *HTTPSource) CreateMessage(ctx context.Context, channelID string, d timeline.Draft) (models.Message, error) {
	body := createRequest{
		Content:         d.Content,
		ParentMessageID: d.ParentID,
		ClientToken:     d.ClientToken,
		Attachments:     d.Attachments,
	}
	var out createResponse
	path := "/v1/channels/" + url.PathEscape(channelID) + "/messages"
	if err := s.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return models.Message{}, fmt.Errorf("create message: %w", err)
	}
	return out.Message, nil
}

func (s *HTTPSource) UpdateMessage(ctx context.Context, id, content string) error {
	body := map[string]string{"content": content}
	if err := s.do(ctx, http.MethodPatch, "/v1/messages/"+url.PathEscape(id), body, nil); err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (s *HTTPSource) DeleteMessage(ctx context.Context, id string) error {
	if err := s.do(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (s *HTTPSource) TogglePin(ctx context.Context, id string) error {
	if err := s.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(id)+"/pin", nil, nil); err != nil {
		return fmt.Errorf("toggle pin: %w", err)
	}
	return nil
}

func (s *HTTPSource) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	body := map[string]string{"emoji": emoji}
	if err := s.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(messageID)+"/reactions", body, nil); err != nil {
		return fmt.Errorf("toggle reaction: %w", err)
	}
	return nil
}

func (s *HTTPSource) FetchReactionSummary(ctx context.Context, messageID string) (models.ReactionSummary, error) {
	var out models.ReactionSummary
	if err := s.do(ctx, http.MethodGet, "/v1/messages/"+url.PathEscape(messageID)+"/reactions", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch reactions: %w", err)
	}
	if out == nil {
		out = models.ReactionSummary{}
	}
	return out, nil
}

// Me returns the authenticated user.
func (s *HTTPSource) Me(ctx context.Context) (models.User, error) {
	var out models.User
	if err := s.do(ctx, http.MethodGet, "/v1/users/me", nil, &out); err != nil {
		return models.User{}, fmt.Errorf("get current user: %w", err)
	}
	return out, nil
}

// do sends one request. 403 and 404 map to timeline.ErrForbidden and
// timeline.ErrNotFound; other failures stay retryable.
func (s *HTTPSource) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg := errorMessage(resp.Body)
		switch resp.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", timeline.ErrForbidden, msg)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", timeline.ErrNotFound, msg)
		}
		s.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts the "error" field of a gin error body, falling
// back to the raw text.
func errorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
