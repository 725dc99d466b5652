package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echosync/internal/api"
	"github.com/lalith-99/echosync/internal/events"
	"github.com/lalith-99/echosync/internal/middleware"
	"github.com/lalith-99/echosync/internal/models"
	"github.com/lalith-99/echosync/internal/observ"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 65536
	readBufferSize = 1024
)

// Authorizer decides whether a user may follow a channel;
// api.ChannelAccess satisfies it.
type Authorizer interface {
	CanRead(ctx context.Context, workspaceID, userID, channelID uuid.UUID) (*models.Channel, error)
}

type Gateway struct {
	hub      *Hub
	access   Authorizer
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *observ.Metrics
}

func NewGateway(hub *Hub, access Authorizer, logger *zap.Logger, metrics *observ.Metrics) *Gateway {
	return &Gateway{
		hub:    hub,
		access: access,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: readBufferSize,
			// Authentication is the bearer header checked before the
			// upgrade, not a cookie, so any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Handle serves GET /v1/ws. It must run behind AuthMiddleware.
func (g *Gateway) Handle(c *gin.Context) {
	userID := middleware.GetUserID(c)
	workspaceID := middleware.GetWorkspaceID(c)

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, userID, workspaceID)
	g.metrics.WSConnected()
	g.logger.Debug("websocket connected", zap.String("user_id", userID.String()))

	go g.writePump(client)
	g.readPump(c.Request.Context(), client)

	g.hub.Remove(client)
	client.close()
	g.metrics.WSDisconnected()
	g.logger.Debug("websocket disconnected", zap.String("user_id", userID.String()))
}

func (g *Gateway) readPump(ctx context.Context, client *Client) {
	conn := client.conn
	defer conn.Close()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				g.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		g.handleFrame(ctx, client, data)
	}
}

func (g *Gateway) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	conn := client.conn
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

func (g *Gateway) handleFrame(ctx context.Context, client *Client, data []byte) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		client.sendError(events.CodeInvalidFrame, "frame is not a JSON envelope", "")
		return
	}

	switch env.Type {
	case events.TypeSubscribe, events.TypeUnsubscribe:
	default:
		client.sendError(events.CodeInvalidFrame, "unknown frame type "+env.Type, "")
		return
	}

	var ref events.ChannelRef
	if err := json.Unmarshal(env.Data, &ref); err != nil || ref.ChannelID == "" {
		client.sendError(events.CodeInvalidFrame, "channel_id is required", "")
		return
	}

	channelID, err := uuid.Parse(ref.ChannelID)
	if err != nil {
		client.sendError(events.CodeInvalidFrame, "invalid channel_id", ref.ChannelID)
		return
	}
	// The canonical form keeps every client of a channel on one topic.
	canonical := channelID.String()

	if env.Type == events.TypeUnsubscribe {
		g.hub.Unsubscribe(client, canonical)
		return
	}

	if _, err := g.access.CanRead(ctx, client.workspaceID, client.userID, channelID); err != nil {
		switch {
		case errors.Is(err, api.ErrChannelNotFound):
			client.sendError(events.CodeNotFound, "channel not found", ref.ChannelID)
		case errors.Is(err, api.ErrNotMember):
			client.sendError(events.CodeForbidden, "not a member of this channel", ref.ChannelID)
		default:
			g.logger.Error("subscribe access check failed", zap.String("channel_id", ref.ChannelID), zap.Error(err))
			client.sendError(events.CodeInternal, "subscribe failed", ref.ChannelID)
		}
		return
	}

	if err := g.hub.Subscribe(client, canonical); err != nil {
		g.logger.Error("subscribe failed", zap.String("channel_id", canonical), zap.Error(err))
		client.sendError(events.CodeInternal, "subscribe failed", canonical)
		return
	}
	client.sendControl(events.TypeSubscribed, events.ChannelRef{ChannelID: canonical})
}
