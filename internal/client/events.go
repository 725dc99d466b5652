package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lalith-99/echosync/internal/events"
	"github.com/lalith-99/echosync/internal/timeline"
	"go.uber.org/zap"
)

const (
	eventBuffer   = 64
	handshakeWait = 10 * time.Second
)

// WSEvents is a timeline.EventSource over the /v1/ws gateway. Each
// Subscribe opens its own connection, which lives until ctx is cancelled.
type WSEvents struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger *zap.Logger
}

var _ timeline.EventSource = (*WSEvents)(nil)

// NewWSEvents derives the websocket URL from the HTTP base URL.
func NewWSEvents(baseURL, token string, logger *zap.Logger) *WSEvents {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WSEvents{
		url:    u + "/v1/ws",
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeWait},
		logger: logger,
	}
}

// Subscribe returns once the gateway has confirmed the subscription. A
// rejected subscribe maps to timeline.ErrForbidden or ErrNotFound.
func (w *WSEvents) Subscribe(ctx context.Context, channelID string) (<-chan events.Envelope, error) {
	header := http.Header{"Authorization": []string{"Bearer " + w.token}}
	conn, resp, err := w.dialer.DialContext(ctx, w.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("connect events: unauthorized: %w", err)
		}
		return nil, fmt.Errorf("connect events: %w", err)
	}

	frame, err := events.Control(events.TypeSubscribe, events.ChannelRef{ChannelID: channelID})
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(handshakeWait))
	if err := conn.WriteJSON(frame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	var ack events.Envelope
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("await subscribe ack: %w", err)
	}
	switch ack.Type {
	case events.TypeSubscribed:
	case events.TypeError:
		conn.Close()
		return nil, subscribeError(ack.Data)
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected %q frame before subscribe ack", ack.Type)
	}
	// The gateway pings every 30s; the default ping handler answers.
	conn.SetReadDeadline(time.Time{})

	out := make(chan events.Envelope, eventBuffer)
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()
	go w.readLoop(ctx, conn, channelID, out)
	return out, nil
}

func (w *WSEvents) readLoop(ctx context.Context, conn *websocket.Conn, channelID string, out chan<- events.Envelope) {
	defer close(out)
	for {
		var env events.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("event stream ended",
					zap.String("channel_id", channelID),
					zap.Error(err),
				)
			}
			return
		}
		if env.Type == events.TypeError {
			w.logger.Warn("gateway error frame",
				zap.String("channel_id", channelID),
				zap.ByteString("data", env.Data),
			)
			continue
		}
		if env.Type == events.TypeSubscribed {
			continue
		}
		select {
		case out <- env:
		case <-ctx.Done():
			return
		}
	}
}

func subscribeError(data json.RawMessage) error {
	var frame events.ErrorFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("subscribe rejected: %s", string(data))
	}
	switch frame.Code {
	case events.CodeForbidden:
		return fmt.Errorf("subscribe: %w: %s", timeline.ErrForbidden, frame.Message)
	case events.CodeNotFound:
		return fmt.Errorf("subscribe: %w: %s", timeline.ErrNotFound, frame.Message)
	}
	return fmt.Errorf("subscribe rejected: %s: %s", frame.Code, frame.Message)
}
