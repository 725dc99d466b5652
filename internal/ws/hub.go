// Package ws bridges per-channel pub/sub topics to websocket clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echosync/internal/events"
	"go.uber.org/zap"
)

const sendBuffer = 256

// Subscriber is the event transport; pubsub.Broker satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, channelID string) (<-chan events.Envelope, error)
}

// Client is one websocket connection and the channels it follows.
type Client struct {
	conn        *websocket.Conn
	userID      uuid.UUID
	workspaceID uuid.UUID
	send        chan []byte

	mu   sync.Mutex
	subs map[string]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn, userID, workspaceID uuid.UUID) *Client {
	return &Client{
		conn:        conn,
		userID:      userID,
		workspaceID: workspaceID,
		send:        make(chan []byte, sendBuffer),
		subs:        make(map[string]struct{}),
		done:        make(chan struct{}),
	}
}

// trySend queues a frame without blocking. It reports false when the
// client's buffer is full.
func (c *Client) trySend(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) sendEnvelope(env events.Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.trySend(raw)
}

func (c *Client) sendControl(typ string, payload any) {
	env, err := events.Control(typ, payload)
	if err != nil {
		return
	}
	c.sendEnvelope(env)
}

func (c *Client) sendError(code, message, channelID string) {
	c.sendControl(events.TypeError, events.ErrorFrame{Code: code, Message: message, ChannelID: channelID})
}

// close stops the write pump; the read pump then fails on the closed
// connection and unregisters the client.
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// topic is one upstream subscription shared by every local client
// following the channel.
type topic struct {
	clients map[*Client]struct{}
	cancel  context.CancelFunc
}

// Hub keeps at most one upstream subscription per channel and fans its
// envelopes out to local clients.
type Hub struct {
	ctx    context.Context
	source Subscriber
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*topic
}

// NewHub ties every upstream subscription to ctx; cancelling it ends them
// all.
func NewHub(ctx context.Context, source Subscriber, logger *zap.Logger) *Hub {
	return &Hub{
		ctx:    ctx,
		source: source,
		logger: logger,
		topics: make(map[string]*topic),
	}
}

// Subscribe adds client to channelID, opening the upstream subscription
// if this is the first local follower.
func (h *Hub) Subscribe(client *Client, channelID string) error {
	h.mu.Lock()
	if t, ok := h.topics[channelID]; ok {
		h.attachLocked(t, client, channelID)
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	// The upstream round trip happens unlocked; every forward goroutine
	// needs h.mu to deliver.
	ctx, cancel := context.WithCancel(h.ctx)
	stream, err := h.source.Subscribe(ctx, channelID)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe upstream: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.topics[channelID]
	if ok {
		// Another client opened the channel meanwhile; keep theirs.
		cancel()
	} else {
		t = &topic{clients: make(map[*Client]struct{}), cancel: cancel}
		h.topics[channelID] = t
		go h.forward(channelID, t, stream)
	}
	h.attachLocked(t, client, channelID)
	return nil
}

func (h *Hub) attachLocked(t *topic, client *Client, channelID string) {
	t.clients[client] = struct{}{}

	client.mu.Lock()
	client.subs[channelID] = struct{}{}
	client.mu.Unlock()
}

func (h *Hub) Unsubscribe(client *Client, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(client, channelID)

	client.mu.Lock()
	delete(client.subs, channelID)
	client.mu.Unlock()
}

// Remove drops client from every channel it follows.
func (h *Hub) Remove(client *Client) {
	client.mu.Lock()
	subs := make([]string, 0, len(client.subs))
	for id := range client.subs {
		subs = append(subs, id)
	}
	client.subs = make(map[string]struct{})
	client.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range subs {
		h.unsubscribeLocked(client, id)
	}
}

func (h *Hub) unsubscribeLocked(client *Client, channelID string) {
	t, ok := h.topics[channelID]
	if !ok {
		return
	}
	delete(t.clients, client)
	if len(t.clients) == 0 {
		t.cancel()
		delete(h.topics, channelID)
	}
}

// forward runs until the upstream stream closes. A client whose buffer is
// full is disconnected rather than allowed to stall the others.
func (h *Hub) forward(channelID string, t *topic, stream <-chan events.Envelope) {
	for env := range stream {
		if !events.IsEvent(env.Type) {
			h.logger.Warn("dropping non-event envelope",
				zap.String("channel_id", channelID),
				zap.String("type", env.Type),
			)
			continue
		}
		raw, err := json.Marshal(env)
		if err != nil {
			h.logger.Warn("dropping unencodable envelope",
				zap.String("channel_id", channelID),
				zap.String("event", env.Type),
				zap.Error(err),
			)
			continue
		}
		h.mu.Lock()
		for c := range t.clients {
			if !c.trySend(raw) {
				h.logger.Warn("client too slow, disconnecting",
					zap.String("channel_id", channelID),
					zap.String("user_id", c.userID.String()),
				)
				c.close()
			}
		}
		h.mu.Unlock()
	}

	// The stream also closes when redis drops the subscription. Clients
	// still attached would silently stop receiving, so disconnect them and
	// let them resubscribe.
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[channelID] != t {
		return
	}
	delete(h.topics, channelID)
	t.cancel()
	for c := range t.clients {
		c.close()
	}
	if h.ctx.Err() == nil {
		h.logger.Warn("upstream subscription ended", zap.String("channel_id", channelID))
	}
}

// Topics reports how many upstream subscriptions are open.
func (h *Hub) Topics() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}
