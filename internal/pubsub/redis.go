// Package pubsub carries realtime events between server instances and
// websocket gateways over redis pub/sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lalith-99/echosync/internal/events"
	"github.com/lalith-99/echosync/internal/observ"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// subscriberBuffer bounds how far a slow consumer can fall behind before
// the subscription goroutine blocks.
const subscriberBuffer = 64

// NewClient connects to redis and checks the connection.
func NewClient(ctx context.Context, url string, logger *zap.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", opts.Addr))
	return client, nil
}

// Broker publishes events to, and subscribes to, per-channel topics.
type Broker struct {
	client  *redis.Client
	logger  *zap.Logger
	metrics *observ.Metrics
}

var _ events.Publisher = (*Broker)(nil)

func NewBroker(client *redis.Client, logger *zap.Logger, metrics *observ.Metrics) *Broker {
	return &Broker{client: client, logger: logger, metrics: metrics}
}

// Publish sends ev to its channel's topic as a JSON envelope.
func (b *Broker) Publish(ctx context.Context, ev events.Event) error {
	env, err := events.Encode(ev)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, events.Topic(ev.Channel()), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Name(), err)
	}
	b.metrics.EventPublished(ev.Name())
	return nil
}

// Subscribe streams envelopes published to channelID's topic until ctx is
// cancelled. The returned channel is closed when the subscription ends.
// Payloads that are not valid envelopes are logged and skipped; decoding
// the event inside is left to the consumer.
func (b *Broker) Subscribe(ctx context.Context, channelID string) (<-chan events.Envelope, error) {
	topic := events.Topic(channelID)
	ps := b.client.Subscribe(ctx, topic)

	// Wait for the subscription to be confirmed so nothing published after
	// we return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan events.Envelope, subscriberBuffer)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var env events.Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					b.logger.Warn("dropping undecodable payload", zap.String("topic", topic), zap.Error(err))
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
