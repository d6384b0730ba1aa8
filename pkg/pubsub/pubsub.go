// Package pubsub implements the cluster-wide realtime fabric. Every process
// in a deployment shares one Redis pub/sub channel ({process.name}:broadcast);
// received messages fan out to the local connections subscribed to the
// payload's channel. Presence tracking lives alongside in presence.go.
package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/redisclient"
)

// Message is the wire format carried on the Redis channel.
type Message struct {
	Channel string `json:"channel"`
	Message any    `json:"message"`
	Sender  string `json:"sender"`
}

// PubSub is the per-process fabric endpoint.
type PubSub struct {
	redis       *redisclient.Client
	connections *connection.Manager
	logger      observability.Logger
	metrics     observability.MetricsClient

	broadcastChannel string
	presence         *Presence

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the fabric endpoint. broadcastChannel is the single Redis
// channel for the whole deployment.
func New(client *redisclient.Client, connections *connection.Manager, broadcastChannel string, presenceTTL time.Duration, logger observability.Logger, metrics observability.MetricsClient) *PubSub {
	return &PubSub{
		redis:            client,
		connections:      connections,
		logger:           logger.WithPrefix("pubsub"),
		metrics:          metrics,
		broadcastChannel: broadcastChannel,
		presence:         newPresence(client.Commands(), presenceTTL),
	}
}

// Presence returns the presence tracker.
func (p *PubSub) Presence() *Presence {
	return p.presence
}

// Broadcast publishes a message for channel to the whole cluster.
func (p *PubSub) Broadcast(ctx context.Context, channel string, message any, sender string) error {
	payload, err := json.Marshal(Message{Channel: channel, Message: message, Sender: sender})
	if err != nil {
		return err
	}
	if err := p.redis.Commands().Publish(ctx, p.broadcastChannel, payload).Err(); err != nil {
		return err
	}
	p.metrics.IncrementCounter("pubsub_published_total", 1)
	return nil
}

// Start opens the subscriber connection and begins fan-out. The receive
// loop reconnects with exponential backoff if the subscription drops.
func (p *PubSub) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go p.receiveLoop(runCtx)
	return nil
}

// Stop tears down the subscriber.
func (p *PubSub) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return nil
}

func (p *PubSub) receiveLoop(ctx context.Context) {
	defer p.wg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // keep retrying until stopped

	for {
		if ctx.Err() != nil {
			return
		}

		sub := p.redis.Subscriber().Subscribe(ctx, p.broadcastChannel)
		err := p.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}

		wait := policy.NextBackOff()
		p.logger.Warn("pubsub subscription dropped, reconnecting", map[string]interface{}{
			"error":   err,
			"backoff": wait.String(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (p *PubSub) consume(ctx context.Context, sub *redis.PubSub) error {
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return context.Canceled
			}
			p.fanOut([]byte(msg.Payload))
		}
	}
}

// fanOut delivers a received payload to every local connection subscribed
// to its channel. Iteration uses a stable snapshot of the connection map.
func (p *PubSub) fanOut(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.logger.Warn("discarding malformed pubsub payload", map[string]interface{}{"error": err.Error()})
		return
	}

	payload := map[string]any{
		"channel": msg.Channel,
		"message": msg.Message,
		"sender":  msg.Sender,
	}

	delivered := 0
	for _, conn := range p.connections.Snapshot() {
		if !conn.Subscribed(msg.Channel) {
			continue
		}
		if err := conn.OnBroadcast(payload); err != nil {
			p.logger.Debug("broadcast delivery failed", map[string]interface{}{
				"connection": conn.ID,
				"channel":    msg.Channel,
				"error":      err.Error(),
			})
			continue
		}
		delivered++
	}
	p.metrics.IncrementCounterWithLabels("pubsub_delivered_total", float64(delivered), map[string]string{"channel": msg.Channel})
}
