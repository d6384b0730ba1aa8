// Package redisclient owns the process's Redis connections: one command
// client shared by every subsystem and one dedicated subscriber client for
// the pub/sub fabric.
package redisclient

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/evantahler/bun-actionhero-sub001/pkg/config"
)

// Client holds the two per-process Redis connections.
type Client struct {
	commands   *redis.Client
	subscriber *redis.Client
}

// New connects both clients and verifies the command connection with a ping.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	options := &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}

	commands := redis.NewClient(options)

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := commands.Ping(pingCtx).Err(); err != nil {
		_ = commands.Close()
		return nil, pkgerrors.Wrap(err, "failed to connect to redis")
	}

	subscriberOptions := *options
	// The subscriber connection blocks on receive; read timeouts would
	// sever an idle subscription.
	subscriberOptions.ReadTimeout = -1

	return &Client{
		commands:   commands,
		subscriber: redis.NewClient(&subscriberOptions),
	}, nil
}

// NewFromClients wraps existing clients (used by tests with miniredis).
func NewFromClients(commands, subscriber *redis.Client) *Client {
	return &Client{commands: commands, subscriber: subscriber}
}

// Commands returns the shared command client.
func (c *Client) Commands() *redis.Client {
	return c.commands
}

// Subscriber returns the dedicated subscriber client.
func (c *Client) Subscriber() *redis.Client {
	return c.subscriber
}

// Close closes both connections.
func (c *Client) Close() error {
	err := c.commands.Close()
	if suberr := c.subscriber.Close(); err == nil {
		err = suberr
	}
	return err
}
