package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Broadcaster pushes real-time events to connected clients. Implementations
// are fire-and-forget: a failed publish is logged by the dispatcher and
// never surfaces to the operation that triggered it.
type Broadcaster interface {
	Publish(channel, event string, payload interface{}) error
}

// RedisBroadcaster publishes events over Redis pub/sub.
type RedisBroadcaster struct {
	rdb *redis.Client
}

// NewRedisBroadcaster creates a broadcaster over an existing Redis client.
func NewRedisBroadcaster(rdb *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb}
}

// Publish sends the event as a JSON envelope on the given channel.
func (b *RedisBroadcaster) Publish(channel, event string, payload interface{}) error {
	envelope := map[string]interface{}{
		"event":   event,
		"payload": payload,
		"ts":      time.Now().Unix(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event, err)
	}
	return nil
}

// NoopBroadcaster drops all events. Used when Redis is not configured and in
// tests.
type NoopBroadcaster struct{}

// Publish discards the event.
func (NoopBroadcaster) Publish(channel, event string, payload interface{}) error {
	return nil
}
