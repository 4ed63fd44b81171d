package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/greenroomhq/greenroom/pkg/observability"
)

// invalidationChannel is the Redis pub/sub channel used to fan
// invalidations out to every instance holding a context cache.
const invalidationChannel = "greenroom:context_invalidations"

// invalidationMessage is the wire form of one invalidation.
type invalidationMessage struct {
	ProjectID int64  `json:"project_id"`
	UserID    int64  `json:"user_id"`
	Origin    string `json:"origin"`
}

// RedisInvalidator fans context cache invalidations out across
// instances over Redis pub/sub. The local cache is always invalidated
// synchronously by the service before the fan-out; the subscriber loop
// only covers the other instances.
type RedisInvalidator struct {
	client   *redis.Client
	cache    *ContextCache
	instance string
	logger   *observability.Logger
}

// NewRedisInvalidator creates an invalidator. instance identifies this
// process so it can skip its own messages.
func NewRedisInvalidator(client *redis.Client, cache *ContextCache, instance string, logger *observability.Logger) *RedisInvalidator {
	return &RedisInvalidator{
		client:   client,
		cache:    cache,
		instance: instance,
		logger:   logger,
	}
}

// Publish announces an invalidation to all instances.
func (i *RedisInvalidator) Publish(ctx context.Context, projectID, userID int64) error {
	payload, err := json.Marshal(invalidationMessage{
		ProjectID: projectID,
		UserID:    userID,
		Origin:    i.instance,
	})
	if err != nil {
		return fmt.Errorf("failed to encode invalidation: %w", err)
	}
	if err := i.client.Publish(ctx, invalidationChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Run subscribes to the invalidation channel and applies incoming
// invalidations to the local cache until ctx is cancelled.
func (i *RedisInvalidator) Run(ctx context.Context) error {
	pubsub := i.client.Subscribe(ctx, invalidationChannel)
	defer pubsub.Close()

	// Force the subscription to be established before we report ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", invalidationChannel, err)
	}

	i.logger.Infof("Subscribed to cache invalidation channel: %s", invalidationChannel)
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("invalidation channel closed")
			}
			i.handleMessage(msg.Payload)
		}
	}
}

func (i *RedisInvalidator) handleMessage(payload string) {
	var msg invalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		i.logger.WithError(err).Warn("Dropping malformed cache invalidation message")
		return
	}
	if msg.Origin == i.instance {
		return
	}
	i.cache.Invalidate(msg.ProjectID, msg.UserID, "redis")
}

// Ping verifies the Redis connection.
func (i *RedisInvalidator) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return i.client.Ping(ctx).Err()
}
