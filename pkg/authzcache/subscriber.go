package authzcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenancy/pkg/async"
)

// Start subscribes to the invalidation channel so that invalidations made by
// other instances clear this instance's L1. It returns once the subscription
// is confirmed. Without Redis it does nothing.
func (c *Cache) Start(ctx context.Context) error {
	if c.rdb == nil {
		return nil
	}

	pubsub := c.rdb.Subscribe(ctx, c.cfg.Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", c.cfg.Channel, err)
	}
	c.pubsub = pubsub

	async.SafeGo(ctx, c.logger, 0, "authz invalidation subscriber", func(ctx context.Context) error {
		return c.listen(ctx, pubsub)
	})
	return nil
}

// Close stops the subscriber
func (c *Cache) Close() error {
	if c.pubsub == nil {
		return nil
	}
	return c.pubsub.Close()
}

func (c *Cache) listen(ctx context.Context, pubsub *redis.PubSub) error {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.apply(msg.Payload)
		}
	}
}

func (c *Cache) apply(payload string) {
	var msg invalidation
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		c.logger.WithError(err).Warn("ignoring malformed invalidation")
		return
	}
	if msg.Origin == c.origin {
		return
	}

	c.bump(msg.OrgID)
	c.purgeLocal(msg)
	c.logger.WithOrg(msg.OrgID).WithField("scope", string(msg.Scope)).Debug("applied remote invalidation")
}
