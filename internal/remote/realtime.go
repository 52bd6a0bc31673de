package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel carries change notifications between devices of one user
// over Redis pub/sub.
type Channel struct {
	client *redis.Client
}

// NewChannel connects to Redis with short timeouts.
func NewChannel(addr string) *Channel {
	return &Channel{client: redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})}
}

// Healthy verifies Redis connectivity.
func (c *Channel) Healthy(ctx context.Context) bool {
	return c != nil && c.client != nil && c.client.Ping(ctx).Err() == nil
}

func topic(userID string) string { return "classtrack:changes:" + userID }

// Publish fans a change out to the user's subscribers.
func (c *Channel) Publish(ctx context.Context, userID string, ch Change) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, topic(userID), payload).Err()
}

// Subscribe streams changes for one user until ctx is cancelled.
// Undecodable payloads are dropped.
func (c *Channel) Subscribe(ctx context.Context, userID string) (<-chan Change, error) {
	sub := c.client.Subscribe(ctx, topic(userID))
	if _, err := sub.Receive(ctx); err != nil {
		return nil, err
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ch Change
				if err := json.Unmarshal([]byte(msg.Payload), &ch); err != nil {
					continue
				}
				select {
				case out <- ch:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
