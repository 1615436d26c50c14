package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// StateGuard marks OAuth state tokens as used so a callback cannot be replayed.
type StateGuard struct {
	client redis.Cmdable
}

func NewStateGuard(client redis.Cmdable) *StateGuard {
	return &StateGuard{client: client}
}

// Consume returns true the first time a state is seen within ttl.
func (g *StateGuard) Consume(ctx context.Context, state string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, "oauth:state:used:"+state, time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("consume oauth state: %w", err)
	}
	return ok, nil
}
