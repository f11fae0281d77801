package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis opens the client used for last-message caching and the
// cross-node pub/sub channel.
func ConnectRedis(url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url must not be empty")
	}

	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if options.MinIdleConns == 0 {
		options.MinIdleConns = 2
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return client, nil
}
