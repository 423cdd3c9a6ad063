package presence

import (
	"context"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
)

// Redis stores one set per channel under channel:<id>:users.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(addr string) *Redis {
	return &Redis{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Add(ctx context.Context, channelID, userID string) error {
	if err := r.rdb.SAdd(ctx, key(channelID), userID).Err(); err != nil {
		return fmt.Errorf("set presence for %s: %w", userID, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, channelID, userID string) error {
	if err := r.rdb.SRem(ctx, key(channelID), userID).Err(); err != nil {
		return fmt.Errorf("delete presence for %s: %w", userID, err)
	}
	return nil
}

func (r *Redis) Members(ctx context.Context, channelID string) ([]string, error) {
	users, err := r.rdb.SMembers(ctx, key(channelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch presence of %s: %w", channelID, err)
	}
	slices.Sort(users)
	return users, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
