package ws

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence mirrors room membership outside of the Relay.
type Presence interface {
	Add(ctx context.Context, room string, id string) error
	Remove(ctx context.Context, room string, id string) error
	Members(ctx context.Context, room string) ([]string, error)
}

// DefaultPresenceTTL is how long a room set survives in redis without a join.
const DefaultPresenceTTL = 24 * time.Hour

// RedisPresence keeps the members of every room in a redis set.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPresence connects to redis and checks the connection.
func NewRedisPresence(ctx context.Context, addr string, password string, db int) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPresence{
		client: client,
		ttl:    DefaultPresenceTTL,
	}, nil
}

func roomKey(room string) string {
	return "parley:room:" + room + ":peers"
}

// Add implements Presence.
func (p *RedisPresence) Add(ctx context.Context, room string, id string) error {
	if err := p.client.SAdd(ctx, roomKey(room), id).Err(); err != nil {
		return err
	}
	return p.client.Expire(ctx, roomKey(room), p.ttl).Err()
}

// Remove implements Presence.
func (p *RedisPresence) Remove(ctx context.Context, room string, id string) error {
	return p.client.SRem(ctx, roomKey(room), id).Err()
}

// Members implements Presence.
func (p *RedisPresence) Members(ctx context.Context, room string) ([]string, error) {
	members, err := p.client.SMembers(ctx, roomKey(room)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

// Close closes the redis connection.
func (p *RedisPresence) Close() error {
	return p.client.Close()
}
