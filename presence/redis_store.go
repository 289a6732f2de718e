package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultKeyPrefix namespaces presence keys in Redis.
const DefaultKeyPrefix = "wsrouter:presence:"

// RedisStore is a Store keeping one expiring key per identity in Redis.
// Concurrent Count calls share a single SCAN.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedisStore creates a RedisStore.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := NewRedisStore(client, DefaultKeyPrefix, DefaultTTL)
//
// Parameters:
//   - client: Connected Redis client
//   - prefix: Key prefix; DefaultKeyPrefix when empty
//   - ttl: Key expiry
//
// Returns:
//   - A new RedisStore
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) MarkOnline(ctx context.Context, id string, addr string) error {
	if err := s.client.Set(ctx, s.key(id), addr, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark %s online: %w", id, err)
	}

	return nil
}

func (s *RedisStore) MarkOffline(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to mark %s offline: %w", id, err)
	}

	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, id string) (string, bool, error) {
	addr, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to look up %s: %w", id, err)
	}

	return addr, true, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	v, err, _ := s.group.Do("count", func() (interface{}, error) {
		count := 0
		iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if strings.HasPrefix(iter.Val(), s.prefix) {
				count++
			}
		}

		if err := iter.Err(); err != nil {
			return 0, fmt.Errorf("failed to scan presence keys: %w", err)
		}

		return count, nil
	})
	if err != nil {
		return 0, err
	}

	return v.(int), nil
}
