package localstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const devicePrefix = "device:"

// RedisStore persists one device's keys in Redis under device:<id>:<key>.
type RedisStore struct {
	client   *redis.Client
	deviceID string
}

// NewRedisStore builds a store scoped to deviceID.
func NewRedisStore(client *redis.Client, deviceID string) *RedisStore {
	return &RedisStore{client: client, deviceID: deviceID}
}

func (s *RedisStore) key(k string) string {
	return devicePrefix + s.deviceID + ":" + k
}

// Get returns the value for key and whether it was present.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("localstore get %s: %w", key, err)
	}
	return v, true, nil
}

// Set writes value without expiry.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("localstore set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Missing keys are not an error.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	return s.RemoveMany(ctx, key)
}

// RemoveMany deletes keys in a single round trip.
func (s *RedisStore) RemoveMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.key(k))
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("localstore remove: %w", err)
	}
	return nil
}
