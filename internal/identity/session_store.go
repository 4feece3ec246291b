package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionDevicePrefix   = "session:device:"
	sessionIdentityPrefix = "session:identity:"
)

// SessionStore keeps at most one live session per device.
type SessionStore interface {
	Get(ctx context.Context, deviceID string) (Session, error)
	Put(ctx context.Context, session Session) error
	Delete(ctx context.Context, deviceID string) error
	DevicesFor(ctx context.Context, identityID string) ([]string, error)
}

// MemorySessionStore is an in-memory SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	nowF     func() time.Time
}

// NewMemorySessionStore returns an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]Session),
		nowF:     time.Now,
	}
}

func (s *MemorySessionStore) Get(_ context.Context, deviceID string) (Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[deviceID]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}
	if !sess.ExpiresAt.After(s.nowF()) {
		s.mu.Lock()
		delete(s.sessions, deviceID)
		s.mu.Unlock()
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemorySessionStore) Put(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.DeviceID] = session
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, deviceID)
	return nil
}

func (s *MemorySessionStore) DevicesFor(_ context.Context, identityID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var devices []string
	for deviceID, sess := range s.sessions {
		if sess.IdentityID == identityID {
			devices = append(devices, deviceID)
		}
	}
	return devices, nil
}

// RedisSessionStore keeps sessions in Redis with a TTL matching their expiry.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore builds a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

// Get loads the device's session.
func (s *RedisSessionStore) Get(ctx context.Context, deviceID string) (Session, error) {
	raw, err := s.client.Get(ctx, sessionDevicePrefix+deviceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// Put stores session and indexes it under its identity.
func (s *RedisSessionStore) Put(ctx context.Context, session Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	indexKey := sessionIdentityPrefix + session.IdentityID
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionDevicePrefix+session.DeviceID, payload, ttl)
	pipe.SAdd(ctx, indexKey, session.DeviceID)
	pipe.Expire(ctx, indexKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes the device's session if any.
func (s *RedisSessionStore) Delete(ctx context.Context, deviceID string) error {
	sess, err := s.Get(ctx, deviceID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionDevicePrefix+deviceID)
	pipe.SRem(ctx, sessionIdentityPrefix+sess.IdentityID, deviceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DevicesFor lists devices that held a session for identityID. Entries whose
// session already expired may be returned.
func (s *RedisSessionStore) DevicesFor(ctx context.Context, identityID string) ([]string, error) {
	devices, err := s.client.SMembers(ctx, sessionIdentityPrefix+identityID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return devices, nil
}
