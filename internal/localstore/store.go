// Package localstore holds the device-local key/value state the app keeps
// between launches: remembered contact, onboarding and lock flags, and the
// cached login hints.
package localstore

import (
	"context"
	"sync"
)

// Keys used by the app. The names match what earlier client builds wrote so
// existing devices keep their remembered user.
const (
	KeyRememberedUser   = "rememberedUser"
	KeyUserPhone        = "userPhone"
	KeyCurrentUserID    = "currentUserId"
	KeyIsLoggedIn       = "isLoggedIn"
	KeyUserEmail        = "userEmail"
	KeyLandingCompleted = "landingCompleted"
	KeyAppLocked        = "appLocked"
)

// AllKeys lists every key the app owns. Switching account removes all of them.
var AllKeys = []string{
	KeyRememberedUser,
	KeyUserPhone,
	KeyCurrentUserID,
	KeyIsLoggedIn,
	KeyUserEmail,
	KeyLandingCompleted,
	KeyAppLocked,
}

// Store is a string-keyed, string-valued persistence layer. Implementations
// return from Set only after the value is durable.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	RemoveMany(ctx context.Context, keys ...string) error
}

// MemoryStore keeps values in process memory. Used by tests and dev mode.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStore) RemoveMany(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

// MemoryDevices hands out one MemoryStore per device and keeps it for the
// life of the process, so a device whose app is rebuilt finds its flags.
type MemoryDevices struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryDevices builds an empty registry.
func NewMemoryDevices() *MemoryDevices {
	return &MemoryDevices{stores: make(map[string]*MemoryStore)}
}

// For returns deviceID's store, creating it on first use.
func (d *MemoryDevices) For(deviceID string) Store {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.stores[deviceID]
	if !ok {
		s = NewMemoryStore()
		d.stores[deviceID] = s
	}
	return s
}
