package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]Identity
	byPhone map[string]string
	byEmail map[string]string
}

// NewMemoryRepository builds an in-memory identity store for tests and dev mode.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		byID:    make(map[string]Identity),
		byPhone: make(map[string]string),
		byEmail: make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, identity Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPhone[identity.ContactPhone]; exists {
		return ErrDuplicatePhone
	}
	email := strings.ToLower(identity.Email)
	if _, exists := r.byEmail[email]; exists && email != "" {
		return ErrDuplicateEmail
	}
	r.byID[identity.ID] = identity
	r.byPhone[identity.ContactPhone] = identity.ID
	if email != "" {
		r.byEmail[email] = identity.ID
	}
	return nil
}

func (r *memoryRepository) FindByPhone(_ context.Context, phone string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPhone[phone]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return identity, nil
}

func (r *memoryRepository) Update(_ context.Context, id string, patch Patch) (Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	oldEmail := strings.ToLower(identity.Email)
	patch.Apply(&identity)
	newEmail := strings.ToLower(identity.Email)
	if newEmail != oldEmail {
		if owner, exists := r.byEmail[newEmail]; exists && owner != id {
			return Identity{}, ErrDuplicateEmail
		}
		delete(r.byEmail, oldEmail)
		if newEmail != "" {
			r.byEmail[newEmail] = id
		}
	}
	identity.UpdatedAt = time.Now().UTC()
	r.byID[id] = identity
	return identity, nil
}
