package auth

import (
	"context"
	"fmt"
	"sync"
)

// InMemorySessionStore is a thread-safe session store for tests and
// single-process use.
type InMemorySessionStore struct {
	mu   sync.RWMutex
	data map[string]Session
}

// NewInMemorySessionStore creates an empty in-memory store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		data: make(map[string]Session),
	}
}

// Set stores a session for a key.
func (c *InMemorySessionStore) Set(_ context.Context, key string, s Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = s
	return nil
}

// Fetch retrieves a session by its key.
func (c *InMemorySessionStore) Fetch(_ context.Context, key string) (Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.data[key]
	if !ok {
		return Session{}, fmt.Errorf("key '%s': %w", key, ErrNoSession)
	}
	return s, nil
}

// Delete removes a key.
func (c *InMemorySessionStore) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Close is a no-op for the in-memory implementation.
func (c *InMemorySessionStore) Close() error {
	return nil
}
