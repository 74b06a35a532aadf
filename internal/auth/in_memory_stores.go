package auth

import (
	"context"
	"sync"
)

// InMemoryTokenStore provides an in-memory implementation of the TokenStore interface.
type InMemoryTokenStore struct {
	mu   sync.Mutex
	pair *TokenPair
}

// NewInMemoryTokenStore creates a new InMemoryTokenStore.
func NewInMemoryTokenStore() *InMemoryTokenStore {
	return &InMemoryTokenStore{}
}

// Get returns the stored pair or ErrTokenNotFound.
func (s *InMemoryTokenStore) Get(ctx context.Context) (TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return TokenPair{}, ErrTokenNotFound
	}
	return *s.pair, nil
}

// Save replaces the stored pair.
func (s *InMemoryTokenStore) Save(ctx context.Context, pair TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = &pair
	return nil
}

// Remove clears the stored pair.
func (s *InMemoryTokenStore) Remove(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	return nil
}
