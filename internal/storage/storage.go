// Package storage keeps analysis results keyed by a digest of the submitted
// drawing so repeated submissions skip the analyzer.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("storage: key not found")
	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("storage: key must not be empty")
)

// Storage is a byte-oriented result cache.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// MemoryStorage is a size-bounded LRU whose entries expire after a TTL.
// A zero size produces a storage that never retains anything.
type MemoryStorage struct {
	cache *expirable.LRU[string, []byte]
}

// NewMemoryStorage creates an in-process store holding at most size entries.
func NewMemoryStorage(size int, ttl time.Duration) *MemoryStorage {
	if size <= 0 {
		return &MemoryStorage{}
	}
	return &MemoryStorage{
		cache: expirable.NewLRU[string, []byte](size, nil, ttl),
	}
}

// Get returns a copy of the stored value.
func (s *MemoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if s.cache == nil {
		return nil, ErrNotFound
	}
	value, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return clone(value), nil
}

// Set stores a copy of value.
func (s *MemoryStorage) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidKey
	}
	if s.cache == nil {
		return nil
	}
	s.cache.Add(key, clone(value))
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStorage) Len() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Len()
}

// Close drops every entry.
func (s *MemoryStorage) Close() error {
	if s.cache != nil {
		s.cache.Purge()
	}
	return nil
}

func clone(src []byte) []byte {
	out := make([]byte, len(src))
	copy(out, src)
	return out
}
