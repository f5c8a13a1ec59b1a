// Package dedup remembers which source messages were already fanned out.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store is a fast-path filter in front of the notifications table.
// A false negative is harmless; the table has the authoritative unique key.
type Store interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// Key builds the store key of a source message.
func Key(channelID string, messageID int64) string {
	return fmt.Sprintf("%s:%d", channelID, messageID)
}

// MemoryStore is a bounded in-process Store. When full, the least recently
// marked key is evicted.
type MemoryStore struct {
	cache *expirable.LRU[string, struct{}]
}

// NewMemoryStore creates an in-memory store holding at most capacity keys for ttl.
// A zero ttl keeps keys until they are evicted.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{cache: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

// Seen reports whether key was marked and has not expired.
func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	_, ok := s.cache.Peek(key)
	return ok, nil
}

// Mark records key.
func (s *MemoryStore) Mark(_ context.Context, key string) error {
	s.cache.Add(key, struct{}{})
	return nil
}

// Len returns the number of stored keys, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}
