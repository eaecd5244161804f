package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mahmoodamara/barber-bang-sub001/internal/payments/ports"
)

type entry struct {
	response ports.StoredResponse
	savedAt  time.Time
}

// Store retains operator responses for replaying retried requests.
// The first response saved for a key wins until it ages past the retention window.
type Store struct {
	mu        sync.RWMutex
	items     map[string]entry
	retention time.Duration
	now       func() time.Time
}

// NewStore creates a new in-memory idempotency store. A zero retention keeps entries forever.
func NewStore(retention time.Duration) *Store {
	return &Store{
		items:     make(map[string]entry),
		retention: retention,
		now:       time.Now,
	}
}

// Get returns the stored response for a given key if present and not expired.
func (s *Store) Get(_ context.Context, key string) (*ports.StoredResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.items[key]
	if !ok || s.expired(value) {
		return nil, nil
	}
	copy := value.response
	return &copy, nil
}

// Save stores the response unless a live one already exists for the key.
func (s *Store) Save(_ context.Context, key string, response ports.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[key]; ok && !s.expired(existing) {
		return nil
	}
	s.items[key] = entry{response: response, savedAt: s.now()}
	return nil
}

func (s *Store) expired(e entry) bool {
	return s.retention > 0 && s.now().Sub(e.savedAt) > s.retention
}
