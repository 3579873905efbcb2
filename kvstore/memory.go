package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-claimbot/core"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a single-process KeyValueStore. It is atomic within the
// process only and backs tests and local runs.
type MemoryStore struct {
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
	err     error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:     func() time.Time { return time.Now().UTC() },
		entries: map[string]memoryEntry{},
	}
}

// FailWith makes every subsequent call return err until reset with nil.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	entry, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{value: append([]byte(nil), value...), expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	entry, ok := s.lookup(key)
	var current int64
	if ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(string(entry.value)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kvstore: value at %q is not an integer", key)
		}
		current = parsed
	}
	current++
	entry.value = []byte(strconv.FormatInt(current, 10))
	s.entries[key] = entry
	return current, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	entry, ok := s.lookup(key)
	if !ok {
		return nil
	}
	entry.expiresAt = s.expiry(ttl)
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	entry, ok := s.lookup(key)
	if !ok || entry.expiresAt.IsZero() {
		return -1, nil
	}
	return entry.expiresAt.Sub(s.now()), nil
}

// Keys returns the live keys with the given prefix.
func (s *MemoryStore) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		if _, ok := s.lookup(key); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (s *MemoryStore) lookup(key string) (memoryEntry, bool) {
	if s.entries == nil {
		s.entries = map[string]memoryEntry{}
	}
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

var _ core.KeyValueStore = (*MemoryStore)(nil)
