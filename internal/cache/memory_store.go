package cache

import (
	"strings"
	"sync"
	"time"
)

// NewMemoryStore 构建进程内缓存，生命周期与持有它的 ApiProxy 相同。
func NewMemoryStore() Store {
	return &memoryStore{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

func (s *memoryStore) Get(locator Locator) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[locator.Key()]
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry.Body = append([]byte(nil), entry.Body...)
	return entry, nil
}

func (s *memoryStore) Put(locator Locator, body []byte, contentType string) Entry {
	entry := Entry{
		Locator:     locator,
		Body:        append([]byte(nil), body...),
		ContentType: contentType,
		StoredAt:    s.now().UTC(),
	}

	s.mu.Lock()
	s.entries[locator.Key()] = entry
	s.mu.Unlock()

	entry.Body = append([]byte(nil), entry.Body...)
	return entry
}

func (s *memoryStore) Remove(locator Locator) {
	s.mu.Lock()
	delete(s.entries, locator.Key())
	s.mu.Unlock()
}

func (s *memoryStore) Purge(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if endpoint == "" {
		n := len(s.entries)
		s.entries = make(map[string]Entry)
		return n
	}

	// 前缀带上分隔符，避免清理 getItems 时误删 getItemsByID。
	prefix := endpoint + keySeparator
	removed := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *memoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
