package tier

import (
	"context"
	"sync"
	"time"
)

// MemoryConfig holds configuration for the process-local tier.
type MemoryConfig struct {
	// MaxKeys bounds the number of entries. When reached, the least
	// recently used 10% are evicted.
	// Default: 100000
	MaxKeys int

	// Clock provides time operations for testing.
	// Default: SystemClock
	Clock Clock
}

// DefaultMemoryConfig returns the default configuration.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxKeys: 100000,
		Clock:   SystemClock{},
	}
}

// Memory is the process-local tier.
//
// Entries live in a map guarded by a single mutex; Update runs its callback
// under that mutex, so read-modify-write sequences are atomic within the process.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	lru     *lruList
	maxKeys int
	clock   Clock

	evictions int
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemory creates a process-local tier.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMemoryConfig().MaxKeys
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	return &Memory{
		entries: make(map[string]*memoryEntry),
		lru:     newLRUList(),
		maxKeys: cfg.MaxKeys,
		clock:   cfg.Clock,
	}
}

// Kind returns KindMemory.
func (m *Memory) Kind() Kind { return KindMemory }

// Get returns a copy of the stored value.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.load(key)
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

// Set stores a copy of value.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store(key, value, ttl)
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	m.lru.remove(key)
	return nil
}

// Update runs fn under the tier lock.
func (m *Memory) Update(_ context.Context, key string, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, _ := m.load(key)
	next, ttl, err := fn(current)
	if err != nil {
		return err
	}
	if next != nil {
		m.store(key, next, ttl)
	}
	return nil
}

// Sweep drops expired entries.
func (m *Memory) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, key)
			m.lru.remove(key)
			removed++
		}
	}
	return removed, nil
}

// Stats reports the number of held entries, including expired ones not yet swept.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Driver: KindMemory, Entries: len(m.entries)}, nil
}

// Evictions returns how many entries were dropped to respect MaxKeys.
func (m *Memory) Evictions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictions
}

// Close drops all entries.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry)
	m.lru = newLRUList()
	return nil
}

// load must be called with m.mu held.
func (m *Memory) load(key string) ([]byte, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(m.clock.Now()) {
		delete(m.entries, key)
		m.lru.remove(key)
		return nil, false
	}
	m.lru.touch(key)
	return append([]byte(nil), entry.value...), true
}

// store must be called with m.mu held.
func (m *Memory) store(key string, value []byte, ttl time.Duration) {
	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.maxKeys {
		m.evictLRU()
	}
	entry := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}
	m.entries[key] = entry
	m.lru.touch(key)
}

// evictLRU removes 10% of the keys, least recently used first.
func (m *Memory) evictLRU() {
	evictCount := m.maxKeys / 10
	if evictCount < 1 {
		evictCount = 1
	}
	for i := 0; i < evictCount && m.lru.tail != nil; i++ {
		key := m.lru.tail.key
		delete(m.entries, key)
		m.lru.remove(key)
		m.evictions++
	}
}

// lruList keeps keys ordered by last access, most recent at head.
type lruList struct {
	head *lruNode
	tail *lruNode
	keys map[string]*lruNode
}

type lruNode struct {
	key  string
	prev *lruNode
	next *lruNode
}

func newLRUList() *lruList {
	return &lruList{keys: make(map[string]*lruNode)}
}

func (l *lruList) touch(key string) {
	if node, ok := l.keys[key]; ok && node == l.head {
		return
	}
	l.remove(key)

	node := &lruNode{key: key, next: l.head}
	if l.head != nil {
		l.head.prev = node
	}
	l.head = node
	if l.tail == nil {
		l.tail = node
	}
	l.keys[key] = node
}

func (l *lruList) remove(key string) {
	node, ok := l.keys[key]
	if !ok {
		return
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	delete(l.keys, key)
}
