package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore is an in-process Store with LRU eviction and TTL.
type MemoryStore struct {
	entries     map[string]*memoryEntry
	mutex       sync.Mutex
	maxSize     int64
	currentSize int64
	ttl         time.Duration
	// LRU doubly-linked list with dummy head and tail
	head *memoryEntry
	tail *memoryEntry
	// Statistics tracking (atomic for thread safety)
	hits   int64
	misses int64
}

type memoryEntry struct {
	key       string
	value     []byte
	createdAt time.Time
	size      int64
	prev      *memoryEntry
	next      *memoryEntry
}

// NewMemoryStore creates an in-memory store bounded to maxSize bytes with
// per-entry TTL expiry.
func NewMemoryStore(maxSize int64, ttl time.Duration) *MemoryStore {
	store := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
	store.head = &memoryEntry{}
	store.tail = &memoryEntry{}
	store.head.next = store.tail
	store.tail.prev = store.head
	return store
}

// Get retrieves a value from the store.
func (m *MemoryStore) Get(key string) ([]byte, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry, exists := m.entries[key]
	if !exists {
		atomic.AddInt64(&m.misses, 1)
		return nil, false, nil
	}

	if time.Since(entry.createdAt) > m.ttl {
		m.removeFromList(entry)
		delete(m.entries, key)
		m.currentSize -= entry.size
		atomic.AddInt64(&m.misses, 1)
		return nil, false, nil
	}

	m.moveToFront(entry)
	atomic.AddInt64(&m.hits, 1)
	return entry.value, true, nil
}

// Set stores a value. Entries are superseded whole, never mutated in place.
func (m *MemoryStore) Set(key string, value []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if existing, exists := m.entries[key]; exists {
		m.removeFromList(existing)
		delete(m.entries, key)
		m.currentSize -= existing.size
	}

	m.evictIfNeeded(int64(len(value)))

	entry := &memoryEntry{
		key:       key,
		value:     value,
		createdAt: time.Now(),
		size:      int64(len(value)),
	}
	m.entries[key] = entry
	m.currentSize += entry.size
	m.addToFront(entry)
	return nil
}

// Close releases nothing for the in-memory backend.
func (m *MemoryStore) Close() error { return nil }

// Clear drops all entries and resets statistics. Used between test runs.
func (m *MemoryStore) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.entries = make(map[string]*memoryEntry)
	m.currentSize = 0
	m.head.next = m.tail
	m.tail.prev = m.head
	atomic.StoreInt64(&m.hits, 0)
	atomic.StoreInt64(&m.misses, 0)
}

// Stats returns hit and miss counts.
func (m *MemoryStore) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&m.hits), atomic.LoadInt64(&m.misses)
}

// evictIfNeeded evicts least recently used entries until the new value fits.
func (m *MemoryStore) evictIfNeeded(newSize int64) {
	for m.currentSize+newSize > m.maxSize && m.tail.prev != m.head {
		lru := m.tail.prev
		m.removeFromList(lru)
		delete(m.entries, lru.key)
		m.currentSize -= lru.size
	}
}

func (m *MemoryStore) addToFront(entry *memoryEntry) {
	entry.prev = m.head
	entry.next = m.head.next
	m.head.next.prev = entry
	m.head.next = entry
}

func (m *MemoryStore) removeFromList(entry *memoryEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (m *MemoryStore) moveToFront(entry *memoryEntry) {
	m.removeFromList(entry)
	m.addToFront(entry)
}
