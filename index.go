package cache

import (
	"math"
	"sort"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Index tracks key sizes and recency without holding payloads.
// The oldest element of the underlying list is the next eviction candidate.
// Index is not safe for concurrent use; Cache serializes access to it.
type Index struct {
	lru   *simplelru.LRU[string, int64]
	total int64
}

// EntryInfo is the index view of a single entry.
type EntryInfo struct {
	Key  string
	Size int64
}

func NewIndex() *Index {
	// Capacity is enforced in bytes by EvictUntil, never by entry count.
	lru, err := simplelru.NewLRU[string, int64](math.MaxInt, nil)
	if err != nil {
		panic(err)
	}
	return &Index{lru: lru}
}

// Touch inserts key as most recently used, replacing any previous size.
func (i *Index) Touch(key string, size int64) {
	if old, ok := i.lru.Peek(key); ok {
		i.total -= old
	}
	i.lru.Add(key, size)
	i.total += size
}

// Promote marks key as most recently used if present.
func (i *Index) Promote(key string) (int64, bool) {
	return i.lru.Get(key)
}

// Has reports membership without changing recency.
func (i *Index) Has(key string) bool {
	return i.lru.Contains(key)
}

func (i *Index) Size(key string) (int64, bool) {
	return i.lru.Peek(key)
}

func (i *Index) Remove(key string) bool {
	size, ok := i.lru.Peek(key)
	if !ok {
		return false
	}
	i.lru.Remove(key)
	i.total -= size
	return true
}

func (i *Index) TotalSize() int64 {
	return i.total
}

func (i *Index) Len() int {
	return i.lru.Len()
}

// EvictUntil drops least recently used entries until the total size fits into
// capacity and returns them in eviction order.
func (i *Index) EvictUntil(capacity int64) []EntryInfo {
	return i.evict(capacity, func(string) bool { return false })
}

// EvictUntilExcept is EvictUntil with key pinned. Eviction stops when key is the
// oldest entry left.
func (i *Index) EvictUntilExcept(capacity int64, key string) []EntryInfo {
	return i.evict(capacity, func(oldest string) bool { return oldest == key })
}

func (i *Index) evict(capacity int64, pinned func(string) bool) []EntryInfo {
	var evicted []EntryInfo
	for i.total > capacity {
		key, size, ok := i.lru.GetOldest()
		if !ok || pinned(key) {
			break
		}
		i.lru.Remove(key)
		i.total -= size
		evicted = append(evicted, EntryInfo{Key: key, Size: size})
	}
	return evicted
}

// Entries returns all entries from least to most recently used.
func (i *Index) Entries() []EntryInfo {
	keys := i.lru.Keys()
	entries := make([]EntryInfo, 0, len(keys))
	for _, key := range keys {
		size, _ := i.lru.Peek(key)
		entries = append(entries, EntryInfo{Key: key, Size: size})
	}
	return entries
}

func (i *Index) Reset() {
	i.lru.Purge()
	i.total = 0
}

// Rebuild loads scanned entries, oldest modification time first. Entries with
// the same modification time are ordered by key, so the smallest key is evicted
// first.
func (i *Index) Rebuild(entries []ScannedEntry) {
	sorted := make([]ScannedEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(a, b int) bool {
		if !sorted[a].ModTime.Equal(sorted[b].ModTime) {
			return sorted[a].ModTime.Before(sorted[b].ModTime)
		}
		return sorted[a].Key < sorted[b].Key
	})

	for _, entry := range sorted {
		i.Touch(entry.Key, entry.Size)
	}
}
