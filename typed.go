package cache

import (
	"github.com/vmihailenco/msgpack/v5"
)

type CacheEntry[K comparable, V any] struct {
	Key   K
	Value *V
}

type CacheEventType int

const (
	CacheEventSet CacheEventType = iota
	CacheEventRemove
	CacheEventClear
)

type CacheEvent[K comparable, V any] struct {
	Entry *CacheEntry[K, V]
	Type  CacheEventType
}

// Typed stores values of type V under keys of type K in a Cache. Values are
// msgpack encoded; the underlying Cache only ever sees strings.
//
// Keys that the CacheKey cannot unmarshal, such as keys written by other views
// of the same Cache, are ignored by Load and Subscribe.
type Typed[K comparable, V any] struct {
	cache    *Cache
	cacheKey CacheKey[K]
}

func NewTyped[K comparable, V any](cache *Cache, cacheKey CacheKey[K]) *Typed[K, V] {
	if cacheKey == nil {
		panic("CacheKey must be provided")
	}
	return &Typed[K, V]{
		cache:    cache,
		cacheKey: cacheKey,
	}
}

func (t *Typed[K, V]) Cache() *Cache {
	return t.cache
}

func (t *Typed[K, V]) Get(key K) (*V, bool) {
	data, ok := t.cache.Get(t.cacheKey.Marshal(key))
	if !ok {
		return nil, false
	}
	value, err := decodeValue[V](data)
	if err != nil {
		t.cache.logger.Warn().Err(err).Str("key", t.cacheKey.Marshal(key)).Msg("failed to decode cached value")
		return nil, false
	}
	return value, true
}

func (t *Typed[K, V]) Set(key K, value V) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return t.cache.Set(t.cacheKey.Marshal(key), string(data))
}

func (t *Typed[K, V]) Remove(key K) bool {
	return t.cache.Remove(t.cacheKey.Marshal(key))
}

func (t *Typed[K, V]) Contains(key K) bool {
	return t.cache.Has(t.cacheKey.Marshal(key))
}

// Load returns the entries of this view from least to most recently used without
// changing recency. Keys the CacheKey cannot unmarshal are skipped; a value that
// fails to decode is an error.
func (t *Typed[K, V]) Load() ([]CacheEntry[K, V], error) {
	var entries []CacheEntry[K, V]
	for _, stringKey := range t.cache.Keys() {
		key, err := t.cacheKey.Unmarshal(stringKey)
		if err != nil {
			continue
		}
		data, ok := t.cache.peek(stringKey)
		if !ok {
			continue
		}
		value, err := decodeValue[V](data)
		if err != nil {
			return nil, err
		}
		entries = append(entries, CacheEntry[K, V]{
			Key:   key,
			Value: value,
		})
	}
	return entries, nil
}

// Subscribe forwards events for keys of this view. Clear events have a nil Entry.
func (t *Typed[K, V]) Subscribe(callback func(CacheEvent[K, V])) Subscription {
	return t.cache.Subscribe(func(event Event) {
		if event.Type == EventClear {
			callback(CacheEvent[K, V]{Type: CacheEventClear})
			return
		}

		key, err := t.cacheKey.Unmarshal(event.Key)
		if err != nil {
			return
		}
		entry := &CacheEntry[K, V]{Key: key}

		if event.Type == EventRemove {
			callback(CacheEvent[K, V]{Entry: entry, Type: CacheEventRemove})
			return
		}

		value, err := decodeValue[V](event.Data)
		if err != nil {
			return
		}
		entry.Value = value
		callback(CacheEvent[K, V]{Entry: entry, Type: CacheEventSet})
	})
}

func decodeValue[V any](data string) (*V, error) {
	var value V
	if err := msgpack.Unmarshal([]byte(data), &value); err != nil {
		return nil, err
	}
	return &value, nil
}
