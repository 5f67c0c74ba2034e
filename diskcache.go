package cache

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache is a disk-backed key/value store for opaque string payloads. The total
// payload size is bounded by a capacity in bytes; when a write exceeds it, the
// least recently used entries are removed.
//
// All operations are synchronous. Subscribers are notified after the operation
// has completed, so they may call back into the cache. Sharing one namespace
// directory between processes that write concurrently is not supported.
type Cache struct {
	mu       sync.Mutex
	options  *Options
	capacity int64
	dir      string

	store       *FileStore
	index       *Index
	hot         *hotTier
	subscribers *subscriberRegistry
	metrics     *metrics
	logger      zerolog.Logger

	hits      int64
	misses    int64
	writes    int64
	evictions int64
}

// New opens the cache described by options and rebuilds its index from the
// entries already on disk. Unreadable entries are skipped; a namespace
// directory that cannot be listed is an error.
func New(options *Options) (*Cache, error) {
	if options == nil {
		options = &Options{}
	}
	if err := options.validate(); err != nil {
		return nil, err
	}

	namespace := options.Namespace
	if namespace == "" {
		namespace = DefaultNamespaceDir
	}

	m, err := newMetrics(options.MeterProvider, namespace)
	if err != nil {
		return nil, err
	}

	relDir := options.namespaceDir()
	c := &Cache{
		options:     options,
		capacity:    options.GetCapacity(),
		dir:         filepath.Join(options.BaseDirectory, relDir),
		store:       NewFileStore(options.GetFilesystem(), relDir),
		index:       NewIndex(),
		hot:         newHotTier(options.HotEntries, options.HotTTL),
		subscribers: newSubscriberRegistry(),
		metrics:     m,
		logger:      options.GetLogger().With().Str("namespace", namespace).Logger(),
	}

	if options.Filesystem == nil {
		c.store.osRoot = options.BaseDirectory
	}

	if err := c.load(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Cache) load() error {
	if n := c.store.CleanupTemp(); n > 0 {
		c.logger.Info().Int("count", n).Msg("removed leftover temporary files")
	}

	entries, err := c.store.Scan()
	if err != nil {
		c.logger.Error().Err(err).Str("dir", c.dir).Msg("failed to scan cache directory")
		return err
	}

	var scanned []ScannedEntry
	for entry, err := range entries {
		if err != nil {
			c.logger.Warn().Err(err).Str("path", entry.Path).Msg("skipping unreadable cache entry")
			continue
		}
		scanned = append(scanned, entry)
	}
	c.index.Rebuild(scanned)

	// The capacity may have been lowered since the entries were written.
	evicted := c.index.EvictUntil(c.capacity)
	for _, entry := range evicted {
		c.deleteFromStore(entry.Key)
	}
	c.evictions += int64(len(evicted))
	c.metrics.evicted(len(evicted))
	c.metrics.sizeChanged(c.index.TotalSize())

	c.logger.Debug().
		Int("entries", c.index.Len()).
		Int64("size", c.index.TotalSize()).
		Int("evicted", len(evicted)).
		Msg("cache loaded")

	return nil
}

// StorageDirectory returns the directory holding this cache's entries.
func (c *Cache) StorageDirectory() string {
	return c.dir
}

func (c *Cache) Capacity() int64 {
	return c.capacity
}

// Get returns the data stored for key and marks it as most recently used.
func (c *Cache) Get(key string) (string, bool) {
	data, ok, events := c.get(key)
	c.subscribers.notify(events)
	return data, ok
}

func (c *Cache) get(key string) (string, bool, []Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index.Promote(key); !ok {
		c.misses++
		c.metrics.miss()
		return "", false, nil
	}

	data, ok := c.hot.get(key)
	if !ok {
		var err error
		data, err = c.store.Read(key)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("dropping unreadable cache entry")
			events := c.dropLocked(key)
			c.misses++
			c.metrics.miss()
			return "", false, events
		}
		c.hot.add(key, data)
	}

	if err := c.store.Touch(key, time.Now()); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to update entry access time")
	}

	c.hits++
	c.metrics.hit()
	return data, true, nil
}

// peek reads data for key without changing its recency.
func (c *Cache) peek(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.index.Has(key) {
		return "", false
	}
	if data, ok := c.hot.get(key); ok {
		return data, true
	}
	data, err := c.store.Read(key)
	if err != nil {
		return "", false
	}
	return data, true
}

// Has reports whether data is stored for key. It does not affect recency.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Has(key)
}

func (c *Cache) IsEmpty() bool {
	return c.Len() == 0
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// Size returns the total payload bytes currently stored.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.TotalSize()
}

// Entries returns keys and sizes from least to most recently used.
func (c *Cache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Entries()
}

// Keys returns all keys from least to most recently used.
func (c *Cache) Keys() []string {
	entries := c.Entries()
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.Key)
	}
	return keys
}

// Set stores data for key. If the total size then exceeds the capacity, least
// recently used entries are evicted. Subscribers see the set first, followed by
// one remove event per evicted key.
//
// A payload larger than the capacity is rejected with *CapacityExceededError.
// Filesystem failures are returned as *IOError and leave the cache unchanged.
func (c *Cache) Set(key, data string) error {
	events, err := c.set(key, data)
	c.subscribers.notify(events)
	return err
}

func (c *Cache) set(key, data string) ([]Event, error) {
	size := int64(len(data))
	if size > c.capacity {
		return nil, &CapacityExceededError{Key: key, Size: size, Capacity: c.capacity}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Write(key, data); err != nil {
		c.logger.Error().Err(err).Str("key", key).Int64("size", size).Msg("failed to write cache entry")
		return nil, err
	}

	before := c.index.TotalSize()
	c.index.Touch(key, size)
	c.hot.add(key, data)
	c.writes++
	c.metrics.write()

	events := []Event{{Type: EventSet, Key: key, Data: data}}

	evicted := c.index.EvictUntilExcept(c.capacity, key)
	for _, entry := range evicted {
		c.deleteFromStore(entry.Key)
		c.hot.remove(entry.Key)
		events = append(events, Event{Type: EventRemove, Key: entry.Key, Evicted: true})
		c.logger.Debug().Str("key", entry.Key).Int64("size", entry.Size).Msg("evicted cache entry")
	}
	c.evictions += int64(len(evicted))
	c.metrics.evicted(len(evicted))
	c.metrics.sizeChanged(c.index.TotalSize() - before)

	return events, nil
}

// Remove deletes the data stored for key and reports whether there was any.
// Removing an absent key notifies nobody.
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	events := c.dropLocked(key)
	c.mu.Unlock()

	c.subscribers.notify(events)
	return len(events) > 0
}

func (c *Cache) dropLocked(key string) []Event {
	size, ok := c.index.Size(key)
	if !ok {
		return nil
	}
	c.index.Remove(key)
	c.hot.remove(key)
	c.deleteFromStore(key)
	c.metrics.sizeChanged(-size)

	return []Event{{Type: EventRemove, Key: key}}
}

// deleteFromStore removes an entry file. Failures are logged only: the entry is
// already gone from the index, and a leftover file is picked up again by the
// next New.
func (c *Cache) deleteFromStore(key string) {
	if _, err := c.store.Delete(key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to delete cache entry")
	}
}

type clearOptions struct {
	notify bool
}

type ClearOption func(*clearOptions)

// WithoutNotify suppresses the clear event.
func WithoutNotify() ClearOption {
	return func(o *clearOptions) {
		o.notify = false
	}
}

// Clear removes all entries and the namespace directory. Subscribers receive a
// single EventClear unless WithoutNotify is passed.
func (c *Cache) Clear(opts ...ClearOption) {
	o := clearOptions{notify: true}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	size := c.index.TotalSize()
	c.index.Reset()
	c.hot.purge()
	if err := c.store.RemoveAll(); err != nil {
		c.logger.Error().Err(err).Str("dir", c.dir).Msg("failed to clear cache directory")
	}
	c.metrics.sizeChanged(-size)
	c.mu.Unlock()

	if o.notify {
		c.subscribers.notify([]Event{{Type: EventClear}})
	}
}

// Subscribe registers subscriber for all future events.
func (c *Cache) Subscribe(subscriber Subscriber) Subscription {
	if subscriber == nil {
		return func() {}
	}
	return c.subscribers.add(subscriber)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:    c.index.Len(),
		Size:       c.index.TotalSize(),
		Capacity:   c.capacity,
		Hits:       c.hits,
		Misses:     c.misses,
		Writes:     c.writes,
		Evictions:  c.evictions,
		HotEntries: c.hot.len(),
	}
}

// Namespace returns the configured namespace, or DefaultNamespaceDir.
func (c *Cache) Namespace() string {
	if c.options.Namespace == "" {
		return DefaultNamespaceDir
	}
	return c.options.Namespace
}
