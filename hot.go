package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// hotTier keeps recently used payloads in memory so repeated reads skip the
// disk. A nil *hotTier is valid and caches nothing.
type hotTier struct {
	lru *expirable.LRU[string, string]
}

func newHotTier(size int, ttl time.Duration) *hotTier {
	if size <= 0 {
		return nil
	}
	return &hotTier{
		lru: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (h *hotTier) get(key string) (string, bool) {
	if h == nil {
		return "", false
	}
	return h.lru.Get(key)
}

func (h *hotTier) add(key, data string) {
	if h == nil {
		return
	}
	h.lru.Add(key, data)
}

func (h *hotTier) remove(key string) {
	if h == nil {
		return
	}
	h.lru.Remove(key)
}

func (h *hotTier) purge() {
	if h == nil {
		return
	}
	h.lru.Purge()
}

func (h *hotTier) len() int {
	if h == nil {
		return 0
	}
	return h.lru.Len()
}
