package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func keysOf(entries []EntryInfo) []string {
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.Key)
	}
	return keys
}

func TestIndexTouch(t *testing.T) {
	index := NewIndex()

	index.Touch("a", 10)
	index.Touch("b", 20)
	assert.Equal(t, int64(30), index.TotalSize())
	assert.Equal(t, 2, index.Len())

	// replacing a key only counts its new size
	index.Touch("a", 5)
	assert.Equal(t, int64(25), index.TotalSize())
	assert.Equal(t, []string{"b", "a"}, keysOf(index.Entries()))
}

func TestIndexHasDoesNotReorder(t *testing.T) {
	index := NewIndex()
	index.Touch("a", 1)
	index.Touch("b", 1)

	assert.True(t, index.Has("a"))
	assert.False(t, index.Has("c"))
	assert.Equal(t, []string{"a", "b"}, keysOf(index.Entries()))

	size, ok := index.Promote("a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), size)
	assert.Equal(t, []string{"b", "a"}, keysOf(index.Entries()))
}

func TestIndexRemove(t *testing.T) {
	index := NewIndex()
	index.Touch("a", 7)

	assert.True(t, index.Remove("a"))
	assert.False(t, index.Remove("a"))
	assert.Equal(t, int64(0), index.TotalSize())
	assert.Equal(t, 0, index.Len())
}

func TestIndexEvictUntil(t *testing.T) {
	index := NewIndex()
	index.Touch("a", 40)
	index.Touch("b", 40)
	index.Touch("c", 40)

	evicted := index.EvictUntilExcept(100, "c")
	assert.Equal(t, []EntryInfo{{Key: "a", Size: 40}}, evicted)
	assert.Equal(t, int64(80), index.TotalSize())

	evicted = index.EvictUntilExcept(0, "c")
	assert.Equal(t, []string{"b"}, keysOf(evicted))
	assert.Equal(t, []string{"c"}, keysOf(index.Entries()))

	evicted = index.EvictUntil(0)
	assert.Equal(t, []string{"c"}, keysOf(evicted))
	assert.Equal(t, 0, index.Len())
}

func TestIndexEvictEmptyKey(t *testing.T) {
	index := NewIndex()
	index.Touch("", 40)
	index.Touch("b", 40)

	evicted := index.EvictUntil(50)
	assert.Equal(t, []EntryInfo{{Key: "", Size: 40}}, evicted)
	assert.Equal(t, int64(40), index.TotalSize())

	// an empty key can still be pinned
	index.Touch("", 40)
	evicted = index.EvictUntilExcept(0, "")
	assert.Equal(t, []string{"b"}, keysOf(evicted))
	assert.Equal(t, []string{""}, keysOf(index.Entries()))
}

func TestIndexRebuildOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	index := NewIndex()
	index.Rebuild([]ScannedEntry{
		{Key: "late", Size: 1, ModTime: base.Add(time.Minute)},
		{Key: "b", Size: 1, ModTime: base},
		{Key: "a", Size: 1, ModTime: base},
		{Key: "c", Size: 1, ModTime: base},
	})

	assert.Equal(t, []string{"a", "b", "c", "late"}, keysOf(index.Entries()))
	assert.Equal(t, int64(4), index.TotalSize())

	evicted := index.EvictUntil(2)
	assert.Equal(t, []string{"a", "b"}, keysOf(evicted))
}

func TestIndexReset(t *testing.T) {
	index := NewIndex()
	index.Touch("a", 3)
	index.Reset()

	assert.Equal(t, 0, index.Len())
	assert.Equal(t, int64(0), index.TotalSize())
	assert.False(t, index.Has("a"))
}
