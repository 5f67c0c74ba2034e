package cache

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedString(t *testing.T) {
	typed := NewTyped[string, string](newTestCache(t, memfs.New(), nil), StringCacheKey[string]{})

	assert.NotNil(t, typed)
	assert.Nil(t, typed.Set("foo", "bar"))
	value, ok := typed.Get("foo")
	assert.True(t, ok)
	assert.Equal(t, "bar", *value)
	ok = typed.Remove("foo")
	assert.True(t, ok)
	value, ok = typed.Get("foo")
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestTypedInt(t *testing.T) {
	typed := NewTyped[int, int](newTestCache(t, memfs.New(), nil), IntCacheKey[int]{})

	assert.Nil(t, typed.Set(1, 2))
	assert.True(t, typed.Contains(1))
	value, ok := typed.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 2, *value)
	ok = typed.Remove(1)
	assert.True(t, ok)
	assert.False(t, typed.Contains(1))
}

func TestTypedStruct(t *testing.T) {
	type TestStruct struct {
		Foo string
		Bar []int
	}

	typed := NewTyped[int, TestStruct](newTestCache(t, memfs.New(), nil), IntCacheKey[int]{})

	assert.Nil(t, typed.Set(1, TestStruct{Foo: "bar", Bar: []int{1, 2}}))
	value, ok := typed.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "bar", value.Foo)
	assert.Equal(t, []int{1, 2}, value.Bar)
}

func TestTypedUndecodableValue(t *testing.T) {
	cache := newTestCache(t, memfs.New(), nil)
	typed := NewTyped[string, int](cache, StringCacheKey[string]{})

	require.NoError(t, cache.Set("foo", "\xc1"))
	value, ok := typed.Get("foo")
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestTypedLoad(t *testing.T) {
	fs := memfs.New()
	typed := NewTyped[string, string](newTestCache(t, fs, nil), StringCacheKey[string]{})

	entries, err := typed.Load()
	assert.Nil(t, err)
	assert.Empty(t, entries)

	require.NoError(t, typed.Set("foo", "bar"))
	require.NoError(t, typed.Set("fizz", "buzz"))

	reopened := NewTyped[string, string](newTestCache(t, fs, nil), StringCacheKey[string]{})
	entries, err = reopened.Load()
	assert.Nil(t, err)
	require.Len(t, entries, 2)

	values := map[string]string{}
	for _, entry := range entries {
		values[entry.Key] = *entry.Value
	}
	assert.Equal(t, map[string]string{"foo": "bar", "fizz": "buzz"}, values)
}

func TestTypedLoadKeepsRecency(t *testing.T) {
	cache := newTestCache(t, memfs.New(), nil)
	typed := NewTyped[int, int](cache, IntCacheKey[int]{})

	require.NoError(t, typed.Set(1, 10))
	require.NoError(t, typed.Set(2, 20))
	require.NoError(t, cache.Set("not-an-int", "x"))

	entries, err := typed.Load()
	assert.Nil(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Key)
	assert.Equal(t, 2, entries[1].Key)

	assert.Equal(t, []string{"1", "2", "not-an-int"}, cache.Keys())
}

func TestTypedSubscribe(t *testing.T) {
	cache := newTestCache(t, memfs.New(), nil)
	typed := NewTyped[int, string](cache, IntCacheKey[int]{})

	var events []CacheEvent[int, string]
	typed.Subscribe(func(event CacheEvent[int, string]) {
		events = append(events, event)
	})

	require.NoError(t, typed.Set(1, "one"))
	require.NoError(t, cache.Set("other", "ignored"))
	typed.Remove(1)
	cache.Clear()

	require.Len(t, events, 3)
	assert.Equal(t, CacheEventSet, events[0].Type)
	assert.Equal(t, 1, events[0].Entry.Key)
	assert.Equal(t, "one", *events[0].Entry.Value)
	assert.Equal(t, CacheEventRemove, events[1].Type)
	assert.Equal(t, 1, events[1].Entry.Key)
	assert.Nil(t, events[1].Entry.Value)
	assert.Equal(t, CacheEventClear, events[2].Type)
	assert.Nil(t, events[2].Entry)
}

func TestTypedRequiresCacheKey(t *testing.T) {
	assert.Panics(t, func() {
		NewTyped[string, string](newTestCache(t, memfs.New(), nil), nil)
	})
}

func TestCacheKeys(t *testing.T) {
	intKey := IntCacheKey[int]{}
	assert.Equal(t, "42", intKey.Marshal(42))
	assert.Equal(t, "-3", intKey.Marshal(-3))
	value, err := intKey.Unmarshal("42")
	assert.Nil(t, err)
	assert.Equal(t, 42, value)
	_, err = intKey.Unmarshal("x")
	assert.NotNil(t, err)

	stringKey := StringCacheKey[string]{}
	assert.Equal(t, "foo", stringKey.Marshal("foo"))

	prefixed := &PrefixCacheKey[int]{Prefix: "users", Key: intKey}
	assert.Equal(t, "users:7", prefixed.Marshal(7))
	value, err = prefixed.Unmarshal("users:7")
	assert.Nil(t, err)
	assert.Equal(t, 7, value)
	_, err = prefixed.Unmarshal("groups:7")
	assert.NotNil(t, err)
}

func TestIntCacheKeyRejectsNonCanonical(t *testing.T) {
	intKey := IntCacheKey[int]{}
	for _, data := range []string{"07", "+7", "-0", " 7", ""} {
		_, err := intKey.Unmarshal(data)
		assert.NotNil(t, err, data)
	}

	small := IntCacheKey[int8]{}
	value, err := small.Unmarshal("-128")
	assert.Nil(t, err)
	assert.Equal(t, int8(-128), value)
	_, err = small.Unmarshal("128")
	assert.NotNil(t, err)
}

func TestStringCacheKeyNamedType(t *testing.T) {
	type Path string

	typed := NewTyped[Path, int](newTestCache(t, memfs.New(), nil), StringCacheKey[Path]{})
	require.NoError(t, typed.Set(Path("/docs/index"), 3))

	entries, err := typed.Load()
	assert.Nil(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Path("/docs/index"), entries[0].Key)
	assert.Equal(t, 3, *entries[0].Value)
}

func TestTypedIgnoresNonCanonicalKeys(t *testing.T) {
	cache := newTestCache(t, memfs.New(), nil)
	typed := NewTyped[int, int](cache, IntCacheKey[int]{})

	require.NoError(t, typed.Set(7, 1))
	require.NoError(t, cache.Set("07", "\x01"))

	entries, err := typed.Load()
	assert.Nil(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 7, entries[0].Key)
}

func TestTypedPrefixedViewsShareCache(t *testing.T) {
	cache := newTestCache(t, memfs.New(), nil)
	users := NewTyped[int, string](cache, &PrefixCacheKey[int]{Prefix: "users", Key: IntCacheKey[int]{}})
	groups := NewTyped[int, string](cache, &PrefixCacheKey[int]{Prefix: "groups", Key: IntCacheKey[int]{}})

	require.NoError(t, users.Set(1, "alice"))
	require.NoError(t, groups.Set(1, "admins"))

	user, ok := users.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "alice", *user)

	entries, err := groups.Load()
	assert.Nil(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "admins", *entries[0].Value)
}
