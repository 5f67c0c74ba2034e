package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// CacheKey converts typed keys to the string keys stored by Cache and back.
// Unmarshal must reject every string Marshal cannot produce, so that keys
// written through other views are not picked up by mistake.
type CacheKey[K comparable] interface {
	Marshal(K) string
	Unmarshal(string) (K, error)
}

// StringCacheKey stores keys of any string type unchanged.
type StringCacheKey[K ~string] struct{}

func (StringCacheKey[K]) Marshal(key K) string {
	return string(key)
}

func (StringCacheKey[K]) Unmarshal(data string) (K, error) {
	return K(data), nil
}

type Signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

// IntCacheKey stores signed integer keys in base 10. Only the canonical form
// is accepted back: "07", "+7" or values out of range for K are errors.
type IntCacheKey[K Signed] struct{}

func (IntCacheKey[K]) Marshal(key K) string {
	return strconv.FormatInt(int64(key), 10)
}

func (IntCacheKey[K]) Unmarshal(data string) (K, error) {
	n, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return 0, err
	}
	key := K(n)
	if int64(key) != n {
		return 0, fmt.Errorf("key %q overflows %T", data, key)
	}
	if strconv.FormatInt(n, 10) != data {
		return 0, fmt.Errorf("key %q is not in canonical form", data)
	}
	return key, nil
}

// PrefixCacheKey scopes another CacheKey below a fixed prefix, so several typed
// views can share one Cache without their keys overlapping.
type PrefixCacheKey[K comparable] struct {
	Prefix string
	Key    CacheKey[K]
}

func (k *PrefixCacheKey[K]) Marshal(key K) string {
	return k.Prefix + ":" + k.Key.Marshal(key)
}

func (k *PrefixCacheKey[K]) Unmarshal(data string) (K, error) {
	rest, ok := strings.CutPrefix(data, k.Prefix+":")
	if !ok {
		var zero K
		return zero, fmt.Errorf("key %q does not have prefix %q", data, k.Prefix)
	}
	return k.Key.Unmarshal(rest)
}
