package cache

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by the entry store for keys without a stored payload.
// Cache.Get and Cache.Has report absence through their boolean result instead.
var ErrNotFound = errors.New("cache entry not found")

// ErrCorrupted is returned when a stored entry fails header or checksum validation.
var ErrCorrupted = errors.New("cache entry is corrupted")

// ErrInvalidOptions is wrapped by every option validation failure of New.
var ErrInvalidOptions = errors.New("invalid cache options")

// IOError reports a failed filesystem operation.
type IOError struct {
	Op   string
	Key  string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cache %s %q (%s): %v", e.Op, e.Key, e.Path, e.Err)
	}
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// CapacityExceededError is returned by Set when a single payload is larger than
// the whole cache capacity. Nothing is written in that case.
type CapacityExceededError struct {
	Key      string
	Size     int64
	Capacity int64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("cache entry %q of %d bytes exceeds capacity of %d bytes", e.Key, e.Size, e.Capacity)
}
