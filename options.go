package cache

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

const (
	// StorageDirectoryName is the directory created below the base directory
	// that holds every namespace of a cache.
	StorageDirectoryName = "cache"

	// DefaultNamespaceDir is used when no namespace is configured. Namespaces may
	// not start with an underscore, so it can never collide with a user namespace.
	DefaultNamespaceDir = "_default"

	// DefaultCapacity is the capacity in bytes used when Options.Capacity is 0.
	DefaultCapacity int64 = 10 * 1024 * 1024
)

// Options passed to New
//
// BaseDirectory: support directory supplied by the host. Required.
// Namespace: optional subdirectory isolating this cache from others sharing BaseDirectory.
// Capacity: maximum total payload bytes. 0 selects DefaultCapacity.
// Filesystem: filesystem rooted at BaseDirectory. nil selects the OS filesystem.
// HotEntries: number of payloads kept in memory in front of the disk. 0 disables it.
// HotTTL: time to live for hot payloads. 0 disables expiration.
type Options struct {
	BaseDirectory string
	Namespace     string
	Capacity      int64
	Filesystem    billy.Filesystem
	Logger        *zerolog.Logger
	MeterProvider metric.MeterProvider
	HotEntries    int
	HotTTL        time.Duration
}

func (o *Options) GetCapacity() int64 {
	if o.Capacity <= 0 {
		return DefaultCapacity
	}
	return o.Capacity
}

func (o *Options) GetLogger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

func (o *Options) GetFilesystem() billy.Filesystem {
	if o.Filesystem == nil {
		return osfs.New(o.BaseDirectory)
	}
	return o.Filesystem
}

// namespaceDir is the namespace directory relative to BaseDirectory.
func (o *Options) namespaceDir() string {
	ns := o.Namespace
	if ns == "" {
		ns = DefaultNamespaceDir
	}
	return filepath.Join(StorageDirectoryName, ns)
}

func (o *Options) validate() error {
	if o.BaseDirectory == "" {
		return fmt.Errorf("%w: BaseDirectory is required", ErrInvalidOptions)
	}
	if o.Capacity < 0 {
		return fmt.Errorf("%w: Capacity must not be negative", ErrInvalidOptions)
	}
	if o.HotEntries < 0 {
		return fmt.Errorf("%w: HotEntries must not be negative", ErrInvalidOptions)
	}
	return validateNamespace(o.Namespace)
}

func validateNamespace(ns string) error {
	if ns == "" {
		return nil
	}
	if strings.HasPrefix(ns, "_") || strings.HasPrefix(ns, ".") {
		return fmt.Errorf("%w: namespace %q must not start with '_' or '.'", ErrInvalidOptions, ns)
	}
	if strings.ContainsAny(ns, `/\:`) || strings.ContainsRune(ns, 0) {
		return fmt.Errorf("%w: namespace %q contains a path separator", ErrInvalidOptions, ns)
	}
	return nil
}
