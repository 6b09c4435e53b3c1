// Copyright 2025 James Ross
package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/flyingrobots/reportgen/internal/config"
)

// Adapter uploads an artifact body and issues a time-limited signed URL for
// retrieving it afterwards. Every mode in config.Storage.Mode implements one.
// size may be -1 when the caller is streaming a generator's output and does
// not know the final length in advance (the job processor's upload tee
// computes size/checksum as a side effect of the copy, after the fact).
type Adapter interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	SignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
	Mode() string
}

// Factory builds an Adapter from the resolved storage configuration.
type Factory func(cfg *config.Config) (Adapter, error)

// Registry maps a storage.Mode name to the factory that builds it, the same
// shape as the teacher's queue-backend registry, generalized from queue
// backends to storage adapters.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(mode string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[mode] = factory
}

func (r *Registry) Create(cfg *config.Config) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Storage.Mode]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: mode %q not registered", cfg.Storage.Mode)
	}
	return factory(cfg)
}

var defaultRegistry = buildDefaultRegistry()

func buildDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("object-store-cloud", func(cfg *config.Config) (Adapter, error) { return newS3Adapter(cfg) })
	r.Register("object-store-local-compatible", func(cfg *config.Config) (Adapter, error) { return newS3Adapter(cfg) })
	r.Register("filesystem", func(cfg *config.Config) (Adapter, error) { return newFilesystemAdapter(cfg) })
	r.Register("noop", func(cfg *config.Config) (Adapter, error) { return newNoopAdapter(), nil })
	return r
}

// DefaultRegistry returns the process-wide storage adapter registry.
func DefaultRegistry() *Registry { return defaultRegistry }

// New builds the Adapter selected by cfg.Storage.Mode using the default
// registry.
func New(cfg *config.Config) (Adapter, error) {
	return defaultRegistry.Create(cfg)
}
