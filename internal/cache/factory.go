// factory.go implements the cache backend registry and factory, mapping
// backend type strings to constructor functions and dispatching New calls.
package cache

import (
	"fmt"

	"github.com/sheet-reports/sheet-reports/internal/config"
)

// FactoryFunc creates a cache backend from configuration.
type FactoryFunc func(*config.Config) (Backend, error)

var factories = make(map[string]FactoryFunc)

// Register registers a cache backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// New creates a cache backend based on configuration
func New(cfg *config.Config) (Backend, error) {
	factory, ok := factories[cfg.Cache.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported cache backend: %s (must be 'fs')", cfg.Cache.Backend)
	}

	return factory(cfg)
}
