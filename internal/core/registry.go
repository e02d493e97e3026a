package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// DefaultEntity is the config returned by Lookup for unrecognized names.
const DefaultEntity = "deals"

// ErrUnknownEntity is returned when an entity name is not registered.
var ErrUnknownEntity = errors.New("unknown entity")

var (
	registry   = make(map[string]*EntityConfig)
	registryMu sync.RWMutex
)

// Register adds an entity config to the registry.
// Panics if the config is invalid or an entity with the same name exists.
func Register(cfg *EntityConfig) {
	if err := cfg.init(); err != nil {
		panic(fmt.Sprintf("invalid entity config %q: %v", cfg.Name, err))
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[cfg.Name]; exists {
		panic(fmt.Sprintf("entity already registered: %s", cfg.Name))
	}
	registry[cfg.Name] = cfg
}

// Get returns an entity config by name.
// Returns false if not found.
func Get(name string) (*EntityConfig, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	cfg, ok := registry[name]
	return cfg, ok
}

// Lookup returns the config for name, falling back to DefaultEntity when the
// name is not registered. The fallback is logged at WARN and reported through
// the second return value. If neither is registered it returns ErrUnknownEntity.
func Lookup(name string, logger *slog.Logger) (*EntityConfig, bool, error) {
	if cfg, ok := Get(name); ok {
		return cfg, false, nil
	}

	cfg, ok := Get(DefaultEntity)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("unknown entity, using default config",
		"entity", name,
		"default", DefaultEntity,
	)
	return cfg, true, nil
}

// All returns all registered entity configs sorted by name.
func All() []*EntityConfig {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]*EntityConfig, 0, len(registry))
	for _, cfg := range registry {
		result = append(result, cfg)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Names returns all registered entity names, sorted.
func Names() []string {
	cfgs := All()
	names := make([]string, len(cfgs))
	for i, cfg := range cfgs {
		names[i] = cfg.Name
	}
	return names
}

// EntityCount returns the number of registered entities.
func EntityCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered entities.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*EntityConfig)
}
