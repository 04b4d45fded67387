package ocr

import (
	"fmt"
	"sort"
	"sync"
)

// Settings carries provider-specific configuration as flat key/value pairs so
// engines can be constructed by name from a config file without the registry
// knowing any provider's option surface.
type Settings map[string]string

// Get returns the value for key, or def when the key is absent or blank.
func (s Settings) Get(key, def string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return def
}

// Factory constructs an engine from provider settings.
type Factory func(Settings) (Engine, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an engine constructor available under name. Provider
// packages call Register from init so importing a provider is all it takes to
// make it selectable by config.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New constructs the named engine with the given settings.
func New(name string, cfg Settings) (Engine, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ocr: unknown engine %q (registered: %v)", name, Engines())
	}
	eng, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("ocr: build engine %s: %w", name, err)
	}
	return eng, nil
}

// Engines returns the registered engine names in sorted order.
func Engines() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
