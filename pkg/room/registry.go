package room

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Platform)
)

// Register makes a Platform available under name. Platform integrations call
// Register from an init function, the same way database drivers do. Register
// panics on a duplicate or empty name so misconfiguration surfaces at start.
func Register(name string, p Platform) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || p == nil {
		panic("room: Register with empty name or nil platform")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("room: Register called twice for platform %q", name))
	}
	registry[name] = p
}

// Open returns the registered Platform with the given name.
func Open(name string) (Platform, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("room: unknown platform %q (registered: %v)", name, platformNames())
	}
	return p, nil
}

// Platforms lists the registered platform names in sorted order.
func Platforms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return platformNames()
}

// platformNames requires registryMu to be held.
func platformNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
