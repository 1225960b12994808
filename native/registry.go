// registry.go - Registrierung nativer Implementierungen
// Enthaelt: Register(), Open(), Names(), Default()

package native

import (
	"fmt"
	"slices"
	"sync"
)

var (
	mu        sync.RWMutex
	factories = make(map[string]func() (API, error))
)

// preferred ist die Reihenfolge fuer Default()
var preferred = []string{"tensorflow", "reference"}

// Register registriert eine Implementierung unter einem Namen.
// Doppelte Registrierung ist ein Programmierfehler.
func Register(name string, f func() (API, error)) {
	mu.Lock()
	defer mu.Unlock()

	if _, ok := factories[name]; ok {
		panic("native: runtime already registered: " + name)
	}

	factories[name] = f
}

// Open oeffnet die Implementierung mit dem gegebenen Namen
func Open(name string) (API, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("native: unknown runtime %q (registered: %v)", name, Names())
	}

	return f()
}

// Names gibt alle registrierten Namen sortiert zurueck
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Default waehlt die bevorzugte registrierte Implementierung
func Default() string {
	mu.RLock()
	defer mu.RUnlock()

	for _, name := range preferred {
		if _, ok := factories[name]; ok {
			return name
		}
	}

	return ""
}
