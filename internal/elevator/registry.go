package elevator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownElevator is returned by New for names nothing registered
	ErrUnknownElevator = errors.New("unknown elevator")

	// ErrAlreadyRegistered is returned by Register for duplicate names
	ErrAlreadyRegistered = errors.New("elevator already registered")
)

// Constructor builds a fresh elevator instance for one device queue.
// A failed construction leaves no state behind.
type Constructor func() (Elevator, error)

var (
	// mu guards registry
	mu       sync.RWMutex
	registry = make(map[string]Constructor)
)

// Register adds a constructor under name
func Register(name string, ctor Constructor) error {
	if name == "" || ctor == nil {
		return fmt.Errorf("register elevator %q: empty name or nil constructor", name)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[name]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	registry[name] = ctor
	return nil
}

// MustRegister is Register for init() functions; it panics on error
func MustRegister(name string, ctor Constructor) {
	if err := Register(name, ctor); err != nil {
		panic(err)
	}
}

// Unregister removes name. It reports whether name was registered.
func Unregister(name string) bool {
	mu.Lock()
	defer mu.Unlock()
	_, ok := registry[name]
	delete(registry, name)
	return ok
}

// New constructs the elevator registered under name
func New(name string) (Elevator, error) {
	mu.RLock()
	ctor, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownElevator, name)
	}
	return ctor()
}

// Names returns the registered names in sorted order
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
