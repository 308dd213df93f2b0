package vcs

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Options configures a connector at construction time
type Options struct {
	// Timeout bounds each backend command; zero means no timeout
	Timeout time.Duration

	// Push sends commits to the remote (git only)
	Push bool

	// Logger receives debug output of backend commands
	Logger *slog.Logger
}

// ConnectorConstructor creates a Connector for a given working copy root.
// Implementations register themselves with the registry using Register().
type ConnectorConstructor func(root string, opts Options) (Connector, error)

// registry maps backend types to their constructors
var (
	registry      = make(map[Type]ConnectorConstructor)
	registryMutex sync.RWMutex
)

// Register registers a connector constructor.
// This is called from init() functions in implementation packages.
//
// Example:
//
//	func init() {
//	    vcs.Register(vcs.TypeGit, func(root string, opts vcs.Options) (vcs.Connector, error) {
//	        return New(root, opts)
//	    })
//	}
func Register(t Type, constructor ConnectorConstructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("vcs: Register constructor is nil for type %s", t))
	}

	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("vcs: Register called twice for type %s", t))
	}

	registry[t] = constructor
}

// getConstructor retrieves the constructor for a backend type.
// Returns nil if the type is not registered.
func getConstructor(t Type) ConnectorConstructor {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	return registry[t]
}

// IsRegistered returns true if a constructor is registered for the given type.
func IsRegistered(t Type) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[t]
	return exists
}

// RegisteredTypes returns all registered backend types, sorted.
func RegisteredTypes() []Type {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
