package vcs

import (
	"fmt"
)

// Open returns a connector for the working copy containing path,
// detecting the backend type.
func Open(path string, opts Options) (Connector, error) {
	result, err := DetectWithAvailability(path)
	if err != nil {
		return nil, err
	}
	return Create(result.Type, result.Root, opts)
}

// OpenType returns a connector of an explicit type. An empty type or
// "auto" falls back to detection.
func OpenType(t Type, path string, opts Options) (Connector, error) {
	if t == "" || t == "auto" {
		return Open(path, opts)
	}
	if !IsRegistered(t) {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrUnknownBackend, t, RegisteredTypes())
	}
	result, err := Detect(path)
	if err != nil {
		return nil, err
	}
	return Create(t, result.Root, opts)
}

// Create builds a connector of type t rooted at root using the registry.
// Implementations must register themselves via Register() in their init() functions.
func Create(t Type, root string, opts Options) (Connector, error) {
	constructor := getConstructor(t)
	if constructor == nil {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrUnknownBackend, t, RegisteredTypes())
	}

	c, err := constructor(root, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s connector: %w", t, err)
	}

	return c, nil
}
