package vcs

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
)

// mockConnector is a Connector that does nothing
type mockConnector struct {
	name Type
	root string
}

func (m *mockConnector) Name() Type   { return m.name }
func (m *mockConnector) Root() string { return m.root }
func (m *mockConnector) Status(ctx context.Context, path string, depth Depth) ([]EntryStatus, error) {
	return nil, nil
}
func (m *mockConnector) Revert(ctx context.Context, path string, recursive bool, notify NotifyFunc) error {
	return nil
}
func (m *mockConnector) Update(ctx context.Context, paths []string, rev Revision, opts UpdateOptions, notify NotifyFunc) (Revision, error) {
	return rev, nil
}
func (m *mockConnector) Commit(ctx context.Context, paths []string, message string, opts CommitOptions, notify NotifyFunc) (CommitResult, error) {
	return CommitResult{}, nil
}
func (m *mockConnector) Delete(ctx context.Context, path string, notify NotifyFunc) error {
	return nil
}
func (m *mockConnector) MergeStatus(ctx context.Context, req MergeRequest, path string, opts MergeOptions, emit func(MergeStatus)) error {
	return nil
}
func (m *mockConnector) Merge(ctx context.Context, req MergeRequest, path string, opts MergeOptions, notify NotifyFunc) error {
	return nil
}
func (m *mockConnector) GetProperties(ctx context.Context, path string) ([]Property, error) {
	return nil, ErrNotSupported
}
func (m *mockConnector) SetProperty(ctx context.Context, path, name string, value []byte) error {
	return ErrNotSupported
}
func (m *mockConnector) RemoveProperty(ctx context.Context, path, name string) error {
	return ErrNotSupported
}
func (m *mockConnector) Cat(ctx context.Context, ref EntryRef) (io.ReadCloser, error) {
	return nil, ErrPathNotFound
}

// newMockConnector returns a constructor for mock connectors
func newMockConnector(name Type) ConnectorConstructor {
	return func(root string, opts Options) (Connector, error) {
		return &mockConnector{name: name, root: root}, nil
	}
}

// testTypeCounter generates unique test type names
var testTypeCounter int64

func uniqueTestType(prefix string) Type {
	n := atomic.AddInt64(&testTypeCounter, 1)
	return Type(fmt.Sprintf("%s-%d", prefix, n))
}

func TestRegister(t *testing.T) {
	typeName := uniqueTestType("register-test")

	Register(typeName, newMockConnector(typeName))

	if !IsRegistered(typeName) {
		t.Error("Expected type to be registered")
	}

	constructor := getConstructor(typeName)
	if constructor == nil {
		t.Fatal("Expected to get constructor for registered type")
	}

	c, err := constructor("/test/repo", Options{})
	if err != nil {
		t.Fatalf("Constructor failed: %v", err)
	}

	if c.Name() != typeName {
		t.Errorf("Expected connector name '%s', got '%s'", typeName, c.Name())
	}
	if c.Root() != "/test/repo" {
		t.Errorf("Expected root '/test/repo', got '%s'", c.Root())
	}
}

func TestRegisterPanicsOnNil(t *testing.T) {
	typeName := uniqueTestType("nil-test")

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic when registering nil constructor")
		}
	}()

	Register(typeName, nil)
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	typeName := uniqueTestType("dup-test")

	Register(typeName, newMockConnector(typeName))

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic when registering duplicate type")
		}
	}()

	Register(typeName, newMockConnector(typeName))
}

func TestIsRegistered(t *testing.T) {
	typeName := uniqueTestType("isreg-test")
	unknownType := uniqueTestType("unknown-test")

	if IsRegistered(typeName) {
		t.Error("Expected type to not be registered initially")
	}

	Register(typeName, newMockConnector(typeName))

	if !IsRegistered(typeName) {
		t.Error("Expected type to be registered after Register()")
	}

	if IsRegistered(unknownType) {
		t.Error("Expected unknown type to not be registered")
	}
}

func TestRegisteredTypesSorted(t *testing.T) {
	a := uniqueTestType("sorted-b")
	b := uniqueTestType("sorted-a")
	Register(a, newMockConnector(a))
	Register(b, newMockConnector(b))

	types := RegisteredTypes()
	for i := 1; i < len(types); i++ {
		if types[i-1] > types[i] {
			t.Fatalf("RegisteredTypes() not sorted: %v", types)
		}
	}
}

func TestCreateUnknownType(t *testing.T) {
	_, err := Create(uniqueTestType("missing"), "/tmp", Options{})
	if err == nil {
		t.Fatal("Expected error for unregistered type")
	}
}

func TestCreateRegisteredType(t *testing.T) {
	typeName := uniqueTestType("create-test")
	Register(typeName, newMockConnector(typeName))

	c, err := Create(typeName, "/work", Options{})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if c.Root() != "/work" {
		t.Errorf("Root() = %q, want /work", c.Root())
	}
}

// TestConcurrentRegistration verifies thread-safety of registration
func TestConcurrentRegistration(t *testing.T) {
	done := make(chan bool)
	basePrefix := uniqueTestType("concurrent")

	for i := 0; i < 10; i++ {
		go func(n int) {
			defer func() { done <- true }()

			typeName := Type(fmt.Sprintf("%s-%d", basePrefix, n))
			Register(typeName, newMockConnector(typeName))

			_ = IsRegistered(typeName)
			_ = RegisteredTypes()
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
