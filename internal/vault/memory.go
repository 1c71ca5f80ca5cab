package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"sealgate/internal/gate"
)

// MemoryVault is an in-memory implementation of gate.Vault, useful for
// testing. This implementation is safe for concurrent use.
type MemoryVault struct {
	name     string
	sealed   map[string][]byte
	versions map[string]int64
	mu       sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		sealed:   make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

// PutSealed stores a sealed store under name.
func (m *MemoryVault) PutSealed(ctx context.Context, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read sealed store: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sealed[name] = data
	m.versions[name] = version
	return nil
}

// GetSealed retrieves a sealed store by name.
func (m *MemoryVault) GetSealed(ctx context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.sealed[name]
	if !ok {
		return fmt.Errorf("sealed store not found: %s", name)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write sealed store: %w", err)
	}
	return nil
}

// SealedVersion returns the version stored for name, or 0.
func (m *MemoryVault) SealedVersion(ctx context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.versions[name], nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

var _ gate.Vault = (*MemoryVault)(nil)
