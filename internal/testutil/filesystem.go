package testutil

import (
	"sealgate/internal/fs"
	"sealgate/internal/gate"
)

// FaultyFilesystemManager wraps the real filesystem and fails selected
// operations. A nil error field means the operation passes through.
type FaultyFilesystemManager struct {
	*fs.OSFilesystemManager

	CreateExclusiveErr error
	ReplaceAtomicErr   error
	SecureEraseErr     error

	// Calls counts operations by name.
	Calls map[string]int
}

var _ gate.FilesystemManager = (*FaultyFilesystemManager)(nil)

// NewFaultyFilesystemManager creates a pass-through FaultyFilesystemManager.
func NewFaultyFilesystemManager() *FaultyFilesystemManager {
	return &FaultyFilesystemManager{
		OSFilesystemManager: fs.NewOSFilesystemManager(),
		Calls:               make(map[string]int),
	}
}

func (m *FaultyFilesystemManager) CreateExclusive(path string, data []byte) error {
	m.Calls["CreateExclusive"]++
	if m.CreateExclusiveErr != nil {
		return m.CreateExclusiveErr
	}
	return m.OSFilesystemManager.CreateExclusive(path, data)
}

func (m *FaultyFilesystemManager) ReplaceAtomic(path string, data []byte) error {
	m.Calls["ReplaceAtomic"]++
	if m.ReplaceAtomicErr != nil {
		return m.ReplaceAtomicErr
	}
	return m.OSFilesystemManager.ReplaceAtomic(path, data)
}

func (m *FaultyFilesystemManager) SecureErase(path string) error {
	m.Calls["SecureErase"]++
	if m.SecureEraseErr != nil {
		return m.SecureEraseErr
	}
	return m.OSFilesystemManager.SecureErase(path)
}
