package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sealgate/internal/gate"
)

// storeFileMode is used for every store artifact this package creates.
const storeFileMode = 0600

// OSFilesystemManager is the real filesystem implementation of
// gate.FilesystemManager. It performs actual filesystem operations using the
// os package.
type OSFilesystemManager struct{}

var _ gate.FilesystemManager = (*OSFilesystemManager)(nil)

// NewOSFilesystemManager creates a new filesystem manager that operates on the real filesystem.
func NewOSFilesystemManager() *OSFilesystemManager {
	return &OSFilesystemManager{}
}

// Exists reports whether path exists. Any error other than "not exist" is
// returned so callers fail closed instead of treating it as absent.
func (m *OSFilesystemManager) Exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

// ReadFile reads the whole file at path.
func (m *OSFilesystemManager) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// CreateExclusive creates path with data and fails if it already exists.
// The file is synced before CreateExclusive returns.
func (m *OSFilesystemManager) CreateExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, storeFileMode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	return nil
}

// ReplaceAtomic writes data to path using atomic write (temp file + rename).
// Readers see either the old content or the new content, never a partial
// file, and a failure leaves the old content in place.
func (m *OSFilesystemManager) ReplaceAtomic(path string, data []byte) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(storeFileMode); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to set temp file mode: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true

	return syncDir(dir)
}

// SecureErase overwrites path with zeros and removes it. A missing path is
// not an error.
func (m *OSFilesystemManager) SecureErase(path string) error {
	return SecureErase(path)
}

// syncDir flushes a directory so a rename or unlink inside it is durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing directory %s: %w", dir, err)
	}
	return nil
}
