//go:build unix

package fs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"sealgate/internal/gate"
)

// storeLock is an exclusive flock held on an open lock file.
type storeLock struct {
	f *os.File
}

func (l *storeLock) Close() error {
	if l.f == nil {
		return nil
	}
	unlockErr := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	return errors.Join(unlockErr, closeErr)
}

// Lock takes an exclusive, non-blocking advisory lock on path, creating the
// file and its directory if needed. If another process holds the lock the
// returned error wraps gate.ErrLockHeld. The lock file is left in place
// after Close; it holds no data.
func (m *OSFilesystemManager) Lock(path string) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, storeFileMode)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, gate.ErrLockHeld)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	return &storeLock{f: f}, nil
}

// LockHeld reports whether another process currently holds the lock on
// path. It never creates the lock file.
func (m *OSFilesystemManager) LockHeld(path string) (bool, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("testing lock %s: %w", path, err)
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}
